package fanout

import (
	"encoding/xml"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/cloudfleet/emulator/cmn"
)

// serveSNS dispatches a form-encoded Query-protocol request by its Action
// field (spec.md §6's "form-encoded body with Action=..." family).
func (p *TopicProvider) serveSNS(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeSNSError(w, "InvalidParameter", err.Error(), http.StatusBadRequest)
		return
	}
	switch r.Form.Get("Action") {
	case "CreateTopic":
		p.handleCreateTopic(w, r)
	case "DeleteTopic":
		p.handleDeleteTopic(w, r)
	case "ListTopics":
		p.handleListTopics(w, r)
	case "Subscribe":
		p.handleSubscribe(w, r)
	case "Unsubscribe":
		p.handleUnsubscribe(w, r)
	case "Publish":
		p.handlePublish(w, r)
	default:
		writeSNSError(w, "InvalidAction", "unknown action "+r.Form.Get("Action"), http.StatusBadRequest)
	}
}

func writeSNSError(w http.ResponseWriter, code, msg string, status int) {
	fe := cmn.NewXMLError(code, msg, status, uuid.NewString())
	contentType, body := fe.Render()
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(fe.StatusCode())
	w.Write(body)
}

func writeSNSResult(w http.ResponseWriter, v interface{}) {
	body, err := xml.Marshal(v)
	if err != nil {
		writeSNSError(w, "InternalError", err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/xml")
	w.Write(append([]byte(xml.Header), body...))
}

type responseMetadata struct {
	RequestID string `xml:"RequestId"`
}

type createTopicResponse struct {
	XMLName xml.Name `xml:"CreateTopicResponse"`
	Result  struct {
		TopicArn string `xml:"TopicArn"`
	} `xml:"CreateTopicResult"`
	Metadata responseMetadata `xml:"ResponseMetadata"`
}

func (p *TopicProvider) handleCreateTopic(w http.ResponseWriter, r *http.Request) {
	t := p.Engine.CreateTopic(r.Form.Get("Name"))
	resp := createTopicResponse{Metadata: responseMetadata{RequestID: uuid.NewString()}}
	resp.Result.TopicArn = t.ARN
	writeSNSResult(w, resp)
}

type emptyActionResponse struct {
	XMLName  xml.Name
	Metadata responseMetadata `xml:"ResponseMetadata"`
}

func (p *TopicProvider) handleDeleteTopic(w http.ResponseWriter, r *http.Request) {
	p.Engine.DeleteTopic(r.Form.Get("TopicArn"))
	writeSNSResult(w, emptyActionResponse{XMLName: xml.Name{Local: "DeleteTopicResponse"}, Metadata: responseMetadata{RequestID: uuid.NewString()}})
}

type topicMember struct {
	TopicArn string `xml:"TopicArn"`
}

type listTopicsResponse struct {
	XMLName xml.Name `xml:"ListTopicsResponse"`
	Result  struct {
		Topics struct {
			Member []topicMember `xml:"member"`
		} `xml:"Topics"`
	} `xml:"ListTopicsResult"`
	Metadata responseMetadata `xml:"ResponseMetadata"`
}

func (p *TopicProvider) handleListTopics(w http.ResponseWriter, r *http.Request) {
	resp := listTopicsResponse{Metadata: responseMetadata{RequestID: uuid.NewString()}}
	for _, t := range p.Engine.ListTopics() {
		resp.Result.Topics.Member = append(resp.Result.Topics.Member, topicMember{TopicArn: t.ARN})
	}
	writeSNSResult(w, resp)
}

type subscribeResponse struct {
	XMLName xml.Name `xml:"SubscribeResponse"`
	Result  struct {
		SubscriptionArn string `xml:"SubscriptionArn"`
	} `xml:"SubscribeResult"`
	Metadata responseMetadata `xml:"ResponseMetadata"`
}

func (p *TopicProvider) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	policy, err := parseFilterPolicyForm(r.Form.Get("FilterPolicy"))
	if err != nil {
		writeSNSError(w, "InvalidParameter", err.Error(), http.StatusBadRequest)
		return
	}
	raw := parseSubscriptionAttributeForm(r.Form, "RawMessageDelivery") == "true"
	sub, err := p.Engine.Subscribe(r.Form.Get("TopicArn"), r.Form.Get("Protocol"), r.Form.Get("Endpoint"), policy, raw)
	if err != nil {
		writeSNSError(w, "NotFound", err.Error(), http.StatusBadRequest)
		return
	}
	resp := subscribeResponse{Metadata: responseMetadata{RequestID: uuid.NewString()}}
	resp.Result.SubscriptionArn = sub.ID
	writeSNSResult(w, resp)
}

func (p *TopicProvider) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	p.Engine.Unsubscribe(r.Form.Get("SubscriptionArn"))
	writeSNSResult(w, emptyActionResponse{XMLName: xml.Name{Local: "UnsubscribeResponse"}, Metadata: responseMetadata{RequestID: uuid.NewString()}})
}

type publishResponse struct {
	XMLName xml.Name `xml:"PublishResponse"`
	Result  struct {
		MessageID string `xml:"MessageId"`
	} `xml:"PublishResult"`
	Metadata responseMetadata `xml:"ResponseMetadata"`
}

func (p *TopicProvider) handlePublish(w http.ResponseWriter, r *http.Request) {
	messageID := uuid.NewString()
	attrs := parseMessageAttributesForm(r.Form)
	if err := p.Engine.Publish(r.Form.Get("TopicArn"), messageID, r.Form.Get("Message"), attrs, time.Now().UTC().Format(time.RFC3339)); err != nil {
		writeSNSError(w, "NotFound", err.Error(), http.StatusBadRequest)
		return
	}
	resp := publishResponse{Metadata: responseMetadata{RequestID: messageID}}
	resp.Result.MessageID = messageID
	writeSNSResult(w, resp)
}
