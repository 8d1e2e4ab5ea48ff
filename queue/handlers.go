package queue

import (
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/cloudfleet/emulator/cmn"
)

var wireJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// serveJSON dispatches by X-Amz-Target operation suffix, the modern
// JSON-1.1 queue protocol (spec.md §6); the legacy form-encoded Query
// protocol ("SQS legacy" in the same table) is not implemented — every
// SDK this emulator targets defaults to JSON.
func (p *Provider) serveJSON(w http.ResponseWriter, r *http.Request) {
	target := r.Header.Get(cmn.HeaderAmzTarget)
	op := target
	if idx := strings.LastIndex(target, "."); idx >= 0 {
		op = target[idx+1:]
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSONError(w, "SerializationException", err.Error(), http.StatusBadRequest)
		return
	}
	switch op {
	case "CreateQueue":
		p.handleCreateQueue(w, body)
	case "DeleteQueue":
		p.handleDeleteQueue(w, body)
	case "SendMessage":
		p.handleSendMessage(w, body)
	case "ReceiveMessage":
		p.handleReceiveMessage(w, body)
	case "DeleteMessage":
		p.handleDeleteMessage(w, body)
	case "DeleteMessageBatch":
		p.handleDeleteMessageBatch(w, body)
	case "ChangeMessageVisibility":
		p.handleChangeMessageVisibility(w, body)
	default:
		writeJSONError(w, "UnknownOperationException", "unknown operation "+op, http.StatusBadRequest)
	}
}

func writeJSONError(w http.ResponseWriter, typ, msg string, status int) {
	fe := cmn.NewJSONError(typ, msg, status)
	contentType, body := fe.Render()
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(fe.StatusCode())
	w.Write(body)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	body, err := wireJSON.Marshal(v)
	if err != nil {
		writeJSONError(w, "InternalFailure", err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/x-amz-json-1.1")
	w.WriteHeader(status)
	w.Write(body)
}

func writeEngineError(w http.ResponseWriter, err error) {
	switch e := err.(type) {
	case *cmn.NotFoundError:
		writeJSONError(w, "QueueDoesNotExist", e.Error(), http.StatusBadRequest)
	case *cmn.ValidationError:
		writeJSONError(w, "ValidationException", e.Error(), http.StatusBadRequest)
	default:
		writeJSONError(w, "InternalFailure", e.Error(), http.StatusInternalServerError)
	}
}

type queueAttributesReq struct {
	VisibilityTimeout string `json:"VisibilityTimeout,omitempty"`
	FifoQueue         string `json:"FifoQueue,omitempty"`
	RedrivePolicy     string `json:"RedrivePolicy,omitempty"`
}

func (p *Provider) handleCreateQueue(w http.ResponseWriter, body []byte) {
	var req struct {
		QueueName  string              `json:"QueueName"`
		Attributes queueAttributesReq  `json:"Attributes,omitempty"`
	}
	if err := wireJSON.Unmarshal(body, &req); err != nil {
		writeJSONError(w, "SerializationException", err.Error(), http.StatusBadRequest)
		return
	}
	visibility := defaultVisibilityTimeout
	if req.Attributes.VisibilityTimeout != "" {
		if secs, err := time.ParseDuration(req.Attributes.VisibilityTimeout + "s"); err == nil {
			visibility = secs
		}
	}
	maxReceive, dlqARN := parseRedrivePolicy(req.Attributes.RedrivePolicy)
	cfg := p.Engine.CreateQueue(req.QueueName, req.Attributes.FifoQueue == "true", visibility, maxReceive, dlqARN)
	writeJSON(w, http.StatusOK, struct {
		QueueUrl string `json:"QueueUrl"`
	}{cfg.ARN})
}

func (p *Provider) handleDeleteQueue(w http.ResponseWriter, body []byte) {
	var req struct {
		QueueUrl string `json:"QueueUrl"`
	}
	if err := wireJSON.Unmarshal(body, &req); err != nil {
		writeJSONError(w, "SerializationException", err.Error(), http.StatusBadRequest)
		return
	}
	p.Engine.DeleteQueue(req.QueueUrl)
	writeJSON(w, http.StatusOK, struct{}{})
}

type messageAttributeValueReq struct {
	DataType    string `json:"DataType"`
	StringValue string `json:"StringValue"`
}

func (p *Provider) handleSendMessage(w http.ResponseWriter, body []byte) {
	var req struct {
		QueueUrl               string                              `json:"QueueUrl"`
		MessageBody             string                              `json:"MessageBody"`
		DelaySeconds            int                                 `json:"DelaySeconds,omitempty"`
		MessageAttributes       map[string]messageAttributeValueReq `json:"MessageAttributes,omitempty"`
		MessageGroupId          string                              `json:"MessageGroupId,omitempty"`
		MessageDeduplicationId  string                              `json:"MessageDeduplicationId,omitempty"`
	}
	if err := wireJSON.Unmarshal(body, &req); err != nil {
		writeJSONError(w, "SerializationException", err.Error(), http.StatusBadRequest)
		return
	}
	attrs := make(map[string]MessageAttribute, len(req.MessageAttributes))
	for name, v := range req.MessageAttributes {
		attrs[name] = MessageAttribute{DataType: v.DataType, Value: v.StringValue}
	}
	id, err := p.Engine.SendMessage(req.QueueUrl, req.MessageBody, attrs, time.Duration(req.DelaySeconds)*time.Second, req.MessageGroupId, req.MessageDeduplicationId)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		MessageId string `json:"MessageId"`
	}{id})
}

func (p *Provider) handleReceiveMessage(w http.ResponseWriter, body []byte) {
	var req struct {
		QueueUrl            string `json:"QueueUrl"`
		MaxNumberOfMessages int    `json:"MaxNumberOfMessages,omitempty"`
	}
	if err := wireJSON.Unmarshal(body, &req); err != nil {
		writeJSONError(w, "SerializationException", err.Error(), http.StatusBadRequest)
		return
	}
	max := req.MaxNumberOfMessages
	if max <= 0 {
		max = 1
	}
	msgs, err := p.Engine.ReceiveMessage(req.QueueUrl, max)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	type msgOut struct {
		MessageId              string                       `json:"MessageId"`
		ReceiptHandle          string                       `json:"ReceiptHandle"`
		Body                   string                       `json:"Body"`
		MessageAttributes      map[string]messageAttributeValueReq `json:"MessageAttributes,omitempty"`
		Attributes             map[string]string            `json:"Attributes,omitempty"`
	}
	out := make([]msgOut, len(msgs))
	for i, m := range msgs {
		attrs := make(map[string]messageAttributeValueReq, len(m.Attributes))
		for name, v := range m.Attributes {
			attrs[name] = messageAttributeValueReq{DataType: v.DataType, StringValue: v.Value}
		}
		out[i] = msgOut{
			MessageId: m.MessageID, ReceiptHandle: m.ReceiptHandle, Body: m.Body,
			MessageAttributes: attrs,
			Attributes:        map[string]string{"ApproximateReceiveCount": strconv.Itoa(m.ReceiveCount)},
		}
	}
	writeJSON(w, http.StatusOK, struct {
		Messages []msgOut `json:"Messages"`
	}{out})
}

func (p *Provider) handleDeleteMessage(w http.ResponseWriter, body []byte) {
	var req struct {
		QueueUrl      string `json:"QueueUrl"`
		ReceiptHandle string `json:"ReceiptHandle"`
	}
	if err := wireJSON.Unmarshal(body, &req); err != nil {
		writeJSONError(w, "SerializationException", err.Error(), http.StatusBadRequest)
		return
	}
	if err := p.Engine.DeleteMessage(req.QueueUrl, req.ReceiptHandle); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

func (p *Provider) handleDeleteMessageBatch(w http.ResponseWriter, body []byte) {
	var req struct {
		QueueUrl string `json:"QueueUrl"`
		Entries  []struct {
			Id            string `json:"Id"`
			ReceiptHandle string `json:"ReceiptHandle"`
		} `json:"Entries"`
	}
	if err := wireJSON.Unmarshal(body, &req); err != nil {
		writeJSONError(w, "SerializationException", err.Error(), http.StatusBadRequest)
		return
	}
	byHandle := make(map[string]string, len(req.Entries))
	handles := make([]string, len(req.Entries))
	for i, e := range req.Entries {
		handles[i] = e.ReceiptHandle
		byHandle[e.ReceiptHandle] = e.Id
	}
	failed := p.Engine.DeleteMessageBatch(req.QueueUrl, handles)
	failedSet := make(map[string]bool, len(failed))
	for _, h := range failed {
		failedSet[h] = true
	}
	type result struct {
		Id string `json:"Id"`
	}
	var successful, unsuccessful []result
	for _, h := range handles {
		if failedSet[h] {
			unsuccessful = append(unsuccessful, result{byHandle[h]})
		} else {
			successful = append(successful, result{byHandle[h]})
		}
	}
	writeJSON(w, http.StatusOK, struct {
		Successful []result `json:"Successful"`
		Failed     []result `json:"Failed"`
	}{successful, unsuccessful})
}

func (p *Provider) handleChangeMessageVisibility(w http.ResponseWriter, body []byte) {
	var req struct {
		QueueUrl          string `json:"QueueUrl"`
		ReceiptHandle     string `json:"ReceiptHandle"`
		VisibilityTimeout int    `json:"VisibilityTimeout"`
	}
	if err := wireJSON.Unmarshal(body, &req); err != nil {
		writeJSONError(w, "SerializationException", err.Error(), http.StatusBadRequest)
		return
	}
	if err := p.Engine.ChangeMessageVisibility(req.QueueUrl, req.ReceiptHandle, time.Duration(req.VisibilityTimeout)*time.Second); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

