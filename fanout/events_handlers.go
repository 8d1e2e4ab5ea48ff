package fanout

import (
	"io"
	"net/http"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/cloudfleet/emulator/cmn"
)

var wireJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// serveEvents dispatches a JSON-1.1 request by its X-Amz-Target operation
// suffix, the EventBridge-shaped half of the engine (spec.md §6).
func (p *RuleProvider) serveEvents(w http.ResponseWriter, r *http.Request) {
	target := r.Header.Get(cmn.HeaderAmzTarget)
	op := target
	if idx := strings.LastIndex(target, "."); idx >= 0 {
		op = target[idx+1:]
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeEventsError(w, "SerializationException", err.Error(), http.StatusBadRequest)
		return
	}
	switch op {
	case "PutRule":
		p.handlePutRule(w, body)
	case "DeleteRule":
		p.handleDeleteRule(w, body)
	case "ListRules":
		p.handleListRules(w, body)
	case "PutTargets":
		p.handlePutTargets(w, body)
	case "RemoveTargets":
		p.handleRemoveTargets(w, body)
	case "PutEvents":
		p.handlePutEvents(w, body)
	default:
		writeEventsError(w, "UnknownOperationException", "unknown operation "+op, http.StatusBadRequest)
	}
}

func writeEventsError(w http.ResponseWriter, typ, msg string, status int) {
	fe := cmn.NewJSONError(typ, msg, status)
	contentType, body := fe.Render()
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(fe.StatusCode())
	w.Write(body)
}

func writeEventsJSON(w http.ResponseWriter, status int, v interface{}) {
	body, err := wireJSON.Marshal(v)
	if err != nil {
		writeEventsError(w, "InternalFailure", err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/x-amz-json-1.1")
	w.WriteHeader(status)
	w.Write(body)
}

func writeEventsEngineError(w http.ResponseWriter, err error) {
	switch e := err.(type) {
	case *cmn.NotFoundError:
		writeEventsError(w, "ResourceNotFoundException", e.Error(), http.StatusBadRequest)
	case *cmn.ValidationError:
		writeEventsError(w, "ValidationException", e.Error(), http.StatusBadRequest)
	default:
		writeEventsError(w, "InternalFailure", e.Error(), http.StatusInternalServerError)
	}
}

type putRuleReq struct {
	Name               string                 `json:"Name"`
	EventPattern       string                 `json:"EventPattern,omitempty"`
	ScheduleExpression string                 `json:"ScheduleExpression,omitempty"`
}

func (p *RuleProvider) handlePutRule(w http.ResponseWriter, body []byte) {
	var req putRuleReq
	if err := wireJSON.Unmarshal(body, &req); err != nil {
		writeEventsError(w, "SerializationException", err.Error(), http.StatusBadRequest)
		return
	}
	var pattern map[string]interface{}
	if req.EventPattern != "" {
		if err := wireJSON.UnmarshalFromString(req.EventPattern, &pattern); err != nil {
			writeEventsError(w, "ValidationException", "invalid EventPattern: "+err.Error(), http.StatusBadRequest)
			return
		}
	}
	r := p.Engine.PutRule(req.Name, pattern, req.ScheduleExpression)
	writeEventsJSON(w, http.StatusOK, struct {
		RuleArn string `json:"RuleArn"`
	}{r.ARN})
}

func (p *RuleProvider) handleDeleteRule(w http.ResponseWriter, body []byte) {
	var req struct {
		Name string `json:"Name"`
	}
	if err := wireJSON.Unmarshal(body, &req); err != nil {
		writeEventsError(w, "SerializationException", err.Error(), http.StatusBadRequest)
		return
	}
	p.Engine.DeleteRule(ruleARN(p.Engine.region, req.Name))
	writeEventsJSON(w, http.StatusOK, struct{}{})
}

func (p *RuleProvider) handleListRules(w http.ResponseWriter, _ []byte) {
	type ruleDesc struct {
		Name               string `json:"Name"`
		Arn                string `json:"Arn"`
		ScheduleExpression string `json:"ScheduleExpression,omitempty"`
	}
	var out []ruleDesc
	for _, r := range p.Engine.ListRules() {
		out = append(out, ruleDesc{Name: r.Name, Arn: r.ARN, ScheduleExpression: r.ScheduleExpression})
	}
	writeEventsJSON(w, http.StatusOK, struct {
		Rules []ruleDesc `json:"Rules"`
	}{out})
}

type targetReq struct {
	ID               string `json:"Id"`
	Arn              string `json:"Arn"`
	InputPath        string `json:"InputPath,omitempty"`
	InputTransformer *struct {
		InputPathsMap map[string]string `json:"InputPathsMap,omitempty"`
		InputTemplate string            `json:"InputTemplate"`
	} `json:"InputTransformer,omitempty"`
}

func (p *RuleProvider) handlePutTargets(w http.ResponseWriter, body []byte) {
	var req struct {
		Rule    string      `json:"Rule"`
		Targets []targetReq `json:"Targets"`
	}
	if err := wireJSON.Unmarshal(body, &req); err != nil {
		writeEventsError(w, "SerializationException", err.Error(), http.StatusBadRequest)
		return
	}
	targets := make([]Target, len(req.Targets))
	for i, t := range req.Targets {
		targets[i] = Target{ID: t.ID, ARN: t.Arn, InputPath: t.InputPath}
		if t.InputTransformer != nil {
			targets[i].InputTransformer = &InputTransformer{
				InputPathsMap: t.InputTransformer.InputPathsMap,
				InputTemplate: t.InputTransformer.InputTemplate,
			}
		}
	}
	if err := p.Engine.PutTargets(ruleARN(p.Engine.region, req.Rule), targets); err != nil {
		writeEventsEngineError(w, err)
		return
	}
	writeEventsJSON(w, http.StatusOK, struct {
		FailedEntryCount int `json:"FailedEntryCount"`
	}{0})
}

func (p *RuleProvider) handleRemoveTargets(w http.ResponseWriter, body []byte) {
	var req struct {
		Rule string   `json:"Rule"`
		Ids  []string `json:"Ids"`
	}
	if err := wireJSON.Unmarshal(body, &req); err != nil {
		writeEventsError(w, "SerializationException", err.Error(), http.StatusBadRequest)
		return
	}
	if err := p.Engine.RemoveTargets(ruleARN(p.Engine.region, req.Rule), req.Ids); err != nil {
		writeEventsEngineError(w, err)
		return
	}
	writeEventsJSON(w, http.StatusOK, struct {
		FailedEntryCount int `json:"FailedEntryCount"`
	}{0})
}

func (p *RuleProvider) handlePutEvents(w http.ResponseWriter, body []byte) {
	var req struct {
		Entries []struct {
			Source     string `json:"Source"`
			DetailType string `json:"DetailType"`
			Detail     string `json:"Detail"`
			Resources  []string `json:"Resources,omitempty"`
		} `json:"Entries"`
	}
	if err := wireJSON.Unmarshal(body, &req); err != nil {
		writeEventsError(w, "SerializationException", err.Error(), http.StatusBadRequest)
		return
	}
	for _, entry := range req.Entries {
		var detail map[string]interface{}
		if entry.Detail != "" {
			_ = wireJSON.UnmarshalFromString(entry.Detail, &detail)
		}
		resources := make([]interface{}, len(entry.Resources))
		for i, r := range entry.Resources {
			resources[i] = r
		}
		event := map[string]interface{}{
			"source":      entry.Source,
			"detail-type": entry.DetailType,
			"resources":   resources,
			"detail":      detail,
		}
		p.Engine.PutEvents(event)
	}
	writeEventsJSON(w, http.StatusOK, struct {
		FailedEntryCount int           `json:"FailedEntryCount"`
		Entries          []interface{} `json:"Entries"`
	}{0, make([]interface{}, len(req.Entries))})
}
