package compute

import (
	"io"
	"net/http"

	"github.com/cloudfleet/emulator/cmn"
)

// serveControlPlane dispatches by X-Amz-Target, the same JSON-1.1
// convention kv/handlers.go and queue/handlers.go use (spec.md §6): the
// real AWS Lambda control plane is REST+JSON over versioned paths, but
// nothing in the example pack grounds that shape, so this emulator
// folds Lambda's control plane into the same X-Amz-Target family the
// rest of its JSON-1.1 services share rather than inventing a second,
// ungrounded REST dialect.
func (p *Provider) serveControlPlane(w http.ResponseWriter, r *http.Request) {
	target := r.Header.Get(cmn.HeaderAmzTarget)
	switch operationOf(target) {
	case "CreateFunction":
		p.handleCreateFunction(w, r)
	case "Invoke":
		p.handleInvoke(w, r)
	case "UpdateFunctionCode":
		p.handleUpdateFunctionCode(w, r)
	case "UpdateFunctionConfiguration":
		p.handleUpdateFunctionConfiguration(w, r)
	case "DeleteFunction":
		p.handleDeleteFunction(w, r)
	case "GetFunction":
		p.handleGetFunction(w, r)
	case "ListFunctions":
		p.handleListFunctions(w, r)
	case "CreateFunctionUrlConfig":
		p.handleSetFunctionURLConfig(w, r)
	default:
		writeComputeError(w, "UnknownOperationException", "unrecognized operation: "+target, http.StatusBadRequest)
	}
}

func operationOf(target string) string {
	for i := len(target) - 1; i >= 0; i-- {
		if target[i] == '.' {
			return target[i+1:]
		}
	}
	return target
}

func writeComputeJSON(w http.ResponseWriter, status int, v interface{}) {
	body, _ := wireJSON.Marshal(v)
	w.Header().Set("Content-Type", "application/x-amz-json-1.1")
	w.WriteHeader(status)
	w.Write(body)
}

func writeComputeError(w http.ResponseWriter, typ, msg string, status int) {
	fe := cmn.NewJSONError(typ, msg, status)
	contentType, body := fe.Render()
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(fe.StatusCode())
	w.Write(body)
}

func writeComputeEngineError(w http.ResponseWriter, err error) {
	switch err.(type) {
	case *cmn.NotFoundError:
		writeComputeError(w, "ResourceNotFoundException", err.Error(), http.StatusNotFound)
	case *cmn.ExistsError:
		writeComputeError(w, "ResourceConflictException", err.Error(), http.StatusConflict)
	case *cmn.ValidationError:
		writeComputeError(w, "InvalidParameterValueException", err.Error(), http.StatusBadRequest)
	default:
		writeComputeError(w, "InternalServerError", err.Error(), http.StatusInternalServerError)
	}
}

func decodeBody(r *http.Request, v interface{}) error {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	if len(raw) == 0 {
		return nil
	}
	return wireJSON.Unmarshal(raw, v)
}

type createFunctionReq struct {
	FunctionName string            `json:"FunctionName"`
	Handler      string            `json:"Handler"`
	Runtime      string            `json:"Runtime"`
	Timeout      int               `json:"Timeout"`
	MemorySize   int               `json:"MemorySize"`
	Environment  struct {
		Variables map[string]string `json:"Variables"`
	} `json:"Environment"`
}

func functionConfigResponse(cfg FunctionConfig) map[string]interface{} {
	return map[string]interface{}{
		"FunctionName": cfg.Name,
		"FunctionArn":  cfg.ARN,
		"Handler":      cfg.Handler,
		"Runtime":      cfg.Runtime,
		"Timeout":      cfg.Timeout,
		"MemorySize":   cfg.MemorySize,
		"LastModified": cfg.LastUpdated.UTC().Format("2006-01-02T15:04:05.000+0000"),
		"Environment": map[string]interface{}{
			"Variables": cfg.Environment,
		},
	}
}

// handleCreateFunction registers a function against a caller-supplied
// Handler looked up in the orchestrator's local handler table (this
// emulator has no code package/zip loader; CodeBinding is how the
// orchestrator injects the in-process handler a CreateFunction call
// names by FunctionName before the request reaches this handler).
func (p *Provider) handleCreateFunction(w http.ResponseWriter, r *http.Request) {
	var req createFunctionReq
	if err := decodeBody(r, &req); err != nil {
		writeComputeError(w, "InvalidRequestContentException", err.Error(), http.StatusBadRequest)
		return
	}
	handler, ok := p.CodeBinding(req.FunctionName)
	if !ok {
		writeComputeError(w, "InvalidParameterValueException", "no code binding registered for "+req.FunctionName, http.StatusBadRequest)
		return
	}
	cfg, err := p.Registry.CreateFunction(FunctionConfig{
		Name:        req.FunctionName,
		Handler:     req.Handler,
		Runtime:     req.Runtime,
		Timeout:     req.Timeout,
		MemorySize:  req.MemorySize,
		Environment: req.Environment.Variables,
	}, handler)
	if err != nil {
		writeComputeEngineError(w, err)
		return
	}
	writeComputeJSON(w, http.StatusCreated, functionConfigResponse(cfg))
}

type invokeReq map[string]interface{}

func (p *Provider) handleInvoke(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("FunctionName")
	if name == "" {
		name = r.Header.Get("X-Lws-Function-Name")
	}
	var event invokeReq
	if err := decodeBody(r, &event); err != nil {
		writeComputeError(w, "InvalidRequestContentException", err.Error(), http.StatusBadRequest)
		return
	}
	result, err := p.Engine.Invoke(r.Context(), name, event)
	if err != nil {
		writeComputeEngineError(w, err)
		return
	}
	if result.Error != "" {
		w.Header().Set("X-Amz-Function-Error", "Unhandled")
		writeComputeJSON(w, http.StatusOK, map[string]interface{}{"errorMessage": result.Error})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if len(result.Payload) > 0 {
		w.Write(result.Payload)
	} else {
		w.Write([]byte("null"))
	}
}

type updateCodeReq struct {
	FunctionName string `json:"FunctionName"`
}

func (p *Provider) handleUpdateFunctionCode(w http.ResponseWriter, r *http.Request) {
	var req updateCodeReq
	if err := decodeBody(r, &req); err != nil {
		writeComputeError(w, "InvalidRequestContentException", err.Error(), http.StatusBadRequest)
		return
	}
	handler, ok := p.CodeBinding(req.FunctionName)
	if !ok {
		writeComputeError(w, "InvalidParameterValueException", "no code binding registered for "+req.FunctionName, http.StatusBadRequest)
		return
	}
	cfg, err := p.Registry.UpdateFunctionCode(req.FunctionName, handler)
	if err != nil {
		writeComputeEngineError(w, err)
		return
	}
	writeComputeJSON(w, http.StatusOK, functionConfigResponse(cfg))
}

type updateConfigReq struct {
	FunctionName string `json:"FunctionName"`
	Timeout      int    `json:"Timeout"`
	MemorySize   int    `json:"MemorySize"`
	Environment  struct {
		Variables map[string]string `json:"Variables"`
	} `json:"Environment"`
}

func (p *Provider) handleUpdateFunctionConfiguration(w http.ResponseWriter, r *http.Request) {
	var req updateConfigReq
	if err := decodeBody(r, &req); err != nil {
		writeComputeError(w, "InvalidRequestContentException", err.Error(), http.StatusBadRequest)
		return
	}
	cfg, err := p.Registry.UpdateFunctionConfiguration(req.FunctionName, req.Timeout, req.MemorySize, req.Environment.Variables)
	if err != nil {
		writeComputeEngineError(w, err)
		return
	}
	writeComputeJSON(w, http.StatusOK, functionConfigResponse(cfg))
}

type deleteFunctionReq struct {
	FunctionName string `json:"FunctionName"`
}

func (p *Provider) handleDeleteFunction(w http.ResponseWriter, r *http.Request) {
	var req deleteFunctionReq
	if err := decodeBody(r, &req); err != nil {
		writeComputeError(w, "InvalidRequestContentException", err.Error(), http.StatusBadRequest)
		return
	}
	if err := p.Registry.DeleteFunction(req.FunctionName); err != nil {
		writeComputeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type getFunctionReq struct {
	FunctionName string `json:"FunctionName"`
}

func (p *Provider) handleGetFunction(w http.ResponseWriter, r *http.Request) {
	var req getFunctionReq
	if err := decodeBody(r, &req); err != nil {
		writeComputeError(w, "InvalidRequestContentException", err.Error(), http.StatusBadRequest)
		return
	}
	cfg, ok := p.Registry.Get(req.FunctionName)
	if !ok {
		writeComputeError(w, "ResourceNotFoundException", "function not found: "+req.FunctionName, http.StatusNotFound)
		return
	}
	writeComputeJSON(w, http.StatusOK, map[string]interface{}{"Configuration": functionConfigResponse(cfg)})
}

func (p *Provider) handleListFunctions(w http.ResponseWriter, r *http.Request) {
	cfgs := p.Registry.List()
	out := make([]map[string]interface{}, 0, len(cfgs))
	for _, cfg := range cfgs {
		out = append(out, functionConfigResponse(cfg))
	}
	writeComputeJSON(w, http.StatusOK, map[string]interface{}{"Functions": out})
}

type setFunctionURLReq struct {
	FunctionName string `json:"FunctionName"`
	AuthType     string `json:"AuthType"`
	Enabled      bool   `json:"Enabled"`
}

func (p *Provider) handleSetFunctionURLConfig(w http.ResponseWriter, r *http.Request) {
	var req setFunctionURLReq
	if err := decodeBody(r, &req); err != nil {
		writeComputeError(w, "InvalidRequestContentException", err.Error(), http.StatusBadRequest)
		return
	}
	authType := req.AuthType
	if authType == "" {
		authType = "AWS_IAM"
	}
	cfg, err := p.Registry.SetFunctionURLConfig(req.FunctionName, true, authType)
	if err != nil {
		writeComputeEngineError(w, err)
		return
	}
	_ = req.Enabled
	writeComputeJSON(w, http.StatusCreated, map[string]interface{}{
		"FunctionArn": cfg.ARN,
		"AuthType":    cfg.AuthType,
	})
}
