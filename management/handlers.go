package management

import (
	"io"
	"net/http"

	jsoniter "github.com/json-iterator/go"

	"github.com/cloudfleet/emulator/chaos"
)

var wireJSON = jsoniter.ConfigCompatibleWithStandardLibrary

func writeManagementJSON(w http.ResponseWriter, status int, v interface{}) {
	body, _ := wireJSON.Marshal(v)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}

func writeManagementError(w http.ResponseWriter, status int, msg string) {
	writeManagementJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(r *http.Request, v interface{}) error {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	if len(raw) == 0 {
		return nil
	}
	return wireJSON.Unmarshal(raw, v)
}

// handleChaos implements GET|POST /_ldk/chaos: GET reads every
// service's chaos config, POST merges a per-service Patch (spec.md
// §4.14: "a config patch is merged into the registry, then visible to
// the next request").
func (p *Plane) handleChaos(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeManagementJSON(w, http.StatusOK, p.Chaos.All())
	case http.MethodPost:
		var req map[string]chaos.Patch
		if err := decodeJSON(r, &req); err != nil {
			writeManagementError(w, http.StatusBadRequest, err.Error())
			return
		}
		out := make(map[string]chaos.Config, len(req))
		for service, patch := range req {
			out[service] = p.Chaos.Merge(service, patch)
		}
		writeManagementJSON(w, http.StatusOK, out)
	default:
		writeManagementError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

type iamAuthReq struct {
	Mode            *string         `json:"mode"`
	DefaultIdentity *string         `json:"default_identity"`
	Services        map[string]bool `json:"services"`
}

// handleIAMAuth implements GET|POST /_ldk/iam-auth: read/set mode +
// default identity + per-service enable (spec.md §4.14).
func (p *Plane) handleIAMAuth(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		mode, defaultID, perService := p.IAM.Get()
		writeManagementJSON(w, http.StatusOK, map[string]interface{}{
			"mode":             mode,
			"default_identity": defaultID,
			"services":         perService,
		})
	case http.MethodPost:
		var req iamAuthReq
		if err := decodeJSON(r, &req); err != nil {
			writeManagementError(w, http.StatusBadRequest, err.Error())
			return
		}
		mode, defaultID, _ := p.IAM.Get()
		if req.Mode != nil {
			mode = *req.Mode
		}
		if req.DefaultIdentity != nil {
			defaultID = *req.DefaultIdentity
		}
		p.IAM.Set(mode, defaultID)
		for service, enabled := range req.Services {
			p.IAM.SetServiceEnabled(service, enabled)
		}
		mode, defaultID, perService := p.IAM.Get()
		writeManagementJSON(w, http.StatusOK, map[string]interface{}{
			"mode":             mode,
			"default_identity": defaultID,
			"services":         perService,
		})
	default:
		writeManagementError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleReset implements POST /_ldk/reset: drops in-memory state via
// the injected Reset callback, which keeps identities/permissions
// untouched (spec.md §4.14) since it is wired only to the data-plane
// stores (kv/objectstore/queue/fanout/scheduler), never to iam.Store.
func (p *Plane) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeManagementError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	p.Reset()
	writeManagementJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}
