// Package middleware implements the Middleware Pipeline (C4): the
// ordered mock -> chaos -> IAM -> handler chain every service HTTP app
// wraps its handler in (spec.md §4.4). It is modeled as the "Async/await
// middleware chain ... pipeline of func(next Handler) Handler decorators"
// redesign note in spec.md §9: pure functions over (Request, Snapshot)
// composed once at provider-start time, never re-composed per request.
package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cloudfleet/emulator/chaos"
	"github.com/cloudfleet/emulator/cmn"
	"github.com/cloudfleet/emulator/iam"
	"github.com/cloudfleet/emulator/mock"
)

// Extractors derive the operation name and resource id the IAM/mock
// layers need from a raw request, per service wire family (spec.md §6).
type Extractors struct {
	Operation func(r *http.Request) string
	Resource  func(r *http.Request) string
}

// IAMSetting is read fresh per request (it is itself a snapshot pointer
// published by the management plane), giving the "mode + per-service
// enable" toggle spec.md's supplemented features section describes.
type IAMSetting struct {
	Mode            string // disabled | audit | enforce
	DefaultIdentity string
}

// Pipeline holds everything a service needs to build its middleware
// chain. One Pipeline is constructed per service at provider-start time.
type Pipeline struct {
	Service string
	Family  string // cmn.FamilyJSON | FamilyXML | FamilyS3
	Mocks   *mock.Registry
	Chaos   *chaos.Registry
	IAM     *iam.Store
	Setting func() IAMSetting
	Extract Extractors
}

// Wrap composes the full chain around final, in the order spec.md §4.4
// mandates: path gate, mock override, chaos, IAM auth, handler.
func (p *Pipeline) Wrap(final http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, cmn.ManagementPrefix) || strings.HasPrefix(r.URL.Path, cmn.MockPrefix) {
			final.ServeHTTP(w, r)
			return
		}

		operation := ""
		if p.Extract.Operation != nil {
			operation = p.Extract.Operation(r)
		}

		if p.Mocks != nil {
			body := peekJSONBody(r)
			if rule, ok := p.Mocks.Match(p.Service, operation, r.Header, body); ok {
				writeMockResponse(w, rule.Response)
				return
			}
		}

		if p.Chaos != nil {
			snap := p.Chaos.Snapshot(p.Service)
			result := chaos.Decide(snap, globalRand, time.Sleep)
			switch result.Outcome {
			case chaos.OutcomeReset:
				hj, ok := w.(http.Hijacker)
				if ok {
					if conn, _, err := hj.Hijack(); err == nil {
						conn.Close()
						return
					}
				}
				// Transport can't be hijacked (e.g. in tests using
				// httptest.ResponseRecorder); fail closed with a 5xx
				// rather than silently continuing past the chaos verdict.
				w.WriteHeader(http.StatusInternalServerError)
				return
			case chaos.OutcomeTimeout:
				writeFamilyError(w, p.Family, "TimeoutError", "gateway timeout", http.StatusGatewayTimeout, r.URL.Path)
				return
			case chaos.OutcomeError:
				writeFamilyError(w, p.Family, result.Error.Type, result.Error.Message, result.Error.Status, r.URL.Path)
				return
			}
		}

		if p.IAM != nil && p.Setting != nil {
			setting := p.Setting()
			if setting.Mode != cmn.IAMDisabled {
				identity := r.Header.Get(cmn.HeaderIdentity)
				if identity == "" {
					identity = setting.DefaultIdentity
				}
				resource := ""
				if p.Extract.Resource != nil {
					resource = p.Extract.Resource(r)
				}
				decision := p.IAM.Evaluate(setting.Mode, identity, p.Service, operation, resource)
				if !decision.Allow {
					writeAccessDenied(w, p.Family, r.URL.Path)
					return
				}
			}
		}

		final.ServeHTTP(w, r)
	})
}

var globalRand = rand.New(rand.NewSource(time.Now().UnixNano()))

func peekJSONBody(r *http.Request) map[string]interface{} {
	if r.Body == nil {
		return nil
	}
	raw, err := io.ReadAll(r.Body)
	r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(raw))
	if err != nil || len(raw) == 0 {
		return nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}

func writeMockResponse(w http.ResponseWriter, resp mock.Response) {
	resp.Sleep()
	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}
	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	w.Write(resp.Body)
}

func writeFamilyError(w http.ResponseWriter, family, typ, msg string, status int, resource string) {
	requestID := uuid.NewString()
	var fe cmn.FamilyError
	switch family {
	case cmn.FamilyXML:
		fe = cmn.NewXMLError(typ, msg, status, requestID)
	case cmn.FamilyS3:
		fe = cmn.NewS3Error(typ, msg, resource, requestID, status)
	default:
		fe = cmn.NewJSONError(typ, msg, status)
	}
	contentType, body := fe.Render()
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(fe.StatusCode())
	w.Write(body)
}

func writeAccessDenied(w http.ResponseWriter, family, resource string) {
	requestID := uuid.NewString()
	var fe cmn.FamilyError
	switch family {
	case cmn.FamilyXML:
		fe = cmn.AccessDeniedXML(requestID)
	case cmn.FamilyS3:
		fe = cmn.AccessDeniedS3(resource, requestID)
	default:
		fe = cmn.AccessDeniedJSON("not authorized to perform this operation")
	}
	contentType, body := fe.Render()
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(fe.StatusCode())
	w.Write(body)
}
