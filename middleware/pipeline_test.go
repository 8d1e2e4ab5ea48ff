package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	. "github.com/onsi/gomega"

	"github.com/cloudfleet/emulator/chaos"
	"github.com/cloudfleet/emulator/cmn"
	"github.com/cloudfleet/emulator/iam"
	"github.com/cloudfleet/emulator/mock"
)

func operationFromTarget(r *http.Request) string {
	target := r.Header.Get(cmn.HeaderAmzTarget)
	if idx := strings.LastIndex(target, "."); idx >= 0 {
		return target[idx+1:]
	}
	return target
}

func newPipeline(t *testing.T) (*Pipeline, *chaos.Registry, *iam.Store) {
	idStore, err := iam.NewIdentityStore("")
	if err != nil {
		t.Fatal(err)
	}
	pm, err := iam.NewPermissionsMap("")
	if err != nil {
		t.Fatal(err)
	}
	store := iam.New(idStore, pm, iam.NewResourcePolicyStore())
	chaosReg := chaos.NewRegistry()
	p := &Pipeline{
		Service: cmn.ServiceDynamoDB,
		Family:  cmn.FamilyJSON,
		Mocks:   mock.NewRegistry(),
		Chaos:   chaosReg,
		IAM:     store,
		Setting: func() IAMSetting { return IAMSetting{Mode: cmn.IAMDisabled} },
		Extract: Extractors{
			Operation: operationFromTarget,
		},
	}
	return p, chaosReg, store
}

func TestPipeline_ManagementPathBypassesChaos(t *testing.T) {
	g := NewWithT(t)
	p, chaosReg, _ := newPipeline(t)
	chaosReg.Set(cmn.ServiceDynamoDB, chaos.Config{Enabled: true, ErrorRate: 1.0, Errors: []chaos.ErrorSpec{{Type: "X", Status: 500, Weight: 1}}})

	called := false
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true; w.WriteHeader(200) })
	req := httptest.NewRequest(http.MethodGet, cmn.ManagementPrefix+"/status", nil)
	rec := httptest.NewRecorder()
	p.Wrap(final).ServeHTTP(rec, req)

	g.Expect(called).To(BeTrue())
	g.Expect(rec.Code).To(Equal(200))
}

func TestPipeline_ChaosInjectsConfiguredError(t *testing.T) {
	g := NewWithT(t)
	p, chaosReg, _ := newPipeline(t)
	chaosReg.Set(cmn.ServiceDynamoDB, chaos.Config{
		Enabled: true, ErrorRate: 1.0,
		Errors: []chaos.ErrorSpec{{Type: "ResourceNotFoundException", Message: "gone", Status: 400, Weight: 1.0}},
	})
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { t.Fatal("handler should not run") })
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	rec := httptest.NewRecorder()
	p.Wrap(final).ServeHTTP(rec, req)

	g.Expect(rec.Code).To(Equal(400))
	g.Expect(rec.Body.String()).To(ContainSubstring("ResourceNotFoundException"))
}

func TestPipeline_MockOverrideShortCircuits(t *testing.T) {
	g := NewWithT(t)
	p, _, _ := newPipeline(t)
	p.Mocks.Set(cmn.ServiceDynamoDB, []mock.Rule{
		{Operation: "GetItem", Response: mock.Response{Status: 200, Body: []byte(`{"ok":true}`)}},
	})
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { t.Fatal("handler should not run") })
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set(cmn.HeaderAmzTarget, "DynamoDB_20120810.GetItem")
	rec := httptest.NewRecorder()
	p.Wrap(final).ServeHTTP(rec, req)

	g.Expect(rec.Code).To(Equal(200))
	g.Expect(rec.Body.String()).To(Equal(`{"ok":true}`))
}

func TestPipeline_IAMEnforceDeniesUnknownIdentity(t *testing.T) {
	g := NewWithT(t)
	p, _, _ := newPipeline(t)
	p.Setting = func() IAMSetting { return IAMSetting{Mode: cmn.IAMEnforce, DefaultIdentity: "ghost"} }
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { t.Fatal("handler should not run") })
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set(cmn.HeaderAmzTarget, "DynamoDB_20120810.PutItem")
	rec := httptest.NewRecorder()
	p.Wrap(final).ServeHTTP(rec, req)

	g.Expect(rec.Code).To(Equal(http.StatusBadRequest))
	g.Expect(rec.Body.String()).To(ContainSubstring("AccessDeniedException"))
}
