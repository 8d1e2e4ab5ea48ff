package management

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	. "github.com/onsi/gomega"

	"github.com/cloudfleet/emulator/chaos"
)

type fakeStatusSource struct{}

func (fakeStatusSource) ServiceStatuses() map[string]ServiceStatus {
	return map[string]ServiceStatus{"dynamodb": {Port: 4567, Healthy: true}}
}

func newTestPlane() (*Plane, *bool) {
	reset := false
	p := New(fakeStatusSource{}, chaos.NewRegistry(), NewIAMSettingStore("disabled", ""), nil, func() { reset = true }, nil)
	return p, &reset
}

func TestPlane_StatusReportsServices(t *testing.T) {
	g := NewWithT(t)
	p, _ := newTestPlane()
	mux := http.NewServeMux()
	p.Mount(mux)

	req := httptest.NewRequest(http.MethodGet, "/_ldk/status", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	g.Expect(rec.Code).To(Equal(http.StatusOK))
	g.Expect(rec.Body.String()).To(ContainSubstring("dynamodb"))
}

func TestPlane_ChaosPatchMergesAndReads(t *testing.T) {
	g := NewWithT(t)
	p, _ := newTestPlane()
	mux := http.NewServeMux()
	p.Mount(mux)

	body := `{"dynamodb":{"Enabled":true,"ErrorRate":0.5}}`
	req := httptest.NewRequest(http.MethodPost, "/_ldk/chaos", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	g.Expect(rec.Code).To(Equal(http.StatusOK))

	snap := p.Chaos.Snapshot("dynamodb")
	g.Expect(snap.Enabled).To(BeTrue())
	g.Expect(snap.ErrorRate).To(Equal(0.5))
}

func TestPlane_IAMAuthSetAndGet(t *testing.T) {
	g := NewWithT(t)
	p, _ := newTestPlane()
	mux := http.NewServeMux()
	p.Mount(mux)

	body := `{"mode":"enforce","default_identity":"guest","services":{"s3":false}}`
	req := httptest.NewRequest(http.MethodPost, "/_ldk/iam-auth", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	g.Expect(rec.Code).To(Equal(http.StatusOK))

	mode, defaultID, perService := p.IAM.Get()
	g.Expect(mode).To(Equal("enforce"))
	g.Expect(defaultID).To(Equal("guest"))
	g.Expect(perService["s3"]).To(BeFalse())

	setting := p.IAM.SettingFunc("s3")()
	g.Expect(setting.Mode).To(Equal("disabled"))

	otherSetting := p.IAM.SettingFunc("dynamodb")()
	g.Expect(otherSetting.Mode).To(Equal("enforce"))
}

func TestPlane_ResetInvokesCallback(t *testing.T) {
	g := NewWithT(t)
	p, reset := newTestPlane()
	mux := http.NewServeMux()
	p.Mount(mux)

	req := httptest.NewRequest(http.MethodPost, "/_ldk/reset", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	g.Expect(rec.Code).To(Equal(http.StatusOK))
	g.Expect(*reset).To(BeTrue())
}

func TestPlane_ResourcesReturnsInjectedTree(t *testing.T) {
	g := NewWithT(t)
	p := New(fakeStatusSource{}, chaos.NewRegistry(), NewIAMSettingStore("disabled", ""), func() map[string]interface{} {
		return map[string]interface{}{"dynamodb": []string{"orders"}}
	}, nil, nil)
	mux := http.NewServeMux()
	p.Mount(mux)

	req := httptest.NewRequest(http.MethodGet, "/_ldk/resources", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	g.Expect(rec.Code).To(Equal(http.StatusOK))
	g.Expect(rec.Body.String()).To(ContainSubstring("orders"))
}
