package chaos

import (
	"math/rand"
	"testing"
	"time"

	. "github.com/onsi/gomega"
)

func TestDecide_DisabledIsNoop(t *testing.T) {
	g := NewWithT(t)
	r := Decide(Config{}, rand.New(rand.NewSource(1)), func(time.Duration) {})
	g.Expect(r.Outcome).To(Equal(OutcomeNone))
}

func TestDecide_ZeroErrorRateNeverInjects(t *testing.T) {
	g := NewWithT(t)
	cfg := Config{Enabled: true, ErrorRate: 0}
	for seed := int64(0); seed < 50; seed++ {
		r := Decide(cfg, rand.New(rand.NewSource(seed)), func(time.Duration) {})
		g.Expect(r.Outcome).To(Equal(OutcomeNone))
	}
}

func TestDecide_FullErrorRatePicksWeighted(t *testing.T) {
	g := NewWithT(t)
	cfg := Config{
		Enabled:   true,
		ErrorRate: 1.0,
		Errors:    []ErrorSpec{{Type: "ResourceNotFoundException", Message: "gone", Status: 400, Weight: 1.0}},
	}
	r := Decide(cfg, rand.New(rand.NewSource(7)), func(time.Duration) {})
	g.Expect(r.Outcome).To(Equal(OutcomeError))
	g.Expect(r.Error.Type).To(Equal("ResourceNotFoundException"))
}

func TestRegistry_MergePreservesUnsetFields(t *testing.T) {
	g := NewWithT(t)
	reg := NewRegistry()
	rate := 0.5
	reg.Merge("dynamodb", Patch{ErrorRate: &rate})
	latMax := 100
	reg.Merge("dynamodb", Patch{LatencyMaxMs: &latMax})

	snap := reg.Snapshot("dynamodb")
	g.Expect(snap.ErrorRate).To(Equal(0.5))
	g.Expect(snap.LatencyMaxMs).To(Equal(100))
}
