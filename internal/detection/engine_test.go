package detection

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stream-auditor/internal/consumption"
)

func kinds(flags []Flag) []Kind {
	out := make([]Kind, 0, len(flags))
	for _, f := range flags {
		out = append(out, f.Kind)
	}
	return out
}

func find(flags []Flag, k Kind) *Flag {
	for i := range flags {
		if flags[i].Kind == k {
			return &flags[i]
		}
	}
	return nil
}

func TestEvaluate_RegionalConcentrationScenario(t *testing.T) {
	m := consumption.Metrics{
		Total:   1000000,
		Regions: map[string]int64{"NY": 850000, "LA": 150000},
	}

	flags := NewEngine().Evaluate(m, Thresholds{Region: 0.80})

	f := find(flags, KindRegionalConcentration)
	require.NotNil(t, f)
	assert.Equal(t, "NY", f.Evidence["region"])
	assert.Equal(t, 0.85, f.Evidence["share"])
	assert.Equal(t, SeverityHigh, f.Severity)
	assert.Contains(t, f.Reason, "85.0%")
}

func TestEvaluate_RegionalConcentrationBoundary(t *testing.T) {
	engine := NewEngine()
	at := consumption.Metrics{Total: 1000000, Regions: map[string]int64{"NY": 800000, "LA": 200000}}
	above := consumption.Metrics{Total: 1000000, Regions: map[string]int64{"NY": 800001, "LA": 199999}}

	assert.Nil(t, find(engine.Evaluate(at, Thresholds{Region: 0.80}), KindRegionalConcentration))
	assert.NotNil(t, find(engine.Evaluate(above, Thresholds{Region: 0.80}), KindRegionalConcentration))

	// thresholds that are not exact in binary still compare exactly
	thirds := consumption.Metrics{Total: 10, Regions: map[string]int64{"A": 7, "B": 3}}
	assert.Nil(t, find(engine.Evaluate(thirds, Thresholds{Region: 0.7}), KindRegionalConcentration))
}

func TestEvaluate_RegionalConcentrationTieBreaksByName(t *testing.T) {
	m := consumption.Metrics{Total: 100, Regions: map[string]int64{"Zeta": 45, "Alpha": 45, "Mid": 10}}
	f := find(NewEngine().Evaluate(m, Thresholds{Region: 0.4}), KindRegionalConcentration)
	require.NotNil(t, f)
	assert.Equal(t, "Alpha", f.Evidence["region"])
}

func TestEvaluate_LowFreeScenario(t *testing.T) {
	m := consumption.Metrics{Total: 500000, Regions: map[string]int64{}, AdSupported: 0, Premium: 500000}

	flags := NewEngine().Evaluate(m, Thresholds{FreeTierLow: 0.03})

	f := find(flags, KindLowFree)
	require.NotNil(t, f)
	assert.Equal(t, 0.0, f.Evidence["freeShare"])
	assert.Nil(t, find(flags, KindAllFree))
}

func TestEvaluate_AllFree(t *testing.T) {
	m := consumption.Metrics{Total: 1000, Regions: map[string]int64{}, AdSupported: 1000}

	flags := NewEngine().Evaluate(m, Thresholds{})

	f := find(flags, KindAllFree)
	require.NotNil(t, f)
	assert.Equal(t, 1.0, f.Evidence["freeShare"])
	assert.Nil(t, find(flags, KindLowFree))
}

func TestEvaluate_FreeTierNormal(t *testing.T) {
	m := consumption.Metrics{Total: 1000, Regions: map[string]int64{}, AdSupported: 300, Premium: 700}
	assert.Empty(t, NewEngine().Evaluate(m, Thresholds{}))
}

func TestEvaluate_ZeroActivity(t *testing.T) {
	engine := NewEngine()
	zero := consumption.Metrics{Regions: map[string]int64{}}

	flags := engine.Evaluate(zero, Thresholds{})
	assert.Equal(t, []Kind{KindZeroActivity}, kinds(flags))
	_, hasHistory := flags[0].Evidence["hadPreviousActivity"]
	assert.False(t, hasHistory)

	dropped := engine.EvaluateWithHistory(zero, Thresholds{}, &History{Known: true, Total: 5000})
	require.Len(t, dropped, 1)
	assert.Equal(t, true, dropped[0].Evidence["hadPreviousActivity"])
	assert.Equal(t, SeverityHigh, dropped[0].Severity)
	assert.Contains(t, dropped[0].Reason, "dropped to zero")

	never := engine.EvaluateWithHistory(zero, Thresholds{}, &History{Known: true})
	assert.Equal(t, false, never[0].Evidence["hadPreviousActivity"])
	assert.Equal(t, SeverityMedium, never[0].Severity)

	unknown := engine.EvaluateWithHistory(zero, Thresholds{}, &History{Known: false})
	_, hasHistory = unknown[0].Evidence["hadPreviousActivity"]
	assert.False(t, hasHistory)
}

func TestEvaluate_FlagOrderIsStable(t *testing.T) {
	// zero total with inconsistent breakdowns: every applicable rule fires
	m := consumption.Metrics{Total: 0, Regions: map[string]int64{"NY": 10}, AdSupported: 10}
	assert.Equal(t, []Kind{KindAllFree, KindZeroActivity}, kinds(NewEngine().Evaluate(m, Thresholds{})))
}

func TestEvaluate_Properties(t *testing.T) {
	engine := NewEngine()
	rng := rand.New(rand.NewPCG(1, 2))

	for i := 0; i < 2000; i++ {
		m := consumption.Metrics{
			Total:       rng.Int64N(3) * rng.Int64N(1000),
			Regions:     map[string]int64{"A": rng.Int64N(1000), "B": rng.Int64N(1000)},
			AdSupported: rng.Int64N(2) * rng.Int64N(1000),
			Premium:     rng.Int64N(2) * rng.Int64N(1000),
		}
		th := Thresholds{Region: rng.Float64()*0.9 + 0.05, FreeTierLow: rng.Float64()*0.5 + 0.01}
		flags := engine.Evaluate(m, th)

		if m.Total == 0 {
			require.NotNil(t, find(flags, KindZeroActivity), "zero total must flag: %+v", m)
		} else {
			require.Nil(t, find(flags, KindZeroActivity))
		}

		if m.AdSupported+m.Premium == 0 {
			require.Nil(t, find(flags, KindAllFree), "%+v", m)
			require.Nil(t, find(flags, KindLowFree), "%+v", m)
		}

		require.False(t, find(flags, KindAllFree) != nil && find(flags, KindLowFree) != nil, "free flags are exclusive: %+v", m)

		if m.Total == 0 {
			require.Nil(t, find(flags, KindRegionalConcentration))
		}
	}
}

func TestThresholds_WithDefaults(t *testing.T) {
	th := Thresholds{}.WithDefaults()
	assert.Equal(t, DefaultRegionThreshold, th.Region)
	assert.Equal(t, DefaultFreeTierLowThreshold, th.FreeTierLow)

	custom := Thresholds{Region: 0.5, FreeTierLow: 0.1}.WithDefaults()
	assert.Equal(t, 0.5, custom.Region)
}
