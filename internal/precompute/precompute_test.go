package precompute

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/soudan/internal/domain"
)

func shipped(t *testing.T, id string) *domain.Domain {
	t.Helper()
	reg, err := domain.Load(filepath.Join("..", "..", "configs", "domains"), "")
	require.NoError(t, err)
	d, err := reg.Get(id)
	require.NoError(t, err)
	return d
}

func TestInterpretISO4406(t *testing.T) {
	ref := &shipped(t, "filtration").Reference

	channels, err := InterpretISO4406(ref, "16/14/11")
	require.NoError(t, err)
	require.Len(t, channels, 3)
	assert.Equal(t, ISO4406Channel{Size: "≥4µm(c)", Code: 16, Min: 320, Max: 640, Known: true}, channels[0])
	assert.Equal(t, 80.0, channels[1].Min)
	assert.Equal(t, 20.0, channels[2].Max)

	channels, err = InterpretISO4406(ref, "30/14/11")
	require.NoError(t, err)
	assert.False(t, channels[0].Known)

	_, err = InterpretISO4406(ref, "16/14")
	assert.Error(t, err)
	_, err = InterpretISO4406(ref, "16/x/11")
	assert.Error(t, err)
}

func TestNormalizeGrade(t *testing.T) {
	for in, want := range map[string]string{
		"ISO VG 46": "VG46",
		"vg46":      "VG46",
		"46":        "VG46",
		"VG 100":    "VG100",
	} {
		assert.Equal(t, want, NormalizeGrade(in), in)
	}
}

func TestLookupViscosity(t *testing.T) {
	ref := &shipped(t, "filtration").Reference

	v, ok := LookupViscosity(ref, "ISO VG 46", nil)
	require.True(t, ok)
	assert.Equal(t, 46.0, v.At40C)
	assert.False(t, v.HasTemp)

	exact := 60.0
	v, ok = LookupViscosity(ref, "VG46", &exact)
	require.True(t, ok)
	assert.Equal(t, 20.0, v.AtTemp)
	assert.False(t, v.Interpolated)

	mid := 50.0
	v, ok = LookupViscosity(ref, "46", &mid)
	require.True(t, ok)
	assert.True(t, v.Interpolated)
	assert.Equal(t, 30.3, v.AtTemp)

	hot := 150.0
	v, ok = LookupViscosity(ref, "VG46", &hot)
	require.True(t, ok)
	assert.False(t, v.HasTemp)

	_, ok = LookupViscosity(ref, "VG15", nil)
	assert.False(t, ok)
}

func TestBetaToEfficiency(t *testing.T) {
	ref := &shipped(t, "filtration").Reference

	e, ok := BetaToEfficiency(ref, 200)
	require.True(t, ok)
	assert.Equal(t, 99.5, e)

	e, ok = BetaToEfficiency(ref, 50)
	require.True(t, ok)
	assert.Equal(t, 98.0, e)

	e, ok = BetaToEfficiency(ref, 3)
	require.True(t, ok)
	assert.Equal(t, 66.67, e)

	_, ok = BetaToEfficiency(ref, 1)
	assert.False(t, ok)
}

func TestTargetCleanliness(t *testing.T) {
	ref := &shipped(t, "filtration").Reference
	psi := func(v float64) *float64 { return &v }

	got, ok := TargetCleanliness(ref, "Servo Valve", nil)
	require.True(t, ok)
	assert.Equal(t, "15/13/11", got)

	got, ok = TargetCleanliness(ref, "servo-valve", psi(3000))
	require.True(t, ok)
	assert.Equal(t, "14/12/10", got)

	got, ok = TargetCleanliness(ref, "gear pump", psi(1000))
	require.True(t, ok)
	assert.Equal(t, "19/17/14", got)

	_, ok = TargetCleanliness(ref, "gear pump", nil)
	assert.False(t, ok)
}

func TestFluidsAndDimensionlessNumbers(t *testing.T) {
	ref := &shipped(t, "spray_nozzles").Reference

	f, ok := LookupFluid(ref, "Water")
	require.True(t, ok)
	assert.Equal(t, "water", f.Name)

	f, ok = LookupFluid(ref, "diesel fuel")
	require.True(t, ok)
	assert.Equal(t, "diesel", f.Name)

	f, ok = LookupFluid(ref, "urea")
	require.True(t, ok)
	assert.Equal(t, "urea_32pct", f.Name)

	_, ok = LookupFluid(ref, "mercury")
	assert.False(t, ok)

	re := Reynolds(10, 0.001, 998, 0.001)
	assert.InDelta(t, 9980, re, 1e-6)
	assert.Equal(t, "turbulent", FlowRegime(re))
	assert.Equal(t, "laminar", FlowRegime(1000))
	assert.Equal(t, "transitional", FlowRegime(3000))

	we := Weber(10, 100e-6, 998, 0.0728)
	assert.InDelta(t, 137.09, we, 0.01)
	b, ok := BreakupRegime(ref, we)
	require.True(t, ok)
	assert.Equal(t, "sheet_stripping", b.Name)

	b, ok = BreakupRegime(ref, 12)
	require.True(t, ok)
	assert.Equal(t, "bag_breakup", b.Name)

	b, ok = BreakupRegime(ref, 10000)
	require.True(t, ok)
	assert.Equal(t, "catastrophic", b.Name)
}

func TestBuild_Filtration(t *testing.T) {
	d := shipped(t, "filtration")
	out := Build(d, map[string]any{
		"viscosity_grade":    "ISO VG 46",
		"temperature":        "50 °C",
		"target_cleanliness": "16/14/11",
		"component":          "servo valve",
		"pressure_psi":       "3,000 psi",
		"beta_ratio":         200.0,
	})

	assert.Contains(t, out, Header)
	assert.Contains(t, out, "- Fluid: VG46, viscosity at 40°C: 46 cSt")
	assert.Contains(t, out, "- Viscosity at 50°C: 30.3 cSt (interpolated)")
	assert.Contains(t, out, "- Target cleanliness 16/14/11 means:")
	assert.Contains(t, out, "≥4µm(c): 320–640 particles/mL")
	assert.Contains(t, out, "- Recommended cleanliness for servo valve: 14/12/10 (ISO 4406)")
	assert.Contains(t, out, "- β ratio 200 = 99.5% capture efficiency")
}

func TestBuild_NestedParameters(t *testing.T) {
	d := shipped(t, "filtration")
	out := Build(d, map[string]any{
		"fluid": map[string]any{"iso_vg": "VG32", "temp_c": 20},
	})
	assert.Contains(t, out, "- Viscosity at 20°C: 80 cSt")
	assert.NotContains(t, out, "interpolated")
}

func TestBuild_Spray(t *testing.T) {
	d := shipped(t, "spray_nozzles")
	out := Build(d, map[string]any{
		"liquid":              "water",
		"velocity_m_s":        "10 m/s",
		"orifice_diameter_mm": 1.0,
		"droplet_diameter_um": 100,
	})

	assert.Contains(t, out, "- Fluid: water")
	assert.Contains(t, out, "Density: 998 kg/m³")
	assert.Contains(t, out, "- Orifice Reynolds number: 9980 (turbulent)")
	assert.Contains(t, out, "- Droplet Weber number: 137.1, regime sheet_stripping")
}

func TestBuild_NothingApplies(t *testing.T) {
	assert.Empty(t, Build(shipped(t, "filtration"), nil))
	assert.Empty(t, Build(shipped(t, "filtration"), map[string]any{"flow_rate": "20 gpm"}))
	assert.Empty(t, Build(shipped(t, "spray_nozzles"), map[string]any{"liquid": "mercury"}))
	assert.Empty(t, Build(nil, map[string]any{"beta_ratio": 200.0}))
	assert.Empty(t, Build(&domain.Domain{ID: "plain"}, map[string]any{"beta_ratio": 200.0}))
}
