// Package precompute derives deterministic engineering values from gathered consultation
// parameters so the model can use them as given instead of calculating them.
package precompute

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/hyperjump/soudan/internal/domain"
)

// Header introduces the block in the answering prompt.
const Header = "## Pre-Computed Engineering Values (use as given, do not recalculate)"

// ISO4406Channel is one particle size channel of a cleanliness code.
type ISO4406Channel struct {
	Size string
	Code int
	Min  float64
	Max  float64
	// Known is false when the code is outside the reference table.
	Known bool
}

var iso4406Sizes = [3]string{"≥4µm(c)", "≥6µm(c)", "≥14µm(c)"}

// InterpretISO4406 splits a code such as "16/14/11" into its channels.
func InterpretISO4406(ref *domain.ReferenceData, code string) ([]ISO4406Channel, error) {
	parts := strings.Split(code, "/")
	if len(parts) != 3 {
		return nil, fmt.Errorf("iso 4406 code %q: want three channels", code)
	}
	out := make([]ISO4406Channel, 0, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("iso 4406 code %q: %w", code, err)
		}
		ch := ISO4406Channel{Size: iso4406Sizes[i], Code: n}
		if b, ok := ref.ISO4406[n]; ok {
			ch.Min, ch.Max, ch.Known = b[0], b[1], true
		}
		out = append(out, ch)
	}
	return out, nil
}

// Viscosity is a grade's viscosity, optionally at a requested temperature.
type Viscosity struct {
	Grade       string
	At40C       float64
	Temperature float64
	AtTemp      float64
	HasTemp     bool
	// Interpolated is set when AtTemp lies between two table temperatures.
	Interpolated bool
}

// NormalizeGrade turns "ISO VG 46", "vg46" or "46" into "VG46".
func NormalizeGrade(grade string) string {
	g := strings.ToUpper(grade)
	g = strings.ReplaceAll(g, "ISO", "")
	g = strings.ReplaceAll(g, " ", "")
	if !strings.HasPrefix(g, "VG") {
		g = "VG" + g
	}
	return g
}

// LookupViscosity finds a grade and, when temp is given, its viscosity at that temperature.
// Between table points the logarithm of viscosity is interpolated linearly in temperature.
// Temperatures outside the table yield no value at temperature.
func LookupViscosity(ref *domain.ReferenceData, grade string, temp *float64) (*Viscosity, bool) {
	key := NormalizeGrade(grade)
	table, ok := ref.Viscosity[key]
	if !ok {
		return nil, false
	}
	v := &Viscosity{Grade: key, At40C: table[40]}
	if temp == nil {
		return v, true
	}
	t := *temp
	if exact, ok := table[t]; ok {
		v.Temperature, v.AtTemp, v.HasTemp = t, exact, true
		return v, true
	}
	temps := make([]float64, 0, len(table))
	for k := range table {
		temps = append(temps, k)
	}
	sort.Float64s(temps)
	for i := 1; i < len(temps); i++ {
		lo, hi := temps[i-1], temps[i]
		if t < lo || t > hi {
			continue
		}
		frac := (t - lo) / (hi - lo)
		lv, hv := math.Log(table[lo]), math.Log(table[hi])
		v.Temperature = t
		v.AtTemp = round(math.Exp(lv+frac*(hv-lv)), 1)
		v.HasTemp = true
		v.Interpolated = true
		break
	}
	return v, true
}

// BetaToEfficiency converts a β ratio to capture efficiency in percent, using the reference
// table when it lists the ratio and 100·(1 − 1/β) otherwise. β ≤ 1 has no efficiency.
func BetaToEfficiency(ref *domain.ReferenceData, beta float64) (float64, bool) {
	if e, ok := ref.BetaEfficiency[beta]; ok {
		return e, true
	}
	if beta <= 1 {
		return 0, false
	}
	return round((1-1/beta)*100, 2), true
}

// TargetCleanliness returns the recommended ISO 4406 code for a component, refined by
// pressure in psi when the pressure table covers the component.
func TargetCleanliness(ref *domain.ReferenceData, component string, pressurePSI *float64) (string, bool) {
	key := normalizeKey(component)
	if pressurePSI != nil {
		if p, ok := ref.TargetByPressure[key]; ok {
			if t := p.For(*pressurePSI); t != "" {
				return t, true
			}
		}
	}
	t, ok := ref.TargetCleanliness[key]
	return t, ok
}

// Fluid is a named entry of the fluid property table.
type Fluid struct {
	Name string
	domain.FluidProperties
}

// LookupFluid matches a fluid name exactly, then by substring in either direction.
func LookupFluid(ref *domain.ReferenceData, name string) (*Fluid, bool) {
	key := normalizeKey(name)
	if p, ok := ref.Fluids[key]; ok {
		return &Fluid{Name: key, FluidProperties: p}, true
	}
	names := make([]string, 0, len(ref.Fluids))
	for k := range ref.Fluids {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		if strings.Contains(k, key) || strings.Contains(key, k) {
			return &Fluid{Name: k, FluidProperties: ref.Fluids[k]}, true
		}
	}
	return nil, false
}

// Reynolds returns ρ·v·d/μ.
func Reynolds(velocity, diameter, density, viscosity float64) float64 {
	return density * velocity * diameter / viscosity
}

// Weber returns ρ·v²·d/σ.
func Weber(velocity, diameter, density, surfaceTension float64) float64 {
	return density * velocity * velocity * diameter / surfaceTension
}

// FlowRegime names the pipe flow regime for a Reynolds number.
func FlowRegime(re float64) string {
	switch {
	case re < 2300:
		return "laminar"
	case re < 4000:
		return "transitional"
	default:
		return "turbulent"
	}
}

// BreakupRegime finds the regime whose Weber range contains we.
func BreakupRegime(ref *domain.ReferenceData, we float64) (domain.BreakupRegime, bool) {
	for _, b := range ref.BreakupRegimes {
		if we >= b.MinWe && we < b.Upper() {
			return b, true
		}
	}
	return domain.BreakupRegime{}, false
}

func normalizeKey(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(s)
}

func round(x float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(x*p) / p
}
