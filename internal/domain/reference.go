package domain

import (
	"fmt"
	"math"
)

// ReferenceData holds the machine-readable tables used for pre-computed values.
type ReferenceData struct {
	// ISO4406 maps a cleanliness code to its [min, max] particles per mL.
	ISO4406 map[int][]float64 `yaml:"iso_4406_codes"`
	// BetaEfficiency maps a β ratio to its capture efficiency in percent.
	BetaEfficiency map[float64]float64 `yaml:"beta_efficiency"`
	// Viscosity maps an ISO VG grade to viscosity in cSt by temperature in °C.
	Viscosity map[string]map[float64]float64 `yaml:"viscosity_temperature"`
	// TargetCleanliness maps a component to its recommended ISO 4406 code.
	TargetCleanliness map[string]string `yaml:"target_cleanliness"`
	// TargetByPressure refines TargetCleanliness by operating pressure.
	TargetByPressure map[string]PressureTargets `yaml:"target_cleanliness_by_pressure"`
	Fluids           map[string]FluidProperties `yaml:"fluid_properties"`
	BreakupRegimes   []BreakupRegime            `yaml:"breakup_regimes"`
}

// PressureTargets are ISO 4406 targets for three pressure bands.
type PressureTargets struct {
	Below1500 string `yaml:"below_1500_psi"`
	To2500    string `yaml:"1500_to_2500_psi"`
	Above2500 string `yaml:"above_2500_psi"`
}

// For returns the target for a pressure in psi.
func (p PressureTargets) For(psi float64) string {
	switch {
	case psi < 1500:
		return p.Below1500
	case psi <= 2500:
		return p.To2500
	default:
		return p.Above2500
	}
}

// FluidProperties are spray fluid properties at 20°C.
type FluidProperties struct {
	DensityKgM3      float64 `yaml:"density_kg_m3"`
	ViscosityPaS     float64 `yaml:"viscosity_pa_s"`
	SurfaceTensionNM float64 `yaml:"surface_tension_n_m"`
	Notes            string  `yaml:"notes"`
}

// BreakupRegime is a droplet breakup regime over [MinWe, MaxWe). A zero MaxWe is unbounded.
type BreakupRegime struct {
	Name        string  `yaml:"name"`
	MinWe       float64 `yaml:"min_we"`
	MaxWe       float64 `yaml:"max_we"`
	Description string  `yaml:"description"`
}

// Upper returns MaxWe, or +Inf when unbounded.
func (b BreakupRegime) Upper() float64 {
	if b.MaxWe <= 0 {
		return math.Inf(1)
	}
	return b.MaxWe
}

func (r *ReferenceData) validate() error {
	for code, bounds := range r.ISO4406 {
		if len(bounds) != 2 || bounds[0] > bounds[1] {
			return fmt.Errorf("iso_4406_codes[%d]: want [min, max]", code)
		}
	}
	for name, f := range r.Fluids {
		if f.DensityKgM3 <= 0 || f.ViscosityPaS <= 0 || f.SurfaceTensionNM <= 0 {
			return fmt.Errorf("fluid_properties.%s: density, viscosity and surface tension must be positive", name)
		}
	}
	for _, b := range r.BreakupRegimes {
		if b.MaxWe > 0 && b.MaxWe <= b.MinWe {
			return fmt.Errorf("breakup regime %s: max_we must exceed min_we", b.Name)
		}
	}
	return nil
}
