package precompute

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/hyperjump/soudan/internal/domain"
)

// Build formats the pre-computed values for a domain's gathered parameters. It returns ""
// when nothing applies.
func Build(d *domain.Domain, params map[string]any) string {
	if d == nil || len(params) == 0 {
		return ""
	}
	var lines []string
	switch d.Precompute {
	case domain.PrecomputeFiltration:
		lines = filtration(&d.Reference, params)
	case domain.PrecomputeSpray:
		lines = spray(&d.Reference, params)
	}
	if len(lines) == 0 {
		return ""
	}
	return Header + "\n" + strings.Join(lines, "\n")
}

func filtration(ref *domain.ReferenceData, params map[string]any) []string {
	var lines []string

	if grade, ok := lookup(params, "viscosity_grade", "fluid_viscosity", "iso_vg", "viscosity"); ok {
		temp, hasTemp := lookupNumber(params, "temperature", "operating_temperature", "temp_c", "max_temperature")
		var tp *float64
		if hasTemp {
			tp = &temp
		}
		if v, ok := LookupViscosity(ref, fmt.Sprint(grade), tp); ok {
			lines = append(lines, fmt.Sprintf("- Fluid: %s, viscosity at 40°C: %s cSt", v.Grade, num(v.At40C)))
			if v.HasTemp {
				note := ""
				if v.Interpolated {
					note = " (interpolated)"
				}
				lines = append(lines, fmt.Sprintf("- Viscosity at %s°C: %s cSt%s", num(v.Temperature), num(v.AtTemp), note))
			}
		}
	}

	if code, ok := lookup(params, "target_cleanliness", "cleanliness_target", "iso_4406", "cleanliness"); ok {
		s := fmt.Sprint(code)
		if channels, err := InterpretISO4406(ref, s); err == nil {
			var ch []string
			for _, c := range channels {
				if c.Known {
					ch = append(ch, fmt.Sprintf("  • %s: %s–%s particles/mL", c.Size, num(c.Min), num(c.Max)))
				}
			}
			if len(ch) > 0 {
				lines = append(lines, fmt.Sprintf("- Target cleanliness %s means:", s))
				lines = append(lines, ch...)
			}
		}
	}

	if component, ok := lookup(params, "component", "most_sensitive_component", "critical_component"); ok {
		psi, hasPSI := lookupNumber(params, "pressure_psi", "operating_pressure_psi", "pressure")
		var pp *float64
		if hasPSI {
			pp = &psi
		}
		if target, ok := TargetCleanliness(ref, fmt.Sprint(component), pp); ok {
			lines = append(lines, fmt.Sprintf("- Recommended cleanliness for %v: %s (ISO 4406)", component, target))
		}
	}

	if beta, ok := lookupNumber(params, "beta_ratio", "required_beta", "filtration_ratio"); ok {
		if eff, ok := BetaToEfficiency(ref, beta); ok {
			lines = append(lines, fmt.Sprintf("- β ratio %s = %s%% capture efficiency", num(beta), num(eff)))
		}
	}
	return lines
}

func spray(ref *domain.ReferenceData, params map[string]any) []string {
	name, ok := lookup(params, "fluid", "liquid", "spray_fluid", "medium")
	if !ok {
		return nil
	}
	f, ok := LookupFluid(ref, fmt.Sprint(name))
	if !ok {
		return nil
	}
	lines := []string{
		"- Fluid: " + f.Name,
		fmt.Sprintf("  • Density: %s kg/m³", num(f.DensityKgM3)),
		fmt.Sprintf("  • Viscosity: %s Pa·s", num(f.ViscosityPaS)),
		fmt.Sprintf("  • Surface tension: %s N/m", num(f.SurfaceTensionNM)),
	}
	if f.Notes != "" {
		lines = append(lines, "  • Note: "+f.Notes)
	}

	velocity, hasV := lookupNumber(params, "velocity_m_s", "jet_velocity", "velocity")
	if !hasV {
		return lines
	}
	if orifice, ok := lookupNumber(params, "orifice_diameter_mm", "orifice_mm"); ok {
		re := Reynolds(velocity, orifice/1000, f.DensityKgM3, f.ViscosityPaS)
		lines = append(lines, fmt.Sprintf("- Orifice Reynolds number: %s (%s)", num(round(re, 0)), FlowRegime(re)))
	}
	if droplet, ok := lookupNumber(params, "droplet_diameter_um", "smd_um", "droplet_size_um"); ok {
		we := Weber(velocity, droplet/1e6, f.DensityKgM3, f.SurfaceTensionNM)
		line := fmt.Sprintf("- Droplet Weber number: %s", num(round(we, 1)))
		if b, ok := BreakupRegime(ref, we); ok {
			line += fmt.Sprintf(", regime %s: %s", b.Name, b.Description)
		}
		lines = append(lines, line)
	}
	return lines
}

// lookup finds the first present key at the top level, then one level of nesting.
func lookup(params map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := params[k]; ok && v != nil && fmt.Sprint(v) != "" {
			return v, true
		}
	}
	for _, v := range params {
		nested, ok := v.(map[string]any)
		if !ok {
			continue
		}
		for _, k := range keys {
			if nv, ok := nested[k]; ok && nv != nil && fmt.Sprint(nv) != "" {
				return nv, true
			}
		}
	}
	return nil, false
}

// lookupNumber reads a number from a numeric value or the first word of a string
// ("3,000 psi" is 3000).
func lookupNumber(params map[string]any, keys ...string) (float64, bool) {
	v, ok := lookup(params, keys...)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	fields := strings.Fields(strings.ReplaceAll(fmt.Sprint(v), ",", ""))
	if len(fields) == 0 {
		return 0, false
	}
	f, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func num(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
