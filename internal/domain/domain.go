// Package domain loads the per-vertical consultation records: prompts, application
// taxonomy, reference tables and threshold overrides.
package domain

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrUnknownDomain is returned for a domain id that is not registered.
var ErrUnknownDomain = errors.New("unknown domain")

// Precompute kinds select which deterministic calculations run for a domain.
const (
	PrecomputeFiltration = "filtration"
	PrecomputeSpray      = "spray"
)

// ApplicationDomain is one entry of a vertical's application taxonomy.
type ApplicationDomain struct {
	ID                   string   `yaml:"id" json:"id"`
	Name                 string   `yaml:"name" json:"name"`
	Description          string   `yaml:"description" json:"description"`
	DiagnosticPriorities []string `yaml:"diagnostic_priorities" json:"diagnostic_priorities,omitempty"`
}

// Overrides replace global thresholds for one domain. Zero fields keep the global value.
type Overrides struct {
	RelevanceThreshold float64 `yaml:"relevance_threshold"`
	HighMinMatches     int     `yaml:"high_min_matches"`
	AgreementCutoff    float64 `yaml:"agreement_cutoff"`
	TopK               int     `yaml:"top_k"`
	SemanticWeight     float64 `yaml:"semantic_weight"`
	LexicalWeight      float64 `yaml:"lexical_weight"`
}

// Domain is the configuration record of one consultation vertical.
type Domain struct {
	ID                 string              `yaml:"id" json:"id"`
	DisplayName        string              `yaml:"display_name" json:"display_name"`
	Description        string              `yaml:"description" json:"description"`
	GatheringPrompt    string              `yaml:"gathering_prompt" json:"-"`
	AnsweringPrompt    string              `yaml:"answering_prompt" json:"-"`
	ApplicationDomains []ApplicationDomain `yaml:"application_domains" json:"application_domains"`
	ExampleQuestions   []string            `yaml:"example_questions" json:"example_questions,omitempty"`
	WarmupQuery        string              `yaml:"warmup_query" json:"-"`
	Precompute         string              `yaml:"precompute" json:"-"`
	// Filters restrict retrieval to chunks with these metadata values.
	Filters   map[string]string `yaml:"filters" json:"-"`
	Overrides Overrides         `yaml:"overrides" json:"-"`
	Reference ReferenceData     `yaml:"reference" json:"-"`
}

// ApplicationDomain returns the taxonomy entry with the given id.
func (d *Domain) ApplicationDomain(id string) (ApplicationDomain, bool) {
	for _, a := range d.ApplicationDomains {
		if a.ID == id {
			return a, true
		}
	}
	return ApplicationDomain{}, false
}

// TaxonomyPrompt lists the application domains as "- id: description" lines.
func (d *Domain) TaxonomyPrompt() string {
	var b strings.Builder
	for _, a := range d.ApplicationDomains {
		fmt.Fprintf(&b, "- %s: %s\n", a.ID, a.Description)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (d *Domain) validate() error {
	if d.ID == "" {
		return fmt.Errorf("domain id is required")
	}
	if strings.TrimSpace(d.GatheringPrompt) == "" {
		return fmt.Errorf("domain %s: gathering_prompt is required", d.ID)
	}
	if strings.TrimSpace(d.AnsweringPrompt) == "" {
		return fmt.Errorf("domain %s: answering_prompt is required", d.ID)
	}
	switch d.Precompute {
	case "", PrecomputeFiltration, PrecomputeSpray:
	default:
		return fmt.Errorf("domain %s: unknown precompute kind %q", d.ID, d.Precompute)
	}
	return d.Reference.validate()
}

// Registry holds the domains loaded at startup. It is read-only after Load.
type Registry struct {
	domains map[string]*Domain
	order   []string
	def     string
}

// Load reads every *.yaml and *.yml file in dir. A file without an id takes its base name.
// defaultID names the domain used for sessions that do not pick one; empty means the first
// domain in id order.
func Load(dir, defaultID string) (*Registry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read domains directory: %w", err)
	}
	var domains []*Domain
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		d, err := LoadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		domains = append(domains, d)
	}
	return NewRegistry(defaultID, domains...)
}

// LoadFile reads one domain record.
func LoadFile(path string) (*Domain, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read domain file: %w", err)
	}
	var d Domain
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to parse domain file %s: %w", filepath.Base(path), err)
	}
	if d.ID == "" {
		d.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if d.DisplayName == "" {
		d.DisplayName = d.ID
	}
	if err := d.validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// NewRegistry builds a registry from already loaded domains.
func NewRegistry(defaultID string, domains ...*Domain) (*Registry, error) {
	if len(domains) == 0 {
		return nil, fmt.Errorf("no domains configured")
	}
	r := &Registry{domains: make(map[string]*Domain, len(domains))}
	for _, d := range domains {
		if _, dup := r.domains[d.ID]; dup {
			return nil, fmt.Errorf("duplicate domain id %q", d.ID)
		}
		r.domains[d.ID] = d
		r.order = append(r.order, d.ID)
	}
	sort.Strings(r.order)
	if defaultID == "" {
		defaultID = r.order[0]
	}
	if _, ok := r.domains[defaultID]; !ok {
		return nil, fmt.Errorf("default domain %q: %w", defaultID, ErrUnknownDomain)
	}
	r.def = defaultID
	return r, nil
}

// Get returns the domain with the given id; an empty id returns the default domain.
func (r *Registry) Get(id string) (*Domain, error) {
	if id == "" {
		id = r.def
	}
	d, ok := r.domains[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDomain, id)
	}
	return d, nil
}

// Default returns the default domain.
func (r *Registry) Default() *Domain {
	return r.domains[r.def]
}

// List returns every domain in id order.
func (r *Registry) List() []*Domain {
	out := make([]*Domain, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.domains[id])
	}
	return out
}
