// Package e2e holds end-to-end tests over an engineering knowledge base: standards, product
// catalogs and field notes for filtration and spray applications.
package e2e

import (
	"fmt"
	"strings"

	"github.com/hyperjump/soudan/internal/models"
)

// E2EDocument is one corpus entry. Collection decides its authority weight.
type E2EDocument struct {
	ID         string
	Title      string
	Collection string
	Content    string
}

// QueryTestCase is a query and the documents of which at least one must be retrieved.
type QueryTestCase struct {
	Query          string
	ExpectedDocIDs []string
	Description    string
	// Identifier marks queries built around a product code or standard number.
	Identifier bool
}

// Corpus holds documents and query test cases.
type Corpus struct {
	Documents    []E2EDocument
	TestCases    []QueryTestCase
	TotalDocs    int
	TotalQueries int
}

type topic struct {
	title      string
	collection string
	phrase     string
	content    string
}

var topics = []topic{
	{"ISO 16889 Multi-pass Test", "standards", "multi-pass test method",
		"ISO 16889 specifies the multi-pass test method for hydraulic filter elements. The beta ratio is the upstream particle count divided by the downstream count at a given particle size."},
	{"ISO 4406 Cleanliness Codes", "standards", "three-number cleanliness code",
		"ISO 4406 expresses contamination as a three-number cleanliness code for particles at 4, 6 and 14 micrometres. Servo valves typically require 16/14/11 or cleaner."},
	{"ISO 2941 Collapse Pressure", "standards", "collapse and burst pressure",
		"ISO 2941 verifies the collapse and burst pressure of filter elements. Elements must withstand the rated differential pressure without structural failure."},
	{"ISO 3968 Pressure Drop", "standards", "pressure drop versus flow",
		"ISO 3968 measures pressure drop versus flow for filter housings and elements. Clean element pressure drop should stay below a third of the bypass setting."},
	{"ISO 11171 Particle Counter Calibration", "standards", "automatic particle counter calibration",
		"ISO 11171 covers automatic particle counter calibration with certified test dust. Counts are reported in micrometres(c)."},
	{"ISO 23369 Cyclic Flow", "standards", "cyclic flow conditions",
		"ISO 23369 extends multi-pass testing to cyclic flow conditions. Elements under pulsating flow shed captured particles."},
	{"HF-4020 Return Line Filter", "catalogs", "return line filter housing",
		"HF-4020 is a return line filter housing rated for 400 l/min. It accepts glass fibre elements from beta 10 to beta 1000."},
	{"HF-6100 Pressure Filter", "catalogs", "high pressure filter",
		"HF-6100 is a high pressure filter rated to 420 bar for servo circuits. Element collapse rating is 210 bar differential."},
	{"GF-200 Glass Fibre Element", "catalogs", "glass fibre media",
		"GF-200 uses multi-layer glass fibre media achieving beta 200 at 10 micrometres. Dirt holding capacity is 38 g."},
	{"CF-45 Cellulose Element", "catalogs", "cellulose media",
		"CF-45 uses cellulose media for low cost return filtration. It is not recommended for servo or proportional valves."},
	{"BV-3 Bypass Valve", "catalogs", "bypass valve cracking pressure",
		"BV-3 bypass valve cracking pressure is 3.5 bar. When the bypass opens, unfiltered oil reaches the system."},
	{"DPI-10 Differential Pressure Indicator", "catalogs", "differential pressure indicator",
		"DPI-10 is a visual and electrical differential pressure indicator set at 2.5 bar. It signals element change before bypass."},
	{"Sticking Servo Valves after Pump Replacement", "field-notes", "sticking servo valves",
		"Sticking servo valves after a pump replacement usually point to built-in contamination. Flush the circuit and fit a beta 200 pressure filter upstream of the valves."},
	{"Filter Element Collapse at Cold Start", "field-notes", "cold start collapse",
		"Cold start collapse occurs when viscous oil drives differential pressure beyond the element rating. Use a bypass valve and a heater for VG68 oil below 5 degrees."},
	{"Varnish in Turbine Lube Oil", "field-notes", "varnish removal",
		"Varnish removal in turbine lube oil requires depth media or electrostatic cleaning. Standard pleated elements do not hold soft contaminants."},
	{"Water Ingress in Mobile Hydraulics", "field-notes", "water ingress",
		"Water ingress in mobile hydraulics emulsifies oil and corrodes pumps. Desiccant breathers and water absorbing elements reduce free water."},
	{"Flat Fan Nozzle Selection", "catalogs", "flat fan nozzle",
		"A flat fan nozzle produces a tapered sheet for even coverage across a conveyor. Spray angles range from 15 to 110 degrees."},
	{"Full Cone Nozzle FC-08", "catalogs", "full cone pattern",
		"FC-08 produces a full cone pattern for gas cooling and dust suppression. Flow is 8 l/min at 3 bar."},
	{"Air Atomizing Nozzle AA-2", "catalogs", "air atomizing nozzle",
		"AA-2 is an air atomizing nozzle producing droplets below 50 micrometres. Air to liquid ratio controls droplet size."},
	{"Droplet Size Measurement", "standards", "laser diffraction droplet sizing",
		"Laser diffraction droplet sizing reports the Sauter mean diameter and DV50. Measure at the nozzle design pressure."},
	{"Spray Drift Reduction", "field-notes", "drift reduction",
		"Drift reduction relies on larger droplets from air induction nozzles and lower boom height. Fine droplets below 150 micrometres drift most."},
	{"Nozzle Wear and Flow Increase", "field-notes", "nozzle wear",
		"Nozzle wear enlarges the orifice and raises flow by more than 10 percent before pattern distortion is visible. Replace brass tips yearly."},
	{"Weber Number and Breakup", "standards", "Weber number breakup regime",
		"The Weber number breakup regime determines whether drops deform, bag or shear. Above a Weber number of 80 stripping breakup dominates."},
	{"Tank Cleaning Spray Balls", "catalogs", "tank cleaning spray ball",
		"A tank cleaning spray ball distributes rinse water over the vessel wall. Static spray balls need 1.5 bar at the ball."},
}

// BuildCorpus returns the engineering corpus and one query per document phrase, plus queries
// on product codes and standard numbers.
func BuildCorpus() *Corpus {
	docs := buildDocuments()
	cases := buildQueryTestCases(docs)
	return &Corpus{
		Documents:    docs,
		TestCases:    cases,
		TotalDocs:    len(docs),
		TotalQueries: len(cases),
	}
}

func buildDocuments() []E2EDocument {
	out := make([]E2EDocument, 0, len(topics))
	for i, t := range topics {
		out = append(out, E2EDocument{
			ID:         fmt.Sprintf("e2e-doc-%03d", i+1),
			Title:      t.title,
			Collection: t.collection,
			Content:    "# " + t.title + "\n\n" + t.content,
		})
	}
	return out
}

func buildQueryTestCases(docs []E2EDocument) []QueryTestCase {
	var cases []QueryTestCase
	for i, t := range topics {
		if i >= len(docs) {
			break
		}
		cases = append(cases, QueryTestCase{
			Query:          t.phrase,
			ExpectedDocIDs: []string{docs[i].ID},
			Description:    fmt.Sprintf("phrase %q finds %s", t.phrase, docs[i].ID),
		})
	}
	for _, code := range []string{"HF-4020", "HF-6100", "GF-200", "BV-3", "DPI-10", "FC-08", "AA-2", "ISO 4406", "ISO 16889"} {
		var ids []string
		for _, d := range docs {
			if containsPhrase(d, code) {
				ids = append(ids, d.ID)
			}
		}
		if len(ids) == 0 {
			continue
		}
		cases = append(cases, QueryTestCase{
			Query:          code,
			ExpectedDocIDs: ids,
			Description:    fmt.Sprintf("identifier %s", code),
			Identifier:     true,
		})
	}
	return cases
}

// containsPhrase matches case-insensitively, like the lexical index.
func containsPhrase(d E2EDocument, phrase string) bool {
	p := strings.ToLower(phrase)
	return strings.Contains(strings.ToLower(d.Title), p) || strings.Contains(strings.ToLower(d.Content), p)
}

// ToDocumentInputs converts the corpus documents for ingestion, carrying the collection.
func (c *Corpus) ToDocumentInputs() []*models.DocumentInput {
	out := make([]*models.DocumentInput, len(c.Documents))
	for i := range c.Documents {
		d := &c.Documents[i]
		out[i] = &models.DocumentInput{
			ID:       d.ID,
			Title:    d.Title,
			Content:  d.Content,
			Metadata: map[string]string{"collection": d.Collection},
		}
	}
	return out
}

// Collections lists the distinct collections in corpus order.
func (c *Corpus) Collections() []string {
	seen := map[string]bool{}
	var out []string
	for _, d := range c.Documents {
		if !seen[d.Collection] {
			seen[d.Collection] = true
			out = append(out, d.Collection)
		}
	}
	return out
}
