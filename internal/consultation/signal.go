package consultation

import (
	"encoding/json"
	"regexp"
	"strings"
)

// SignalState classifies the readiness signal found in a gathering response.
type SignalState int

const (
	// SignalAbsent means the response carries no signal markup at all.
	SignalAbsent SignalState = iota
	// SignalMalformed means signal markup is present but incomplete or unparsable, usually
	// because the output hit its token limit mid-tag.
	SignalMalformed
	// SignalPresent means a complete signal block was parsed.
	SignalPresent
)

func (s SignalState) String() string {
	switch s {
	case SignalMalformed:
		return "malformed"
	case SignalPresent:
		return "present"
	default:
		return "absent"
	}
}

// DefaultApplicationDomain is used when a signal names no application domain.
const DefaultApplicationDomain = "general"

// Signal is the parsed readiness signal. Only a present signal carries fields.
type Signal struct {
	State             SignalState
	Ready             bool
	RefinedQuery      string
	ApplicationDomain string
	Parameters        map[string]any
}

// Transition reports whether the signal moves the session to answering.
func (s Signal) Transition() bool {
	return s.State == SignalPresent && s.Ready
}

const signalOpen = "<consultation_signal>"

var (
	signalBlock = regexp.MustCompile(`(?s)<consultation_signal>(.*?)</consultation_signal>`)
	signalTail  = regexp.MustCompile(`(?s)<consultation_signal>.*$`)
	signalFrags = regexp.MustCompile(`</?(?:consultation_signal|ready|refined_query|application_domain|parameters)[^>\n]{0,64}>?`)
	// a dangling "<consult" or "</para" cut off at the end of the output
	signalPartial = regexp.MustCompile(`</?(?:c|co|con|cons|consu|consul|consult|consulta|consultat|consultati|consultatio|consultation|consultation_|consultation_s|consultation_si|consultation_sig|consultation_sign|consultation_signa)?$`)
)

// ParseSignal classifies text. A well-formed block whose ready field is anything but "true"
// is present and not ready. A block with an unclosed tag or without a ready field is
// malformed, as is output that ends partway through the opening tag. Unparsable parameters
// are kept under the "raw" key.
func ParseSignal(text string) Signal {
	m := signalBlock.FindStringSubmatch(text)
	if m == nil {
		if strings.Contains(text, "<consultation_signal") || signalFrags.MatchString(text) || cutOffTag(text) {
			return Signal{State: SignalMalformed}
		}
		return Signal{State: SignalAbsent}
	}
	body := m[1]

	ready, ok := field(body, "ready")
	if !ok {
		return Signal{State: SignalMalformed}
	}
	sig := Signal{
		State: SignalPresent,
		Ready: strings.EqualFold(ready, "true"),
	}
	sig.RefinedQuery, _ = field(body, "refined_query")
	sig.ApplicationDomain, _ = field(body, "application_domain")
	if sig.ApplicationDomain == "" {
		sig.ApplicationDomain = DefaultApplicationDomain
	}
	if raw, ok := field(body, "parameters"); ok && raw != "" {
		params := map[string]any{}
		if err := json.Unmarshal([]byte(raw), &params); err != nil {
			params = map[string]any{"raw": raw}
		}
		sig.Parameters = params
	}
	return sig
}

// StripSignal removes complete signal blocks, orphan signal tags and an unclosed trailing
// block, then trims surrounding whitespace.
func StripSignal(text string) string {
	text = signalBlock.ReplaceAllString(text, "")
	text = signalTail.ReplaceAllString(text, "")
	text = signalFrags.ReplaceAllString(text, "")
	text = signalPartial.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

// cutOffTag reports whether text ends with a truncated opening or closing signal tag such as
// "<consultation_sig". A bare "<" does not count.
func cutOffTag(text string) bool {
	m := signalPartial.FindString(text)
	return strings.TrimLeft(m, "</") != ""
}

func field(body, name string) (string, bool) {
	open, close := "<"+name+">", "</"+name+">"
	i := strings.Index(body, open)
	if i < 0 {
		return "", false
	}
	rest := body[i+len(open):]
	j := strings.Index(rest, close)
	if j < 0 {
		return "", false
	}
	return strings.TrimSpace(rest[:j]), true
}

// signalGuard forwards streamed text while holding back anything that may be the start of a
// signal block. Once the opening tag is seen nothing more is forwarded.
type signalGuard struct {
	forward func(string) error
	pending string
	raw     strings.Builder
	closed  bool
}

func newSignalGuard(forward func(string) error) *signalGuard {
	return &signalGuard{forward: forward}
}

func (g *signalGuard) Write(delta string) error {
	g.raw.WriteString(delta)
	if g.closed {
		return nil
	}
	g.pending += delta
	if i := strings.Index(g.pending, signalOpen); i >= 0 {
		out := g.pending[:i]
		g.pending = ""
		g.closed = true
		return g.send(out)
	}
	keep := partialSuffix(g.pending, signalOpen)
	out := g.pending[:len(g.pending)-keep]
	g.pending = g.pending[len(g.pending)-keep:]
	return g.send(out)
}

// Flush ends the stream. Held-back text is always a proper prefix of the opening tag, so the
// stream was cut off inside the tag and the fragment is dropped, as StripSignal does.
func (g *signalGuard) Flush() error {
	g.pending = ""
	return nil
}

// Text returns everything written, signal included.
func (g *signalGuard) Text() string {
	return g.raw.String()
}

func (g *signalGuard) send(s string) error {
	if s == "" {
		return nil
	}
	return g.forward(s)
}

// partialSuffix returns the length of the longest suffix of s that is a proper prefix of tag.
func partialSuffix(s, tag string) int {
	n := min(len(s), len(tag)-1)
	for ; n > 0; n-- {
		if strings.HasSuffix(s, tag[:n]) {
			return n
		}
	}
	return 0
}
