package consultation

import (
	"regexp"
	"strings"
)

// SectionFullReport names the detailed report part of an initial recommendation.
const SectionFullReport = "full_report"

// passthroughAfter is how much text is buffered waiting for <chat_summary> before the
// response is streamed as is.
const passthroughAfter = 500

const (
	summaryOpen  = "<chat_summary>"
	summaryClose = "</chat_summary>"
	reportOpen   = "<full_report>"
	reportClose  = "</full_report>"
)

var sectionTags = []string{summaryOpen, summaryClose, reportOpen, reportClose}

type sectionMode int

const (
	modeBuffering sectionMode = iota
	modeSummary
	modeSummaryDone
	modeReport
	modePassthrough
	modeDone
)

// sectionWriter turns a streamed <chat_summary>/<full_report> response into chunk and
// section callbacks with the tags removed.
type sectionWriter struct {
	chunk   func(string) error
	section func(string) error
	mode    sectionMode
	pending string
}

func newSectionWriter(chunk, section func(string) error) *sectionWriter {
	return &sectionWriter{chunk: chunk, section: section}
}

func (w *sectionWriter) Write(delta string) error {
	w.pending += delta
	for {
		switch w.mode {
		case modeBuffering:
			if i := strings.Index(w.pending, summaryOpen); i >= 0 {
				w.pending = w.pending[i+len(summaryOpen):]
				w.mode = modeSummary
				continue
			}
			if len(w.pending) > passthroughAfter {
				w.mode = modePassthrough
				continue
			}
			return nil

		case modeSummary:
			if i := strings.Index(w.pending, summaryClose); i >= 0 {
				out := w.pending[:i]
				w.pending = w.pending[i+len(summaryClose):]
				w.mode = modeSummaryDone
				if err := w.send(out); err != nil {
					return err
				}
				continue
			}
			return w.sendSafe(summaryClose)

		case modeSummaryDone:
			if i := strings.Index(w.pending, reportOpen); i >= 0 {
				w.pending = w.pending[i+len(reportOpen):]
				w.mode = modeReport
				if err := w.section(SectionFullReport); err != nil {
					return err
				}
				continue
			}
			return nil

		case modeReport:
			if i := strings.Index(w.pending, reportClose); i >= 0 {
				out := w.pending[:i]
				w.pending = ""
				w.mode = modeDone
				return w.send(out)
			}
			return w.sendSafe(reportClose)

		case modePassthrough:
			keep := 0
			for _, tag := range sectionTags {
				keep = max(keep, partialSuffix(w.pending, tag))
			}
			out := stripSectionTags(w.pending[:len(w.pending)-keep])
			w.pending = w.pending[len(w.pending)-keep:]
			return w.send(out)

		default:
			w.pending = ""
			return nil
		}
	}
}

// Close forwards whatever is still held back.
func (w *sectionWriter) Close() error {
	out := w.pending
	w.pending = ""
	switch w.mode {
	case modeBuffering, modePassthrough:
		return w.send(stripSectionTags(out))
	case modeSummary:
		return w.send(out[:len(out)-partialSuffix(out, summaryClose)])
	case modeReport:
		return w.send(out[:len(out)-partialSuffix(out, reportClose)])
	case modeSummaryDone:
		if strings.TrimSpace(out) != "" {
			return w.send(out)
		}
	}
	return nil
}

// sendSafe forwards pending text except a trailing partial tag.
func (w *sectionWriter) sendSafe(tag string) error {
	keep := partialSuffix(w.pending, tag)
	out := w.pending[:len(w.pending)-keep]
	w.pending = w.pending[len(w.pending)-keep:]
	return w.send(out)
}

func (w *sectionWriter) send(s string) error {
	if s == "" {
		return nil
	}
	return w.chunk(s)
}

var (
	summaryPattern = regexp.MustCompile(`(?s)<chat_summary>(.*?)(?:</chat_summary>|$)`)
	reportPattern  = regexp.MustCompile(`(?s)<full_report>(.*?)(?:</full_report>|$)`)
)

// SplitSections separates a complete recommendation into its summary and full report.
// Without a <chat_summary> the whole text, tags removed, is the summary.
func SplitSections(text string) (summary, report string) {
	if m := reportPattern.FindStringSubmatch(text); m != nil {
		report = strings.TrimSpace(m[1])
	}
	if m := summaryPattern.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1]), report
	}
	return strings.TrimSpace(stripSectionTags(reportPattern.ReplaceAllString(text, ""))), report
}

func stripSectionTags(s string) string {
	for _, tag := range sectionTags {
		s = strings.ReplaceAll(s, tag, "")
	}
	return s
}
