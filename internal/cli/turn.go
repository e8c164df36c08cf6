package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/hyperjump/soudan/internal/consultation"
)

// TurnPrinter renders the events of one consultation turn. Reply text goes to Out as it
// streams; progress and metadata go to Info.
type TurnPrinter struct {
	Out  io.Writer
	Info io.Writer

	// Result is the final payload once a complete event has been printed.
	Result *consultation.Complete
	// Err holds the message of an error event.
	Err error
}

// Event prints an in-process event.
func (p *TurnPrinter) Event(ev consultation.Event) error {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return err
	}
	return p.Print(string(ev.Type), data)
}

// Print renders one event given its name and JSON payload. The returned error only reports
// an undecodable payload; an error event is recorded in Err.
func (p *TurnPrinter) Print(name string, data []byte) error {
	switch consultation.EventType(name) {
	case consultation.EventStatus:
		var s consultation.Status
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		fmt.Fprintf(p.Info, "… %s\n", s.Message)
	case consultation.EventMetadata:
		var m consultation.Metadata
		if err := json.Unmarshal(data, &m); err != nil {
			return err
		}
		if m.Confidence != "" {
			fmt.Fprintf(p.Info, "… confidence %s: %s\n", m.Confidence, m.Rationale)
		}
		if m.RefinedQuery != "" {
			fmt.Fprintf(p.Info, "… query: %s\n", m.RefinedQuery)
		}
	case consultation.EventChunk:
		var c consultation.Chunk
		if err := json.Unmarshal(data, &c); err != nil {
			return err
		}
		fmt.Fprint(p.Out, c.Text)
	case consultation.EventSection:
		var s consultation.Section
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s.Name == consultation.SectionFullReport {
			fmt.Fprint(p.Out, "\n\n── Full report ──\n\n")
		}
	case consultation.EventComplete:
		var c consultation.Complete
		if err := json.Unmarshal(data, &c); err != nil {
			return err
		}
		p.Result = &c
		fmt.Fprintln(p.Out)
	case consultation.EventError:
		var f consultation.Failure
		if err := json.Unmarshal(data, &f); err != nil {
			return err
		}
		fmt.Fprintln(p.Out)
		p.Err = errors.New(f.Message)
	}
	return nil
}
