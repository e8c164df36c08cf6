package consultation

import (
	"github.com/hyperjump/soudan/internal/confidence"
	"github.com/hyperjump/soudan/internal/models"
)

// EventType names a server-sent event.
type EventType string

const (
	EventStatus   EventType = "status"
	EventMetadata EventType = "metadata"
	EventChunk    EventType = "chunk"
	EventSection  EventType = "section"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
)

// Event is one message on a turn's stream. Data is JSON encoded by the transport.
type Event struct {
	Type EventType
	Data any
}

// Status is a progress message.
type Status struct {
	Message string `json:"message"`
}

// Metadata reports the phase and what gathering produced. Confidence is set once
// retrieval has run.
type Metadata struct {
	Phase              models.Phase     `json:"phase"`
	ApplicationDomain  string           `json:"application_domain,omitempty"`
	GatheredParameters map[string]any   `json:"gathered_parameters,omitempty"`
	RefinedQuery       string           `json:"refined_query,omitempty"`
	Confidence         confidence.Label `json:"confidence,omitempty"`
	Rationale          string           `json:"confidence_rationale,omitempty"`
}

// Chunk is a text fragment of the reply.
type Chunk struct {
	Text string `json:"text"`
}

// Section marks the start of a named part of the reply.
type Section struct {
	Name string `json:"section"`
}

// Complete ends a successful turn with the stored reply.
type Complete struct {
	Phase             models.Phase `json:"phase"`
	ApplicationDomain string       `json:"application_domain,omitempty"`
	Content           string       `json:"content"`
	FullReport        string       `json:"full_report,omitempty"`
}

// Failure ends a failed turn.
type Failure struct {
	Message string `json:"message"`
}

func statusEvent(msg string) Event {
	return Event{Type: EventStatus, Data: Status{Message: msg}}
}

func chunkEvent(text string) Event {
	return Event{Type: EventChunk, Data: Chunk{Text: text}}
}

func sectionEvent(name string) Event {
	return Event{Type: EventSection, Data: Section{Name: name}}
}

func completeEvent(sess *models.Session, content, report string) Event {
	return Event{Type: EventComplete, Data: Complete{
		Phase:             sess.Phase,
		ApplicationDomain: sess.ApplicationDomain,
		Content:           content,
		FullReport:        report,
	}}
}

func errorEvent(err error) Event {
	return Event{Type: EventError, Data: Failure{Message: err.Error()}}
}
