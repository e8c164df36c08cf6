package models

import "time"

// Phase is the consultation phase of a session. It only ever moves from gathering to answering.
type Phase string

const (
	PhaseGathering Phase = "gathering"
	PhaseAnswering Phase = "answering"
)

// Role identifies who authored an exchange.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Session is one consultation.
type Session struct {
	ID                string                 `json:"id"`
	Domain            string                 `json:"domain"`
	Title             string                 `json:"title"`
	Phase             Phase                  `json:"phase"`
	ApplicationDomain string                 `json:"application_domain,omitempty"`
	RefinedQuery      string                 `json:"refined_query,omitempty"`
	Parameters        map[string]interface{} `json:"gathered_parameters,omitempty"`
	Exchanges         []*Exchange            `json:"exchanges,omitempty"`
	CreatedAt         time.Time              `json:"created_at"`
	UpdatedAt         time.Time              `json:"updated_at"`
}

// Exchange is one message in a session log.
type Exchange struct {
	Seq        int       `json:"seq"`
	Role       Role      `json:"role"`
	Content    string    `json:"content"`
	Phase      Phase     `json:"phase"`
	Incomplete bool      `json:"incomplete,omitempty"`
	Confidence string    `json:"confidence,omitempty"`
	ParentIDs  []string  `json:"parent_ids,omitempty"`
	FullReport string    `json:"full_report,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// GatheringTurns counts user messages sent while the session was gathering.
func (s *Session) GatheringTurns() int {
	n := 0
	for _, e := range s.Exchanges {
		if e.Role == RoleUser && e.Phase == PhaseGathering {
			n++
		}
	}
	return n
}

// UserMessages returns the content of every user exchange in order.
func (s *Session) UserMessages() []string {
	var out []string
	for _, e := range s.Exchanges {
		if e.Role == RoleUser && e.Content != "" {
			out = append(out, e.Content)
		}
	}
	return out
}
