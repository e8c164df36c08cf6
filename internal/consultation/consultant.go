// Package consultation drives a session through its gathering and answering phases.
package consultation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/soudan/internal/confidence"
	"github.com/hyperjump/soudan/internal/config"
	"github.com/hyperjump/soudan/internal/domain"
	"github.com/hyperjump/soudan/internal/llm"
	"github.com/hyperjump/soudan/internal/models"
	"github.com/hyperjump/soudan/internal/precompute"
	"github.com/hyperjump/soudan/internal/storage"
)

var (
	// ErrTurnInProgress is returned when a session already has a turn streaming.
	ErrTurnInProgress = errors.New("a turn is already in progress for this session")
	// ErrEmptyContent is returned for a message with no content that does not force a transition.
	ErrEmptyContent = errors.New("message content is empty")
)

// Searcher is the retrieval the answering phase runs.
type Searcher interface {
	Search(ctx context.Context, query *models.SearchQuery) (*models.SearchResponse, error)
}

// Config holds the state machine limits.
type Config struct {
	// MaxGatheringTurns is the number of gathering user turns after which the next one
	// transitions without waiting for a signal.
	MaxGatheringTurns int
	// NudgeAfter is the gathering turn from which the model is asked to wrap up.
	NudgeAfter         int
	GatheringMaxTokens int
	AnsweringMaxTokens int
	TopK               int
	Thresholds         confidence.Thresholds
}

// ConfigFrom builds a Config from the loaded configuration.
func ConfigFrom(c *config.ConsultationConfig, th *config.ConfidenceConfig) Config {
	return Config{
		MaxGatheringTurns:  c.MaxGatheringTurns,
		NudgeAfter:         c.NudgeAfter,
		GatheringMaxTokens: c.GatheringMaxTokens,
		AnsweringMaxTokens: c.AnsweringMaxTokens,
		TopK:               c.TopK,
		Thresholds: confidence.Thresholds{
			Relevance:       th.RelevanceThreshold,
			HighMinMatches:  th.HighMinMatches,
			AgreementCutoff: th.AgreementCutoff,
		},
	}
}

func (c Config) withDefaults() Config {
	if c.MaxGatheringTurns <= 0 {
		c.MaxGatheringTurns = 10
	}
	if c.NudgeAfter <= 0 {
		c.NudgeAfter = 6
	}
	if c.GatheringMaxTokens <= 0 {
		c.GatheringMaxTokens = 1024
	}
	if c.AnsweringMaxTokens <= 0 {
		c.AnsweringMaxTokens = 4096
	}
	if c.TopK <= 0 {
		c.TopK = 10
	}
	c.Thresholds = c.Thresholds.WithDefaults()
	return c
}

// TurnRequest is one user message.
type TurnRequest struct {
	Content         string `json:"content"`
	ForceTransition bool   `json:"force_transition"`
}

// Consultant runs consultation turns. Turns on different sessions run concurrently; a
// session accepts one turn at a time.
type Consultant struct {
	store    storage.SessionStore
	searcher Searcher
	gen      llm.Generator
	domains  *domain.Registry
	cfg      Config
	logger   *zap.Logger

	mu     sync.Mutex
	active map[string]struct{}
}

// Option configures a Consultant.
type Option func(*Consultant)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Consultant) {
		c.logger = l
	}
}

// NewConsultant creates a Consultant.
func NewConsultant(store storage.SessionStore, searcher Searcher, gen llm.Generator, domains *domain.Registry, cfg Config, opts ...Option) *Consultant {
	c := &Consultant{
		store:    store,
		searcher: searcher,
		gen:      gen,
		domains:  domains,
		cfg:      cfg.withDefaults(),
		active:   make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	return c
}

// CreateSession starts a gathering session in the given domain; an empty domain id uses the
// default domain.
func (c *Consultant) CreateSession(ctx context.Context, domainID, title string) (*models.Session, error) {
	d, err := c.domains.Get(domainID)
	if err != nil {
		return nil, err
	}
	sess := &models.Session{
		ID:     uuid.New().String(),
		Domain: d.ID,
		Title:  strings.TrimSpace(title),
		Phase:  models.PhaseGathering,
	}
	if err := c.store.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return sess, nil
}

func (c *Consultant) acquire(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.active[id]; busy {
		return false
	}
	c.active[id] = struct{}{}
	return true
}

func (c *Consultant) release(id string) {
	c.mu.Lock()
	delete(c.active, id)
	c.mu.Unlock()
}

// Turn processes one user message and streams the reply through emit. Errors returned
// before the first event (unknown session, empty content, a turn already running) mean
// nothing was recorded. After the first event, failures are reported with an error event
// and whatever text was produced is stored as an incomplete exchange.
func (c *Consultant) Turn(ctx context.Context, sessionID string, req TurnRequest, emit func(Event) error) error {
	content := SanitizeContent(req.Content)
	if content == "" {
		if !req.ForceTransition {
			return ErrEmptyContent
		}
		content = ForcedContent
	}
	if !c.acquire(sessionID) {
		return ErrTurnInProgress
	}
	defer c.release(sessionID)

	sess, err := c.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	d, err := c.domains.Get(sess.Domain)
	if err != nil {
		return err
	}

	user := &models.Exchange{Role: models.RoleUser, Content: content, Phase: sess.Phase}
	if err := c.store.AppendExchange(ctx, sess.ID, user); err != nil {
		return fmt.Errorf("failed to store message: %w", err)
	}
	sess.Exchanges = append(sess.Exchanges, user)

	if sess.Title == "" {
		sess.Title = Title(content, d.DisplayName)
		if err := c.store.UpdateSession(ctx, sess); err != nil {
			return fmt.Errorf("failed to update session: %w", err)
		}
	}

	t := &turn{Consultant: c, sess: sess, domain: d, emit: emit}
	if sess.Phase == models.PhaseAnswering {
		return t.answer(ctx, false, "")
	}
	return t.gather(ctx, req.ForceTransition)
}

// turn is the state of one Turn call.
type turn struct {
	*Consultant
	sess   *models.Session
	domain *domain.Domain
	emit   func(Event) error
}

func (t *turn) gather(ctx context.Context, force bool) error {
	turns := t.sess.GatheringTurns()
	if turns > t.cfg.MaxGatheringTurns {
		t.logger.Info("gathering cutoff reached",
			zap.String("session_id", t.sess.ID),
			zap.Int("turns", turns),
		)
		t.transition(Signal{}, true)
		if err := t.saveTransition(ctx); err != nil {
			return err
		}
		return t.answer(ctx, true, "")
	}

	guard := newSignalGuard(func(s string) error {
		return t.emit(chunkEvent(s))
	})
	req := llm.Request{
		System:    gatheringSystem(t.domain, turns, t.cfg.NudgeAfter, force),
		Messages:  history(t.sess),
		MaxTokens: t.cfg.GatheringMaxTokens,
	}
	comp, err := t.gen.Stream(ctx, req, guard.Write)
	if err != nil {
		return t.fail(ctx, err, StripSignal(guard.Text()), models.PhaseGathering, "")
	}
	if err := guard.Flush(); err != nil {
		return t.fail(ctx, err, StripSignal(guard.Text()), models.PhaseGathering, "")
	}
	if comp.Truncated() {
		t.logger.Warn("gathering response truncated",
			zap.String("session_id", t.sess.ID),
			zap.Error(comp.Err()),
		)
	}

	sig := ParseSignal(comp.Text)
	visible := StripSignal(comp.Text)
	t.logger.Debug("gathering signal",
		zap.String("session_id", t.sess.ID),
		zap.Stringer("state", sig.State),
		zap.Bool("ready", sig.Ready),
	)

	if sig.Transition() || force {
		t.transition(sig, !sig.Transition())
		if err := t.saveTransition(ctx); err != nil {
			return err
		}
		return t.answer(ctx, true, visible)
	}

	if err := t.save(ctx, &models.Exchange{
		Role:    models.RoleAssistant,
		Content: visible,
		Phase:   models.PhaseGathering,
	}); err != nil {
		return err
	}
	if err := t.emit(t.metadataEvent(nil)); err != nil {
		return err
	}
	return t.emit(completeEvent(t.sess, visible, ""))
}

// transition moves the session to answering. With synthesize, or when the signal carries no
// query, the refined query is built from the user turns.
func (t *turn) transition(sig Signal, synthesize bool) {
	t.sess.Phase = models.PhaseAnswering
	if !synthesize {
		t.sess.RefinedQuery = strings.TrimSpace(sig.RefinedQuery)
		t.sess.ApplicationDomain = sig.ApplicationDomain
		if sig.Parameters != nil {
			t.sess.Parameters = sig.Parameters
		}
	}
	if t.sess.RefinedQuery == "" {
		t.sess.RefinedQuery = synthesizeQuery(t.sess)
	}
	if t.sess.ApplicationDomain == "" {
		t.sess.ApplicationDomain = DefaultApplicationDomain
	}
	t.logger.Info("consultation ready",
		zap.String("session_id", t.sess.ID),
		zap.String("application_domain", t.sess.ApplicationDomain),
		zap.Bool("synthesized", synthesize),
	)
}

func (t *turn) saveTransition(ctx context.Context) error {
	if err := t.store.UpdateSession(ctx, t.sess); err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	return nil
}

func (t *turn) answer(ctx context.Context, initial bool, lead string) error {
	query := t.answerQuery(initial)

	if err := t.emit(statusEvent("Searching knowledge base...")); err != nil {
		return t.fail(ctx, err, lead, models.PhaseAnswering, "")
	}
	resp, err := t.searcher.Search(ctx, t.searchQuery(query))
	if err != nil {
		return t.fail(ctx, fmt.Errorf("search failed: %w", err), lead, models.PhaseAnswering, "")
	}
	assessment := confidence.Assess(
		confidence.Candidates(resp.Results),
		resp.SemanticRanking,
		resp.LexicalRanking,
		t.thresholds(),
	)
	if assessment.Label == confidence.Low {
		t.logger.Info("knowledge gap",
			zap.Bool("gap", true),
			zap.String("session_id", t.sess.ID),
			zap.String("domain", t.domain.ID),
			zap.String("query", query),
			zap.Float64("top_score", assessment.TopScore),
			zap.Int("results", len(resp.Results)),
			zap.Strings("sources", assessment.Sources),
		)
	}
	if err := t.emit(t.metadataEvent(&assessment)); err != nil {
		return t.fail(ctx, err, lead, models.PhaseAnswering, string(assessment.Label))
	}
	if err := t.emit(statusEvent("Generating recommendation...")); err != nil {
		return t.fail(ctx, err, lead, models.PhaseAnswering, string(assessment.Label))
	}

	system := answeringSystem(answeringContext{
		domain:      t.domain,
		session:     t.sess,
		results:     resp.Results,
		assessment:  assessment,
		precomputed: precompute.Build(t.domain, t.sess.Parameters),
		initial:     initial,
	})
	req := llm.Request{
		System:    system,
		Messages:  history(t.sess),
		MaxTokens: t.cfg.AnsweringMaxTokens,
	}

	var acc strings.Builder
	chunk := func(s string) error {
		return t.emit(chunkEvent(s))
	}
	onDelta := func(s string) error {
		acc.WriteString(s)
		return chunk(s)
	}
	var sections *sectionWriter
	var guard *signalGuard
	if initial {
		sections = newSectionWriter(chunk, func(name string) error {
			return t.emit(sectionEvent(name))
		})
		onDelta = func(s string) error {
			acc.WriteString(s)
			return sections.Write(s)
		}
	} else {
		// a follow-up reply may still carry a stray readiness signal
		guard = newSignalGuard(chunk)
		onDelta = func(s string) error {
			acc.WriteString(s)
			return guard.Write(s)
		}
	}

	comp, err := t.gen.Stream(ctx, req, onDelta)
	switch {
	case err != nil:
	case sections != nil:
		err = sections.Close()
	default:
		err = guard.Flush()
	}
	label := string(assessment.Label)
	if err != nil {
		summary, report := StripSignal(acc.String()), ""
		if initial {
			summary, report = SplitSections(acc.String())
		}
		return t.fail(ctx, err, joinText(lead, summary), models.PhaseAnswering, label, report)
	}
	if comp.Truncated() {
		t.logger.Warn("recommendation truncated",
			zap.String("session_id", t.sess.ID),
			zap.Error(comp.Err()),
		)
	}

	summary, report := StripSignal(comp.Text), ""
	if initial {
		summary, report = SplitSections(comp.Text)
	}
	content := joinText(lead, summary)
	if err := t.save(ctx, &models.Exchange{
		Role:       models.RoleAssistant,
		Content:    content,
		Phase:      models.PhaseAnswering,
		Confidence: label,
		ParentIDs:  parentIDs(resp.Results),
		FullReport: report,
	}); err != nil {
		return err
	}
	return t.emit(completeEvent(t.sess, content, report))
}

// answerQuery is the refined query on transition and the latest user message on follow-ups,
// rebuilt from the log when empty.
func (t *turn) answerQuery(initial bool) string {
	var q string
	if initial {
		q = t.sess.RefinedQuery
	} else if msgs := t.sess.UserMessages(); len(msgs) > 0 {
		q = msgs[len(msgs)-1]
	}
	if q = strings.TrimSpace(q); q == "" || q == ForcedContent {
		q = synthesizeQuery(t.sess)
	}
	return q
}

func (t *turn) searchQuery(q string) *models.SearchQuery {
	o := t.domain.Overrides
	sq := &models.SearchQuery{
		Query:   q,
		TopK:    t.cfg.TopK,
		Filters: t.domain.Filters,
	}
	if o.TopK > 0 {
		sq.TopK = o.TopK
	}
	if o.SemanticWeight > 0 && o.LexicalWeight > 0 {
		sq.SemanticWeight = o.SemanticWeight
		sq.LexicalWeight = o.LexicalWeight
	}
	return sq
}

func (t *turn) thresholds() confidence.Thresholds {
	th := t.cfg.Thresholds
	o := t.domain.Overrides
	if o.RelevanceThreshold > 0 {
		th.Relevance = o.RelevanceThreshold
	}
	if o.HighMinMatches > 0 {
		th.HighMinMatches = o.HighMinMatches
	}
	if o.AgreementCutoff > 0 {
		th.AgreementCutoff = o.AgreementCutoff
	}
	return th
}

func (t *turn) save(ctx context.Context, e *models.Exchange) error {
	if err := t.store.AppendExchange(ctx, t.sess.ID, e); err != nil {
		return fmt.Errorf("failed to store reply: %w", err)
	}
	t.sess.Exchanges = append(t.sess.Exchanges, e)
	return nil
}

// fail records the partial reply as incomplete and, unless the caller went away, reports the
// error on the stream. The original error is returned.
func (t *turn) fail(ctx context.Context, cause error, partial string, phase models.Phase, label string, report ...string) error {
	e := &models.Exchange{
		Role:       models.RoleAssistant,
		Content:    strings.TrimSpace(partial),
		Phase:      phase,
		Incomplete: true,
		Confidence: label,
	}
	if len(report) > 0 {
		e.FullReport = report[0]
	}
	if err := t.save(context.WithoutCancel(ctx), e); err != nil {
		t.logger.Error("failed to store incomplete reply", zap.String("session_id", t.sess.ID), zap.Error(err))
	}

	if ctx.Err() != nil {
		t.logger.Info("turn cancelled", zap.String("session_id", t.sess.ID), zap.Error(cause))
		return cause
	}
	t.logger.Error("turn failed", zap.String("session_id", t.sess.ID), zap.Error(cause))
	if err := t.emit(errorEvent(cause)); err != nil {
		t.logger.Debug("failed to send error event", zap.Error(err))
	}
	return cause
}

func (t *turn) metadataEvent(a *confidence.Assessment) Event {
	m := Metadata{
		Phase:              t.sess.Phase,
		ApplicationDomain:  t.sess.ApplicationDomain,
		GatheredParameters: t.sess.Parameters,
		RefinedQuery:       t.sess.RefinedQuery,
	}
	if a != nil {
		m.Confidence = a.Label
		m.Rationale = a.Rationale
	}
	return Event{Type: EventMetadata, Data: m}
}

// history converts the exchange log into model messages. Empty incomplete replies are
// skipped and consecutive messages of the same role are merged.
func history(sess *models.Session) []llm.Message {
	var msgs []llm.Message
	for _, e := range sess.Exchanges {
		if e.Content == "" {
			continue
		}
		role := string(e.Role)
		if n := len(msgs); n > 0 && msgs[n-1].Role == role {
			msgs[n-1].Content += "\n\n" + e.Content
			continue
		}
		msgs = append(msgs, llm.Message{Role: role, Content: e.Content})
	}
	return msgs
}

// synthesizeQuery joins the user turns into a query, leaving out the stock forced message.
func synthesizeQuery(sess *models.Session) string {
	var parts []string
	for _, m := range sess.UserMessages() {
		if m != ForcedContent {
			parts = append(parts, m)
		}
	}
	q := strings.Join(parts, " ")
	if q == "" {
		q = sess.Title
	}
	return q
}

func parentIDs(results []*models.SearchResult) []string {
	ids := make([]string, 0, len(results))
	for _, r := range results {
		ids = append(ids, r.Parent.ID)
	}
	return ids
}

func joinText(lead, body string) string {
	lead, body = strings.TrimSpace(lead), strings.TrimSpace(body)
	switch {
	case lead == "":
		return body
	case body == "":
		return lead
	}
	return lead + "\n\n" + body
}
