package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hyperjump/soudan/internal/models"
)

// CreateSession inserts a new session.
func (s *SQLiteStorage) CreateSession(ctx context.Context, sess *models.Session) error {
	params, err := marshalParams(sess.Parameters)
	if err != nil {
		return err
	}
	now := time.Now()
	sess.CreatedAt = now
	sess.UpdatedAt = now
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, domain, title, phase, application_domain, refined_query, parameters, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.Domain, sess.Title, string(sess.Phase), sess.ApplicationDomain, sess.RefinedQuery, params, sess.CreatedAt, sess.UpdatedAt,
	)
	return err
}

// GetSession returns a session and its exchange log.
func (s *SQLiteStorage) GetSession(ctx context.Context, id string) (*models.Session, error) {
	var sess models.Session
	var phase string
	var title, appDomain, refined, params sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, domain, title, phase, application_domain, refined_query, parameters, created_at, updated_at
		 FROM sessions WHERE id = ?`, id,
	).Scan(&sess.ID, &sess.Domain, &title, &phase, &appDomain, &refined, &params, &sess.CreatedAt, &sess.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	sess.Phase = models.Phase(phase)
	sess.Title = title.String
	sess.ApplicationDomain = appDomain.String
	sess.RefinedQuery = refined.String
	if sess.Parameters, err = unmarshalParams(params.String); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, role, content, phase, incomplete, confidence, parent_ids, full_report, created_at
		 FROM exchanges WHERE session_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var e models.Exchange
		var role, ephase string
		var confidence, parentIDs, report sql.NullString
		if err := rows.Scan(&e.Seq, &role, &e.Content, &ephase, &e.Incomplete, &confidence, &parentIDs, &report, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Role = models.Role(role)
		e.Phase = models.Phase(ephase)
		e.Confidence = confidence.String
		e.FullReport = report.String
		if parentIDs.String != "" {
			if err := json.Unmarshal([]byte(parentIDs.String), &e.ParentIDs); err != nil {
				return nil, fmt.Errorf("failed to unmarshal parent ids: %w", err)
			}
		}
		sess.Exchanges = append(sess.Exchanges, &e)
	}
	return &sess, rows.Err()
}

// UpdateSession saves the mutable session fields.
func (s *SQLiteStorage) UpdateSession(ctx context.Context, sess *models.Session) error {
	params, err := marshalParams(sess.Parameters)
	if err != nil {
		return err
	}
	sess.UpdatedAt = time.Now()
	result, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET title = ?, phase = ?, application_domain = ?, refined_query = ?, parameters = ?, updated_at = ?
		 WHERE id = ?`,
		sess.Title, string(sess.Phase), sess.ApplicationDomain, sess.RefinedQuery, params, sess.UpdatedAt, sess.ID,
	)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("session %s: %w", sess.ID, ErrNotFound)
	}
	return nil
}

// AppendExchange stores e as the next exchange of the session.
func (s *SQLiteStorage) AppendExchange(ctx context.Context, sessionID string, e *models.Exchange) error {
	var parentIDs string
	if len(e.ParentIDs) > 0 {
		b, err := json.Marshal(e.ParentIDs)
		if err != nil {
			return fmt.Errorf("failed to marshal parent ids: %w", err)
		}
		parentIDs = string(b)
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var seq int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM exchanges WHERE session_id = ?`, sessionID,
	).Scan(&seq); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO exchanges (session_id, seq, role, content, phase, incomplete, confidence, parent_ids, full_report, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, seq, string(e.Role), e.Content, string(e.Phase), e.Incomplete, e.Confidence, parentIDs, e.FullReport, e.CreatedAt,
	); err != nil {
		return fmt.Errorf("failed to insert exchange: %w", err)
	}
	result, err := tx.ExecContext(ctx, `UPDATE sessions SET updated_at = ? WHERE id = ?`, e.CreatedAt, sessionID)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.Seq = seq
	return nil
}

// ListSessions returns sessions without exchanges, most recently active first.
func (s *SQLiteStorage) ListSessions(ctx context.Context, offset, limit int) ([]*models.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, domain, title, phase, created_at, updated_at
		 FROM sessions ORDER BY updated_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Session
	for rows.Next() {
		var sess models.Session
		var title sql.NullString
		var phase string
		if err := rows.Scan(&sess.ID, &sess.Domain, &title, &phase, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
			return nil, err
		}
		sess.Title = title.String
		sess.Phase = models.Phase(phase)
		out = append(out, &sess)
	}
	return out, rows.Err()
}

// DeleteSession removes a session and its exchanges.
func (s *SQLiteStorage) DeleteSession(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM exchanges WHERE session_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

func marshalParams(p map[string]interface{}) (string, error) {
	if len(p) == 0 {
		return "", nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to marshal parameters: %w", err)
	}
	return string(b), nil
}

func unmarshalParams(s string) (map[string]interface{}, error) {
	if s == "" {
		return nil, nil
	}
	var p map[string]interface{}
	if err := json.Unmarshal([]byte(s), &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal parameters: %w", err)
	}
	return p, nil
}
