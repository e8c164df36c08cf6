package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.etcd.io/bbolt"

	"github.com/hyperjump/soudan/internal/models"
)

var (
	bucketSessions  = []byte("sessions")
	bucketExchanges = []byte("exchanges")
)

// BoltSessionStore implements SessionStore on a bbolt file. Each session has a nested
// bucket of exchanges keyed by big-endian sequence number.
type BoltSessionStore struct {
	db *bbolt.DB
}

// NewBoltSessionStore opens or creates the bbolt database at path.
func NewBoltSessionStore(path string) (*BoltSessionStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create session directory: %w", err)
		}
	}
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketSessions); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(bucketExchanges); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltSessionStore{db: db}, nil
}

// sessionRecord is the stored form of a session; exchanges live in their own bucket.
type sessionRecord struct {
	ID                string                 `json:"id"`
	Domain            string                 `json:"domain"`
	Title             string                 `json:"title"`
	Phase             models.Phase           `json:"phase"`
	ApplicationDomain string                 `json:"application_domain,omitempty"`
	RefinedQuery      string                 `json:"refined_query,omitempty"`
	Parameters        map[string]interface{} `json:"parameters,omitempty"`
	CreatedAt         time.Time              `json:"created_at"`
	UpdatedAt         time.Time              `json:"updated_at"`
}

func toRecord(s *models.Session) sessionRecord {
	return sessionRecord{
		ID: s.ID, Domain: s.Domain, Title: s.Title, Phase: s.Phase,
		ApplicationDomain: s.ApplicationDomain, RefinedQuery: s.RefinedQuery,
		Parameters: s.Parameters, CreatedAt: s.CreatedAt, UpdatedAt: s.UpdatedAt,
	}
}

func (r sessionRecord) session() *models.Session {
	return &models.Session{
		ID: r.ID, Domain: r.Domain, Title: r.Title, Phase: r.Phase,
		ApplicationDomain: r.ApplicationDomain, RefinedQuery: r.RefinedQuery,
		Parameters: r.Parameters, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt,
	}
}

func putRecord(tx *bbolt.Tx, r sessionRecord) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketSessions).Put([]byte(r.ID), data)
}

func getRecord(tx *bbolt.Tx, id string) (sessionRecord, error) {
	var r sessionRecord
	data := tx.Bucket(bucketSessions).Get([]byte(id))
	if data == nil {
		return r, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return r, json.Unmarshal(data, &r)
}

// CreateSession stores a new session.
func (s *BoltSessionStore) CreateSession(_ context.Context, sess *models.Session) error {
	now := time.Now()
	sess.CreatedAt = now
	sess.UpdatedAt = now
	return s.db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.Bucket(bucketExchanges).CreateBucketIfNotExists([]byte(sess.ID)); err != nil {
			return err
		}
		return putRecord(tx, toRecord(sess))
	})
}

// GetSession returns a session with its exchanges.
func (s *BoltSessionStore) GetSession(_ context.Context, id string) (*models.Session, error) {
	var sess *models.Session
	err := s.db.View(func(tx *bbolt.Tx) error {
		r, err := getRecord(tx, id)
		if err != nil {
			return err
		}
		sess = r.session()
		b := tx.Bucket(bucketExchanges).Bucket([]byte(id))
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, v []byte) error {
			var e models.Exchange
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			sess.Exchanges = append(sess.Exchanges, &e)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// UpdateSession saves the mutable session fields.
func (s *BoltSessionStore) UpdateSession(_ context.Context, sess *models.Session) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if _, err := getRecord(tx, sess.ID); err != nil {
			return err
		}
		sess.UpdatedAt = time.Now()
		return putRecord(tx, toRecord(sess))
	})
}

// AppendExchange stores e under the session's next sequence number.
func (s *BoltSessionStore) AppendExchange(_ context.Context, sessionID string, e *models.Exchange) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		r, err := getRecord(tx, sessionID)
		if err != nil {
			return err
		}
		b, err := tx.Bucket(bucketExchanges).CreateBucketIfNotExists([]byte(sessionID))
		if err != nil {
			return err
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		e.Seq = int(seq)
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)
		if err := b.Put(key, data); err != nil {
			return err
		}
		r.UpdatedAt = e.CreatedAt
		return putRecord(tx, r)
	})
}

// ListSessions returns sessions without exchanges, most recently active first.
func (s *BoltSessionStore) ListSessions(_ context.Context, offset, limit int) ([]*models.Session, error) {
	var all []*models.Session
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSessions).ForEach(func(_, v []byte) error {
			var r sessionRecord
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			all = append(all, r.session())
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(all, func(i, j int) bool { return all[i].UpdatedAt.After(all[j].UpdatedAt) })
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

// DeleteSession removes a session and its exchanges.
func (s *BoltSessionStore) DeleteSession(_ context.Context, id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketExchanges).DeleteBucket([]byte(id)); err != nil && err != bbolt.ErrBucketNotFound {
			return err
		}
		return tx.Bucket(bucketSessions).Delete([]byte(id))
	})
}

// Close closes the database.
func (s *BoltSessionStore) Close() error {
	return s.db.Close()
}
