// Package store provides a BoltDB-backed session and record store for eumbeacon.
package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"

	"eumbeacon/internal/beacon"
)

var (
	sessionsBucket = []byte("sessions")
	recordsBucket  = []byte("records")
)

// UnknownSession groups records that carry no session and arrive without an agent ID.
const UnknownSession = "unknown"

// SessionRecord summarises one monitoring session.
type SessionRecord struct {
	SessionID   string            `json:"session_id"`
	AgentID     string            `json:"agent_id,omitempty"`
	Source      string            `json:"source"`
	FirstSeen   time.Time         `json:"first_seen"`
	LastSeen    time.Time         `json:"last_seen"`
	BeaconCount uint64            `json:"beacon_count"`
	RecordCount uint64            `json:"record_count"`
	Kinds       map[string]uint64 `json:"kinds"`
	Active      bool              `json:"active"`
}

// Store wraps a bbolt database for sessions and their records.
type Store struct {
	db  *bolt.DB
	mu  sync.RWMutex
	log zerolog.Logger
	now func() time.Time
}

// New opens or creates a BoltDB file at the given path.
func New(path string, log zerolog.Logger) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{sessionsBucket, recordsBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &Store{db: db, log: log, now: time.Now}, nil
}

// Close closes the underlying BoltDB.
func (s *Store) Close() error {
	return s.db.Close()
}

// SessionKey returns the session a record is filed under.
func SessionKey(r beacon.Record, agentID string) string {
	if id := beacon.SessionOf(r); id != "" {
		return id
	}
	if agentID != "" {
		return "agent:" + agentID
	}
	return UnknownSession
}

// Append files every record of b under its session, creating or updating the
// session summaries. Records keep their beacon order within a session.
func (s *Store) Append(source, agentID string, b *beacon.Beacon) error {
	if b.Empty() {
		return nil
	}

	var order []string
	groups := make(map[string][]beacon.Record)
	for _, r := range b.Data() {
		key := SessionKey(r, agentID)
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], r)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(tx *bolt.Tx) error {
		now := s.now()
		for _, key := range order {
			if err := s.appendSession(tx, key, source, agentID, groups[key], now); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) appendSession(tx *bolt.Tx, sessionID, source, agentID string, records []beacon.Record, now time.Time) error {
	sb := tx.Bucket(sessionsBucket)
	key := []byte(sessionID)

	var session SessionRecord
	if existing := sb.Get(key); existing != nil {
		if err := json.Unmarshal(existing, &session); err != nil {
			s.log.Warn().Err(err).Str("session", sessionID).Msg("Failed to unmarshal existing session, overwriting")
			session = SessionRecord{SessionID: sessionID, FirstSeen: now}
		}
		if !session.Active {
			s.log.Info().Str("session", sessionID).Msg("Session resumed")
		}
	} else {
		session = SessionRecord{SessionID: sessionID, FirstSeen: now}
		s.log.Info().
			Str("session", sessionID).
			Str("source", source).
			Str("agent", agentID).
			Msg("New session")
	}

	if session.Kinds == nil {
		session.Kinds = make(map[string]uint64)
	}
	session.Source = source
	if agentID != "" {
		session.AgentID = agentID
	}
	session.LastSeen = now
	session.BeaconCount++
	session.Active = true

	rb, err := tx.Bucket(recordsBucket).CreateBucketIfNotExists(key)
	if err != nil {
		return fmt.Errorf("creating record bucket for %s: %w", sessionID, err)
	}
	for _, r := range records {
		data, err := beacon.EncodeRecord(r)
		if err != nil {
			return fmt.Errorf("encoding record for %s: %w", sessionID, err)
		}
		seq, err := rb.NextSequence()
		if err != nil {
			return err
		}
		if err := rb.Put(itob(seq), data); err != nil {
			return fmt.Errorf("storing record: %w", err)
		}
		session.RecordCount++
		session.Kinds[r.Kind()]++
	}

	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshaling session: %w", err)
	}

	s.log.Debug().
		Str("session", sessionID).
		Int("records", len(records)).
		Uint64("total", session.RecordCount).
		Msg("Session updated")

	return sb.Put(key, data)
}

// Get returns one session summary.
func (s *Store) Get(sessionID string) (*SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var session *SessionRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(sessionsBucket).Get([]byte(sessionID))
		if v == nil {
			return fmt.Errorf("session %s not found", sessionID)
		}
		session = &SessionRecord{}
		return json.Unmarshal(v, session)
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// GetAll returns all session summaries ordered by session ID.
func (s *Store) GetAll() ([]SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sessions []SessionRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionsBucket).ForEach(func(k, v []byte) error {
			var session SessionRecord
			if err := json.Unmarshal(v, &session); err != nil {
				s.log.Warn().Err(err).Str("key", string(k)).Msg("Skipping corrupt session")
				return nil
			}
			sessions = append(sessions, session)
			return nil
		})
	})
	return sessions, err
}

// GetActive returns only active sessions.
func (s *Store) GetActive() ([]SessionRecord, error) {
	all, err := s.GetAll()
	if err != nil {
		return nil, err
	}

	var active []SessionRecord
	for _, r := range all {
		if r.Active {
			active = append(active, r)
		}
	}
	return active, nil
}

// Records returns the stored records of a session, in arrival order, as a beacon.
func (s *Store) Records(sessionID string) (*beacon.Beacon, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b := beacon.New()
	err := s.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(sessionsBucket).Get([]byte(sessionID)) == nil {
			return fmt.Errorf("session %s not found", sessionID)
		}
		rb := tx.Bucket(recordsBucket).Bucket([]byte(sessionID))
		if rb == nil {
			return nil
		}
		return rb.ForEach(func(k, v []byte) error {
			r, err := beacon.DecodeRecord(v)
			if err != nil {
				s.log.Warn().Err(err).Str("session", sessionID).Msg("Skipping undecodable record")
				return nil
			}
			b.Append(r)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

// CountActive returns the number of active sessions.
func (s *Store) CountActive() (int, error) {
	active, err := s.GetActive()
	return len(active), err
}

// RunExpiry starts a background goroutine that marks sessions inactive once
// their LastSeen is older than threshold. After every sweep report, when
// non-nil, receives the number of sessions still active. It stops when ctx is done.
func (s *Store) RunExpiry(ctx context.Context, checkInterval, threshold time.Duration, report func(active int)) {
	go func() {
		ticker := time.NewTicker(checkInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.expireStaleSessions(threshold)
				if report == nil {
					continue
				}
				if n, err := s.CountActive(); err == nil {
					report(n)
				}
			}
		}
	}()
}

func (s *Store) expireStaleSessions(threshold time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-threshold)
	expired := 0

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(sessionsBucket)

		// bbolt forbids modifying a bucket inside ForEach.
		updates := make(map[string][]byte)
		err := b.ForEach(func(k, v []byte) error {
			var session SessionRecord
			if err := json.Unmarshal(v, &session); err != nil {
				return nil
			}
			if !session.Active || !session.LastSeen.Before(cutoff) {
				return nil
			}

			session.Active = false
			data, err := json.Marshal(session)
			if err != nil {
				return nil
			}
			updates[string(k)] = data

			s.log.Info().
				Str("session", session.SessionID).
				Time("last_seen", session.LastSeen).
				Uint64("records", session.RecordCount).
				Msg("Session marked inactive")
			return nil
		})
		if err != nil {
			return err
		}

		for k, data := range updates {
			if err := b.Put([]byte(k), data); err != nil {
				return err
			}
		}
		expired = len(updates)
		return nil
	})
	if err != nil {
		s.log.Error().Err(err).Msg("Database error during expiry check")
	}
	return expired
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
