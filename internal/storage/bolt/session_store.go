package bolt

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/goodtune/presenced/internal/storage"
	"go.etcd.io/bbolt"
)

type sessionStore struct {
	db *bbolt.DB
}

func (s *sessionStore) Create(ctx context.Context, start time.Time) (*storage.Session, error) {
	var session storage.Session
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketSessions))
		if b == nil {
			return fmt.Errorf("sessions bucket missing")
		}
		id, err := b.NextSequence()
		if err != nil {
			return fmt.Errorf("next session id: %w", err)
		}
		session = storage.Session{ID: id, StartTime: start}
		data, err := marshal(session)
		if err != nil {
			return err
		}
		return b.Put(sessionKey(id), data)
	})
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (s *sessionStore) Get(ctx context.Context, id uint64) (*storage.Session, error) {
	return getBucketValue[storage.Session](ctx, s.db, bucketSessions, sessionKey(id))
}

func (s *sessionStore) ListOpen(ctx context.Context) ([]storage.Session, error) {
	sessions, err := listBucket[storage.Session](ctx, s.db, bucketSessions)
	if err != nil {
		return nil, err
	}
	open := sessions[:0]
	for _, session := range sessions {
		if session.Open() {
			open = append(open, session)
		}
	}
	return open, nil
}

func (s *sessionStore) ListStartedSince(ctx context.Context, cutoff time.Time) ([]storage.Session, error) {
	sessions, err := listBucket[storage.Session](ctx, s.db, bucketSessions)
	if err != nil {
		return nil, err
	}
	recent := sessions[:0]
	for _, session := range sessions {
		if !session.StartTime.Before(cutoff) {
			recent = append(recent, session)
		}
	}
	// Keys are big-endian IDs, so bucket order is creation order; a
	// recovered crash session can still be created out of start order.
	sort.Slice(recent, func(i, j int) bool { return recent[i].StartTime.Before(recent[j].StartTime) })
	return recent, nil
}

func (s *sessionStore) Touch(ctx context.Context, id uint64, lastSample time.Time) error {
	return s.update(ctx, id, func(session *storage.Session) error {
		session.LastSample = &lastSample
		return nil
	})
}

func (s *sessionStore) Close(ctx context.Context, id uint64, end time.Time) error {
	return s.update(ctx, id, func(session *storage.Session) error {
		if !session.Open() {
			return storage.ErrSessionClosed
		}
		session.EndTime = &end
		return nil
	})
}

func (s *sessionStore) update(ctx context.Context, id uint64, mutate func(*storage.Session) error) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketSessions))
		if b == nil {
			return fmt.Errorf("sessions bucket missing")
		}
		key := sessionKey(id)
		value := b.Get(key)
		if value == nil {
			return storage.ErrNotFound
		}
		var session storage.Session
		if err := unmarshal(value, &session); err != nil {
			return err
		}
		if err := mutate(&session); err != nil {
			return err
		}
		data, err := marshal(session)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
}
