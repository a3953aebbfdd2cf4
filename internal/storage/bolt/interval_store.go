package bolt

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/goodtune/presenced/internal/storage"
	"go.etcd.io/bbolt"
)

type intervalStore struct {
	db *bbolt.DB
}

func (s *intervalStore) Open(ctx context.Context, interval storage.PresenceInterval) error {
	if interval.ID == "" {
		interval.ID = storage.NewIntervalID()
	}
	data, err := marshal(interval)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		intervals := tx.Bucket([]byte(bucketIntervals))
		open := tx.Bucket([]byte(bucketOpenIntervals))
		if intervals == nil || open == nil {
			return fmt.Errorf("interval buckets missing")
		}
		key := openIntervalKey(interval.SessionID, interval.UserID)
		if open.Get(key) != nil {
			return fmt.Errorf("open interval already exists for session %d user %s",
				interval.SessionID, interval.UserID)
		}
		if err := intervals.Put([]byte(interval.ID), data); err != nil {
			return err
		}
		return open.Put(key, []byte(interval.ID))
	})
}

func (s *intervalStore) Close(ctx context.Context, id string, end time.Time) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		intervals := tx.Bucket([]byte(bucketIntervals))
		open := tx.Bucket([]byte(bucketOpenIntervals))
		if intervals == nil || open == nil {
			return fmt.Errorf("interval buckets missing")
		}
		value := intervals.Get([]byte(id))
		if value == nil {
			return storage.ErrNotFound
		}
		var interval storage.PresenceInterval
		if err := unmarshal(value, &interval); err != nil {
			return err
		}
		closeInterval(&interval, end)
		data, err := marshal(interval)
		if err != nil {
			return err
		}
		if err := intervals.Put([]byte(id), data); err != nil {
			return err
		}
		return open.Delete(openIntervalKey(interval.SessionID, interval.UserID))
	})
}

func (s *intervalStore) Delete(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		intervals := tx.Bucket([]byte(bucketIntervals))
		open := tx.Bucket([]byte(bucketOpenIntervals))
		if intervals == nil || open == nil {
			return fmt.Errorf("interval buckets missing")
		}
		value := intervals.Get([]byte(id))
		if value == nil {
			return storage.ErrNotFound
		}
		var interval storage.PresenceInterval
		if err := unmarshal(value, &interval); err != nil {
			return err
		}
		if interval.Open() {
			if err := open.Delete(openIntervalKey(interval.SessionID, interval.UserID)); err != nil {
				return err
			}
		}
		return intervals.Delete([]byte(id))
	})
}

func (s *intervalStore) OpenForUser(ctx context.Context, sessionID uint64, userID string) (*storage.PresenceInterval, error) {
	var interval *storage.PresenceInterval
	err := s.db.View(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		open := tx.Bucket([]byte(bucketOpenIntervals))
		if open == nil {
			return storage.ErrNotFound
		}
		id := open.Get(openIntervalKey(sessionID, userID))
		if id == nil {
			return storage.ErrNotFound
		}
		value := tx.Bucket([]byte(bucketIntervals)).Get(id)
		if value == nil {
			return storage.ErrNotFound
		}
		var result storage.PresenceInterval
		if err := unmarshal(value, &result); err != nil {
			return err
		}
		interval = &result
		return nil
	})
	if err != nil {
		return nil, err
	}
	return interval, nil
}

func (s *intervalStore) ListBySession(ctx context.Context, sessionID uint64) ([]storage.PresenceInterval, error) {
	all, err := listBucket[storage.PresenceInterval](ctx, s.db, bucketIntervals)
	if err != nil {
		return nil, err
	}
	intervals := all[:0]
	for _, interval := range all {
		if interval.SessionID == sessionID {
			intervals = append(intervals, interval)
		}
	}
	sort.Slice(intervals, func(i, j int) bool {
		if intervals[i].StartTime.Equal(intervals[j].StartTime) {
			return intervals[i].UserID < intervals[j].UserID
		}
		return intervals[i].StartTime.Before(intervals[j].StartTime)
	})
	return intervals, nil
}

func (s *intervalStore) CloseAllOpen(ctx context.Context, sessionID uint64, end time.Time) (int, error) {
	closed := 0
	prefix := []byte(fmt.Sprintf("%020d/", sessionID))
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		intervals := tx.Bucket([]byte(bucketIntervals))
		open := tx.Bucket([]byte(bucketOpenIntervals))
		if intervals == nil || open == nil {
			return fmt.Errorf("interval buckets missing")
		}
		c := open.Cursor()
		for k, id := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, id = c.Next() {
			value := intervals.Get(id)
			if value == nil {
				continue
			}
			var interval storage.PresenceInterval
			if err := unmarshal(value, &interval); err != nil {
				return err
			}
			closeInterval(&interval, end)
			data, err := marshal(interval)
			if err != nil {
				return err
			}
			if err := intervals.Put(id, data); err != nil {
				return err
			}
			if err := c.Delete(); err != nil {
				return err
			}
			closed++
		}
		return nil
	})
	return closed, err
}

func closeInterval(interval *storage.PresenceInterval, end time.Time) {
	if end.Before(interval.StartTime) {
		end = interval.StartTime
	}
	interval.EndTime = &end
	interval.DurationSeconds = int64(end.Sub(interval.StartTime).Seconds())
}
