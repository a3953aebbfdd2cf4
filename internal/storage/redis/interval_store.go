package redis

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/goodtune/presenced/internal/storage"
	"github.com/redis/go-redis/v9"
)

type intervalStore struct {
	client *redis.Client
}

func (s *intervalStore) Open(ctx context.Context, interval storage.PresenceInterval) error {
	if interval.ID == "" {
		interval.ID = storage.NewIntervalID()
	}

	// SetNX guards the one-open-interval-per-(session,user) invariant.
	openKey := openIntervalKey(interval.SessionID, interval.UserID)
	ok, err := s.client.SetNX(ctx, openKey, interval.ID, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("open interval already exists for session %d user %s",
			interval.SessionID, interval.UserID)
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, intervalKey(interval.ID), map[string]any{
		"id":         interval.ID,
		"session_id": interval.SessionID,
		"user_id":    interval.UserID,
		"start_time": formatTime(interval.StartTime),
	})
	pipe.SAdd(ctx, sessionIntervalsKey(interval.SessionID), interval.ID)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *intervalStore) Close(ctx context.Context, id string, end time.Time) error {
	interval, err := s.get(ctx, id)
	if err != nil {
		return err
	}
	if end.Before(interval.StartTime) {
		end = interval.StartTime
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, intervalKey(id), map[string]any{
		"end_time":         formatTime(end),
		"duration_seconds": int64(end.Sub(interval.StartTime).Seconds()),
	})
	pipe.Del(ctx, openIntervalKey(interval.SessionID, interval.UserID))
	_, err = pipe.Exec(ctx)
	return err
}

func (s *intervalStore) Delete(ctx context.Context, id string) error {
	interval, err := s.get(ctx, id)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, intervalKey(id))
	pipe.SRem(ctx, sessionIntervalsKey(interval.SessionID), id)
	if interval.Open() {
		pipe.Del(ctx, openIntervalKey(interval.SessionID, interval.UserID))
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (s *intervalStore) OpenForUser(ctx context.Context, sessionID uint64, userID string) (*storage.PresenceInterval, error) {
	id, err := s.client.Get(ctx, openIntervalKey(sessionID, userID)).Result()
	if err == redis.Nil {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.get(ctx, id)
}

func (s *intervalStore) ListBySession(ctx context.Context, sessionID uint64) ([]storage.PresenceInterval, error) {
	ids, err := s.client.SMembers(ctx, sessionIntervalsKey(sessionID)).Result()
	if err != nil {
		return nil, err
	}

	intervals := make([]storage.PresenceInterval, 0, len(ids))
	for _, id := range ids {
		interval, err := s.get(ctx, id)
		if err == storage.ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		intervals = append(intervals, *interval)
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
	intervals, err := s.ListBySession(ctx, sessionID)
	if err != nil {
		return 0, err
	}

	closed := 0
	for _, interval := range intervals {
		if !interval.Open() {
			continue
		}
		if err := s.Close(ctx, interval.ID, end); err != nil {
			return closed, err
		}
		closed++
	}
	return closed, nil
}

func (s *intervalStore) get(ctx context.Context, id string) (*storage.PresenceInterval, error) {
	data, err := s.client.HGetAll(ctx, intervalKey(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}
	return parseInterval(data)
}

func parseInterval(data map[string]string) (*storage.PresenceInterval, error) {
	sessionID, err := parseUint64(data, "session_id")
	if err != nil {
		return nil, err
	}
	start, err := parseTime(data["start_time"])
	if err != nil {
		return nil, err
	}
	end, err := parseOptionalTime(data, "end_time")
	if err != nil {
		return nil, err
	}
	duration, err := parseInt64(data, "duration_seconds")
	if err != nil {
		return nil, err
	}
	return &storage.PresenceInterval{
		ID:              data["id"],
		SessionID:       sessionID,
		UserID:          data["user_id"],
		StartTime:       start,
		EndTime:         end,
		DurationSeconds: duration,
	}, nil
}
