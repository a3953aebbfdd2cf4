package redis

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/goodtune/presenced/internal/storage"
	"github.com/redis/go-redis/v9"
)

type sessionStore struct {
	client *redis.Client
}

func (s *sessionStore) Create(ctx context.Context, start time.Time) (*storage.Session, error) {
	id, err := s.client.Incr(ctx, keySessionSeq).Result()
	if err != nil {
		return nil, err
	}

	session := storage.Session{ID: uint64(id), StartTime: start}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, sessionKey(session.ID), map[string]any{
		"id":         session.ID,
		"start_time": formatTime(start),
	})
	pipe.ZAdd(ctx, keySessions, redis.Z{
		Score:  float64(start.UnixNano()),
		Member: strconv.FormatUint(session.ID, 10),
	})
	pipe.SAdd(ctx, keySessionOpen, strconv.FormatUint(session.ID, 10))
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	return &session, nil
}

func (s *sessionStore) Get(ctx context.Context, id uint64) (*storage.Session, error) {
	data, err := s.client.HGetAll(ctx, sessionKey(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}
	return parseSession(data)
}

func (s *sessionStore) ListOpen(ctx context.Context) ([]storage.Session, error) {
	ids, err := s.client.SMembers(ctx, keySessionOpen).Result()
	if err != nil {
		return nil, err
	}
	return s.collect(ctx, ids)
}

func (s *sessionStore) ListStartedSince(ctx context.Context, cutoff time.Time) ([]storage.Session, error) {
	ids, err := s.client.ZRangeByScore(ctx, keySessions, &redis.ZRangeBy{
		Min: strconv.FormatInt(cutoff.UnixNano(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, err
	}
	return s.collect(ctx, ids)
}

func (s *sessionStore) Touch(ctx context.Context, id uint64, lastSample time.Time) error {
	exists, err := s.client.Exists(ctx, sessionKey(id)).Result()
	if err != nil {
		return err
	}
	if exists == 0 {
		return storage.ErrNotFound
	}
	return s.client.HSet(ctx, sessionKey(id), "last_sample", formatTime(lastSample)).Err()
}

func (s *sessionStore) Close(ctx context.Context, id uint64, end time.Time) error {
	data, err := s.client.HGetAll(ctx, sessionKey(id)).Result()
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return storage.ErrNotFound
	}
	if data["end_time"] != "" {
		return storage.ErrSessionClosed
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, sessionKey(id), "end_time", formatTime(end))
	pipe.SRem(ctx, keySessionOpen, strconv.FormatUint(id, 10))
	_, err = pipe.Exec(ctx)
	return err
}

func (s *sessionStore) collect(ctx context.Context, ids []string) ([]storage.Session, error) {
	sessions := make([]storage.Session, 0, len(ids))
	for _, id := range ids {
		data, err := s.client.HGetAll(ctx, keyPrefix+":session:"+id).Result()
		if err != nil || len(data) == 0 {
			continue
		}
		session, err := parseSession(data)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *session)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].StartTime.Before(sessions[j].StartTime)
	})
	return sessions, nil
}

func parseSession(data map[string]string) (*storage.Session, error) {
	id, err := parseUint64(data, "id")
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
	lastSample, err := parseOptionalTime(data, "last_sample")
	if err != nil {
		return nil, err
	}
	return &storage.Session{
		ID:         id,
		StartTime:  start,
		EndTime:    end,
		LastSample: lastSample,
	}, nil
}
