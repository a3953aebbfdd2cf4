package redis

import (
	"context"
	"sort"
	"strings"

	"github.com/goodtune/presenced/internal/storage"
	"github.com/redis/go-redis/v9"
)

type userStore struct {
	client *redis.Client
}

func (s *userStore) Get(ctx context.Context, id string) (*storage.User, error) {
	data, err := s.client.HGetAll(ctx, userKey(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}
	return parseUser(data), nil
}

func (s *userStore) GetByMail(ctx context.Context, mail string) (*storage.User, error) {
	id, err := s.client.Get(ctx, userMailKey(strings.ToLower(mail))).Result()
	if err == redis.Nil {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

func (s *userStore) List(ctx context.Context) ([]storage.User, error) {
	ids, err := s.client.SMembers(ctx, keyUsers).Result()
	if err != nil {
		return nil, err
	}

	users := make([]storage.User, 0, len(ids))
	for _, id := range ids {
		data, err := s.client.HGetAll(ctx, userKey(id)).Result()
		if err != nil || len(data) == 0 {
			continue
		}
		users = append(users, *parseUser(data))
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Mail < users[j].Mail })
	return users, nil
}

func (s *userStore) Upsert(ctx context.Context, user storage.User) error {
	user.Mail = strings.ToLower(user.Mail)

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, userKey(user.ID), map[string]any{
		"id":           user.ID,
		"mail":         user.Mail,
		"display_name": user.DisplayName,
		"job_title":    user.JobTitle,
	})
	pipe.SAdd(ctx, keyUsers, user.ID)
	pipe.Set(ctx, userMailKey(user.Mail), user.ID, 0)
	_, err := pipe.Exec(ctx)
	return err
}

func parseUser(data map[string]string) *storage.User {
	return &storage.User{
		ID:          data["id"],
		Mail:        data["mail"],
		DisplayName: data["display_name"],
		JobTitle:    data["job_title"],
	}
}
