package bolt

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/goodtune/presenced/internal/storage"
	"go.etcd.io/bbolt"
)

type userStore struct {
	db *bbolt.DB
}

func (s *userStore) Get(ctx context.Context, id string) (*storage.User, error) {
	return getBucketValue[storage.User](ctx, s.db, bucketUsers, []byte(id))
}

func (s *userStore) GetByMail(ctx context.Context, mail string) (*storage.User, error) {
	var user *storage.User
	err := s.db.View(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		index := tx.Bucket([]byte(bucketUserMail))
		if index == nil {
			return storage.ErrNotFound
		}
		id := index.Get([]byte(strings.ToLower(mail)))
		if id == nil {
			return storage.ErrNotFound
		}
		value := tx.Bucket([]byte(bucketUsers)).Get(id)
		if value == nil {
			return storage.ErrNotFound
		}
		var result storage.User
		if err := unmarshal(value, &result); err != nil {
			return err
		}
		user = &result
		return nil
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (s *userStore) List(ctx context.Context) ([]storage.User, error) {
	users, err := listBucket[storage.User](ctx, s.db, bucketUsers)
	if err != nil {
		return nil, err
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Mail < users[j].Mail })
	return users, nil
}

func (s *userStore) Upsert(ctx context.Context, user storage.User) error {
	user.Mail = strings.ToLower(user.Mail)
	data, err := marshal(user)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		users := tx.Bucket([]byte(bucketUsers))
		index := tx.Bucket([]byte(bucketUserMail))
		if users == nil || index == nil {
			return fmt.Errorf("user buckets missing")
		}
		if err := users.Put([]byte(user.ID), data); err != nil {
			return err
		}
		return index.Put([]byte(user.Mail), []byte(user.ID))
	})
}
