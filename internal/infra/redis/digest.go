package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/kursadbilgin/notify-pipeline/internal/domain"
	goredis "github.com/redis/go-redis/v9"
)

const (
	digestKeyPrefix = "digest:likes:"
	digestTTL       = 72 * time.Hour
)

// DigestKey is the hash holding the per-user likes of one day.
func DigestKey(date string) string {
	return digestKeyPrefix + date
}

// DigestStore keeps daily review likes as a Redis hash keyed by user id.
type DigestStore struct {
	client *goredis.Client
}

func NewDigestStore(client *goredis.Client) (*DigestStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	return &DigestStore{client: client}, nil
}

// Put stores the likes of one user for date, replacing any previous entry.
func (s *DigestStore) Put(ctx context.Context, date string, user domain.UserLikes) error {
	if strings.TrimSpace(user.UserID) == "" {
		return fmt.Errorf("%w: user_id is required", domain.ErrValidation)
	}

	encoded, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to encode digest entry: %w", err)
	}

	key := DigestKey(date)
	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HSet(ctx, key, user.UserID, encoded)
		pipe.Expire(ctx, key, digestTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store digest entry: %w", err)
	}
	return nil
}

// Load returns every user entry recorded for date, ordered by user id.
func (s *DigestStore) Load(ctx context.Context, date string) ([]domain.UserLikes, error) {
	fields, err := s.client.HGetAll(ctx, DigestKey(date)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load digest %s: %w", date, err)
	}

	users := make([]domain.UserLikes, 0, len(fields))
	for userID, raw := range fields {
		var u domain.UserLikes
		if err := json.Unmarshal([]byte(raw), &u); err != nil {
			return nil, fmt.Errorf("%w: malformed digest entry for user %s: %v", domain.ErrValidation, userID, err)
		}
		if u.UserID == "" {
			u.UserID = userID
		}
		users = append(users, u)
	}

	sort.Slice(users, func(i, j int) bool { return users[i].UserID < users[j].UserID })
	return users, nil
}
