package redis

import (
	"context"
	"errors"
	"testing"

	"github.com/kursadbilgin/notify-pipeline/internal/domain"
)

func TestDigestStorePutLoad(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	rdb := newTestRedisClient(t)
	store, err := NewDigestStore(rdb)
	if err != nil {
		t.Fatalf("NewDigestStore() error = %v", err)
	}

	for _, u := range []domain.UserLikes{
		{UserID: "u2", UserEmail: "u2@example.com", Reviews: []domain.ReviewLikes{{ReviewID: "r2", Likes: 1}}},
		{UserID: "u1", UserEmail: "u1@example.com", Reviews: []domain.ReviewLikes{{ReviewID: "r1", Likes: 3}}},
	} {
		if err := store.Put(ctx, "2026-10-18", u); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
	}

	users, err := store.Load(ctx, "2026-10-18")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(users) != 2 || users[0].UserID != "u1" || users[1].UserID != "u2" {
		t.Fatalf("users = %+v, want u1, u2", users)
	}
	if users[0].Reviews[0].Likes != 3 {
		t.Fatalf("likes = %d, want 3", users[0].Reviews[0].Likes)
	}

	if ttl := rdb.TTL(ctx, DigestKey("2026-10-18")).Val(); ttl <= 0 {
		t.Fatalf("ttl = %v, want positive expiry", ttl)
	}

	empty, err := store.Load(ctx, "2026-10-17")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("users = %d, want 0 for a day without likes", len(empty))
	}
}

func TestDigestStoreLoadMalformedEntry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	rdb := newTestRedisClient(t)
	store, _ := NewDigestStore(rdb)

	rdb.HSet(ctx, DigestKey("2026-10-18"), "u1", "not json")

	if _, err := store.Load(ctx, "2026-10-18"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Load() error = %v, want ErrValidation", err)
	}
}

func TestDigestStorePutRequiresUserID(t *testing.T) {
	t.Parallel()

	store, _ := NewDigestStore(newTestRedisClient(t))
	if err := store.Put(context.Background(), "2026-10-18", domain.UserLikes{}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Put() error = %v, want ErrValidation", err)
	}
}
