package redis

import (
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"lms-activity-service/internal/app"
	"lms-activity-service/internal/domain"
)

func TestSessionStoreSetsAndClearsKeys(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewSessionStore(client, time.Minute)

	play := app.NewPlay(app.PlayParams{
		ID:         "session-1",
		ActivityID: "count-the-fruit",
		Subject:    domain.SessionContext{SubjectID: "student-1", Role: domain.RoleStudent},
		Variant:    domain.VariantCountTheFruit,
	})
	store.Put(play)

	if got, err := mr.Get("activity:session:session-1"); err != nil || got != "student-1|count-the-fruit" {
		t.Fatalf("expected liveness marker, got %q (%v)", got, err)
	}
	if ttl := mr.TTL("activity:session:session-1"); ttl != time.Minute {
		t.Fatalf("expected ttl 1m, got %v", ttl)
	}
	if got, ok := store.Get("session-1"); !ok || got != play {
		t.Fatalf("expected stored play")
	}

	store.Delete("session-1")
	if mr.Exists("activity:session:session-1") {
		t.Fatalf("expected redis key to be removed")
	}
	if _, ok := store.Get("session-1"); ok {
		t.Fatalf("expected play to be gone")
	}
}

func TestSessionStoreGetRefreshesMarker(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewSessionStore(client, time.Minute)
	store.Put(app.NewPlay(app.PlayParams{
		ID:         "session-1",
		ActivityID: "name-the-color",
		Subject:    domain.SessionContext{SubjectID: "student-1", Role: domain.RoleStudent},
		Variant:    domain.VariantNameTheColor,
	}))

	mr.FastForward(45 * time.Second)
	if _, ok := store.Get("session-1"); !ok {
		t.Fatalf("expected stored play")
	}
	if ttl := mr.TTL("activity:session:session-1"); ttl != time.Minute {
		t.Fatalf("expected marker ttl refreshed to 1m, got %v", ttl)
	}
}
