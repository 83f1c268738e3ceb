package audit

import (
	"context"
	"testing"
	"time"
)

func TestService_AppendRequiresSessionAndKind(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	if err := svc.Append(context.Background(), Event{Kind: KindUserJoined}); err == nil {
		t.Fatalf("expected error")
	}
	if err := svc.Append(context.Background(), Event{SessionID: "s"}); err == nil {
		t.Fatalf("expected error")
	}
	if len(repo.Events()) != 0 {
		t.Fatalf("invalid events must not be stored")
	}
}

func TestService_RecordStampsIDAndTime(t *testing.T) {
	repo := NewMemoryRepo()
	now := time.Unix(1700000000, 0).UTC()
	svc := NewServiceWithClock(repo, func() time.Time { return now })

	if err := svc.Record(context.Background(), "s-1", KindUserJoined, "doc-1", "CALLER joined the session"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	evs := repo.Events()
	if len(evs) != 1 {
		t.Fatalf("expected 1 event")
	}
	if evs[0].ID == "" || !evs[0].OccurredAt.Equal(now) {
		t.Fatalf("expected id and timestamp stamped, got %+v", evs[0])
	}
	if evs[0].ActorID != "doc-1" || evs[0].Kind != KindUserJoined {
		t.Fatalf("unexpected event: %+v", evs[0])
	}
}

func TestMemoryRepo_ListBySessionKeepsOrder(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)
	ctx := context.Background()

	_ = svc.Record(ctx, "a", KindSessionCreated, "", "")
	_ = svc.Record(ctx, "b", KindSessionCreated, "", "")
	_ = svc.Record(ctx, "a", KindUserJoined, "u", "")

	evs, err := repo.ListBySession(ctx, "a")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(evs) != 2 || evs[0].Kind != KindSessionCreated || evs[1].Kind != KindUserJoined {
		t.Fatalf("unexpected history: %+v", evs)
	}
}
