package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/yln-platform/sheetstore/pkg/types"
)

func TestUpsertPendingNewEntry(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	pw, err := s.UpsertPending(ctx, types.EntityUsers, "u1", types.OpCreate,
		types.Record{"id": "u1", "email": "a@x.com"})
	if err != nil {
		t.Fatalf("UpsertPending failed: %v", err)
	}
	if pw.Status != types.StatusQueued {
		t.Errorf("status = %v, want queued", pw.Status)
	}
	if pw.Attempts != 0 || pw.Seq != 0 {
		t.Errorf("attempts/seq = %d/%d, want 0/0", pw.Attempts, pw.Seq)
	}

	got, err := s.GetPending(ctx, types.EntityUsers, "u1")
	if err != nil {
		t.Fatalf("GetPending failed: %v", err)
	}
	if got == nil || got.ID != pw.ID {
		t.Fatalf("GetPending = %+v, want entry %s", got, pw.ID)
	}
	if got.Payload["email"] != "a@x.com" {
		t.Errorf("payload email = %v, want a@x.com", got.Payload["email"])
	}
}

func TestUpsertPendingCoalesces(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first, err := s.UpsertPending(ctx, types.EntityUsers, "u1", types.OpCreate,
		types.Record{"id": "u1", "email": "a@x.com"})
	if err != nil {
		t.Fatalf("first UpsertPending failed: %v", err)
	}

	// N writes to the same identifier before any replay leave exactly one
	// entry holding the latest payload.
	for i, email := range []string{"b@x.com", "c@x.com", "d@x.com"} {
		pw, err := s.UpsertPending(ctx, types.EntityUsers, "u1", types.OpUpdate,
			types.Record{"id": "u1", "email": email})
		if err != nil {
			t.Fatalf("UpsertPending %d failed: %v", i, err)
		}
		if pw.ID != first.ID {
			t.Errorf("entry id changed on supersede")
		}
		// A create that never replayed stays a create.
		if pw.Op != types.OpCreate {
			t.Errorf("op = %v, want create", pw.Op)
		}
	}

	n, err := s.CountPending(ctx, types.StatusQueued)
	if err != nil {
		t.Fatalf("CountPending failed: %v", err)
	}
	if n != 1 {
		t.Errorf("queued entries = %d, want 1", n)
	}

	got, _ := s.GetPending(ctx, types.EntityUsers, "u1")
	if got.Payload["email"] != "d@x.com" {
		t.Errorf("payload email = %v, want latest d@x.com", got.Payload["email"])
	}
	if got.Seq != 3 {
		t.Errorf("seq = %d, want 3", got.Seq)
	}
}

func TestUpsertPendingCreateThenDeleteCancels(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.UpsertPending(ctx, types.EntityUsers, "u1", types.OpCreate,
		types.Record{"id": "u1"}); err != nil {
		t.Fatalf("UpsertPending failed: %v", err)
	}
	pw, err := s.UpsertPending(ctx, types.EntityUsers, "u1", types.OpDelete, nil)
	if err != nil {
		t.Fatalf("delete UpsertPending failed: %v", err)
	}
	if pw != nil {
		t.Errorf("expected cancellation, got %+v", pw)
	}
	got, _ := s.GetPending(ctx, types.EntityUsers, "u1")
	if got != nil {
		t.Errorf("expected no pending entry, got %+v", got)
	}
}

func TestUpsertPendingUpdateThenDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	s.UpsertPending(ctx, types.EntityUsers, "u1", types.OpUpdate,
		types.Record{"id": "u1", "role": "admin"})
	pw, err := s.UpsertPending(ctx, types.EntityUsers, "u1", types.OpDelete, nil)
	if err != nil {
		t.Fatalf("UpsertPending failed: %v", err)
	}
	if pw.Op != types.OpDelete {
		t.Errorf("op = %v, want delete", pw.Op)
	}
	if pw.Payload != nil {
		t.Errorf("payload = %v, want nil for delete", pw.Payload)
	}
}

func TestClaimCompleteLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	pw, _ := s.UpsertPending(ctx, types.EntityUsers, "u1", types.OpCreate,
		types.Record{"id": "u1"})

	// A fresh entry is due at its enqueue time, so the claim timestamp
	// must postdate the enqueue.
	now := time.Now().UTC()
	claimed, err := s.ClaimDuePending(ctx, now)
	if err != nil {
		t.Fatalf("ClaimDuePending failed: %v", err)
	}
	if claimed == nil || claimed.ID != pw.ID {
		t.Fatalf("claimed = %+v, want entry %s", claimed, pw.ID)
	}
	if claimed.Status != types.StatusInFlight {
		t.Errorf("status = %v, want in_flight", claimed.Status)
	}

	// Nothing else is due while the entry is in flight.
	second, err := s.ClaimDuePending(ctx, now)
	if err != nil {
		t.Fatalf("second claim failed: %v", err)
	}
	if second != nil {
		t.Errorf("second claim = %+v, want nil", second)
	}

	if err := s.CompletePending(ctx, claimed.ID, claimed.Seq); err != nil {
		t.Fatalf("CompletePending failed: %v", err)
	}
	for _, st := range []types.PendingStatus{types.StatusQueued, types.StatusInFlight, types.StatusAbandoned} {
		if n, _ := s.CountPending(ctx, st); n != 0 {
			t.Errorf("%s entries = %d, want 0", st, n)
		}
	}
}

func TestClaimRespectsBackoffDeadline(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	pw, _ := s.UpsertPending(ctx, types.EntityUsers, "u1", types.OpCreate,
		types.Record{"id": "u1"})
	now := time.Now().UTC()
	claimed, _ := s.ClaimDuePending(ctx, now)
	if claimed == nil {
		t.Fatal("fresh entry was not due")
	}
	if err := s.RequeuePending(ctx, claimed.ID, claimed.Seq, 1, now.Add(time.Hour), "rate limited"); err != nil {
		t.Fatalf("RequeuePending failed: %v", err)
	}

	if got, _ := s.ClaimDuePending(ctx, now); got != nil {
		t.Errorf("entry claimed before its deadline: %+v", got)
	}
	got, err := s.ClaimDuePending(ctx, now.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("claim after deadline failed: %v", err)
	}
	if got == nil || got.ID != pw.ID {
		t.Fatalf("claim after deadline = %+v, want entry", got)
	}
	if got.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", got.Attempts)
	}
	if got.LastError != "rate limited" {
		t.Errorf("last error = %q, want recorded", got.LastError)
	}
}

func TestCompleteSupersededRequeues(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	s.UpsertPending(ctx, types.EntityUsers, "u1", types.OpCreate,
		types.Record{"id": "u1", "email": "a@x.com"})
	claimed, _ := s.ClaimDuePending(ctx, time.Now().UTC())
	if claimed == nil {
		t.Fatal("fresh entry was not due")
	}

	// A write accepted mid-replay bumps seq.
	if _, err := s.UpsertPending(ctx, types.EntityUsers, "u1", types.OpUpdate,
		types.Record{"id": "u1", "email": "b@x.com"}); err != nil {
		t.Fatalf("supersede failed: %v", err)
	}

	if err := s.CompletePending(ctx, claimed.ID, claimed.Seq); err != nil {
		t.Fatalf("CompletePending failed: %v", err)
	}

	// The superseded payload must still be queued for replay.
	got, _ := s.GetPending(ctx, types.EntityUsers, "u1")
	if got == nil {
		t.Fatal("superseded entry was lost on complete")
	}
	if got.Status != types.StatusQueued {
		t.Errorf("status = %v, want queued", got.Status)
	}
	if got.Payload["email"] != "b@x.com" {
		t.Errorf("payload email = %v, want b@x.com", got.Payload["email"])
	}
}

func TestAbandonKeepsEntry(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	s.UpsertPending(ctx, types.EntityUsers, "u1", types.OpUpdate,
		types.Record{"id": "u1", "role": "admin"})
	claimed, _ := s.ClaimDuePending(ctx, time.Now().UTC())
	if claimed == nil {
		t.Fatal("fresh entry was not due")
	}
	if err := s.AbandonPending(ctx, claimed.ID, claimed.Seq, "gave up"); err != nil {
		t.Fatalf("AbandonPending failed: %v", err)
	}

	if n, _ := s.CountPending(ctx, types.StatusAbandoned); n != 1 {
		t.Errorf("abandoned entries = %d, want 1", n)
	}
	// Abandoned entries no longer count as outstanding.
	if got, _ := s.GetPending(ctx, types.EntityUsers, "u1"); got != nil {
		t.Errorf("GetPending = %+v, want nil after abandon", got)
	}
	// But the overlay listing still sees them.
	all, err := s.ListPending(ctx, types.EntityUsers)
	if err != nil {
		t.Fatalf("ListPending failed: %v", err)
	}
	if len(all) != 1 || all[0].Status != types.StatusAbandoned {
		t.Errorf("ListPending = %+v, want one abandoned entry", all)
	}

	// A fresh write for the same identifier gets a fresh entry.
	pw, err := s.UpsertPending(ctx, types.EntityUsers, "u1", types.OpUpdate,
		types.Record{"id": "u1", "role": "mentee"})
	if err != nil {
		t.Fatalf("UpsertPending after abandon failed: %v", err)
	}
	if pw.ID == claimed.ID {
		t.Error("new entry reused the abandoned row")
	}
	// The fresh write supersedes the stale abandoned entry.
	if n, _ := s.CountPending(ctx, types.StatusAbandoned); n != 0 {
		t.Errorf("abandoned entries after fresh write = %d, want 0", n)
	}
}

func TestClearAbandoned(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	s.UpsertPending(ctx, types.EntityUsers, "u1", types.OpUpdate,
		types.Record{"id": "u1", "role": "admin"})
	claimed, _ := s.ClaimDuePending(ctx, time.Now().UTC())
	if claimed == nil {
		t.Fatal("fresh entry was not due")
	}
	s.AbandonPending(ctx, claimed.ID, claimed.Seq, "gave up")

	n, err := s.ClearAbandoned(ctx, types.EntityUsers, "u1")
	if err != nil {
		t.Fatalf("ClearAbandoned failed: %v", err)
	}
	if n != 1 {
		t.Errorf("cleared = %d, want 1", n)
	}
	all, _ := s.ListPending(ctx, types.EntityUsers)
	if len(all) != 0 {
		t.Errorf("entries after clear = %d, want 0", len(all))
	}
}

func TestCancelQueued(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	s.UpsertPending(ctx, types.EntityUsers, "u1", types.OpCreate, types.Record{"id": "u1"})

	removed, err := s.CancelQueued(ctx, types.EntityUsers, "u1")
	if err != nil {
		t.Fatalf("CancelQueued failed: %v", err)
	}
	if !removed {
		t.Errorf("removed = false, want true")
	}
	got, _ := s.GetPending(ctx, types.EntityUsers, "u1")
	if got != nil {
		t.Errorf("entry still present after cancel: %+v", got)
	}

	// An in-flight entry is out of reach; only supersede can touch it.
	s.UpsertPending(ctx, types.EntityUsers, "u2", types.OpCreate, types.Record{"id": "u2"})
	s.ClaimDuePending(ctx, time.Now().UTC())
	removed, err = s.CancelQueued(ctx, types.EntityUsers, "u2")
	if err != nil {
		t.Fatalf("CancelQueued failed: %v", err)
	}
	if removed {
		t.Errorf("removed in-flight entry")
	}
}

func TestReclaimInFlight(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	s.UpsertPending(ctx, types.EntityUsers, "u1", types.OpCreate, types.Record{"id": "u1"})
	s.UpsertPending(ctx, types.EntityUsers, "u2", types.OpCreate, types.Record{"id": "u2"})
	now := time.Now().UTC()
	s.ClaimDuePending(ctx, now)
	s.ClaimDuePending(ctx, now)

	n, err := s.ReclaimInFlight(ctx)
	if err != nil {
		t.Fatalf("ReclaimInFlight failed: %v", err)
	}
	if n != 2 {
		t.Errorf("reclaimed = %d, want 2", n)
	}
	if q, _ := s.CountPending(ctx, types.StatusQueued); q != 2 {
		t.Errorf("queued after reclaim = %d, want 2", q)
	}
}

func TestPendingFIFOPerIdentifierOrdering(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	s.UpsertPending(ctx, types.EntityUsers, "u1", types.OpCreate, types.Record{"id": "u1"})
	time.Sleep(2 * time.Millisecond)
	s.UpsertPending(ctx, types.EntityUsers, "u2", types.OpCreate, types.Record{"id": "u2"})

	first, _ := s.ClaimDuePending(ctx, now.Add(time.Second))
	if first == nil || first.RecordID != "u1" {
		t.Fatalf("first claim = %+v, want the earliest enqueued entry", first)
	}
}
