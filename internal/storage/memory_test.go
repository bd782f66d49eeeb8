package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/org/assetgate/pkg/models"
)

func TestMemoryPolicyRoundTrip(t *testing.T) {
	m := NewMemoryBackend()
	ctx := context.Background()

	if _, err := m.GetPolicy(ctx, "GOLD", models.OpMint); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}

	pol := &models.Policy{AssetID: "GOLD", OpType: models.OpMint, Active: true, MaxAmount: 500}
	if err := m.WritePolicy(ctx, pol); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := m.GetPolicy(ctx, "GOLD", models.OpMint)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.MaxAmount != 500 || !got.Active {
		t.Errorf("policy = %+v", got)
	}

	// The backend hands out copies; mutating a read result must not
	// change the stored policy.
	got.MaxAmount = 1
	again, _ := m.GetPolicy(ctx, "GOLD", models.OpMint)
	if again.MaxAmount != 500 {
		t.Error("stored policy aliased a returned copy")
	}

	n, _ := m.CountPolicies(ctx)
	if n != 1 {
		t.Errorf("count = %d, want 1", n)
	}
}

func TestMemoryListPolicies(t *testing.T) {
	m := NewMemoryBackend()
	ctx := context.Background()
	for _, p := range []*models.Policy{
		{AssetID: "GOLD", OpType: models.OpMint},
		{AssetID: "GOLD", OpType: models.OpBurn},
		{AssetID: "SILVER", OpType: models.OpMint},
	} {
		if err := m.WritePolicy(ctx, p); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	gold, _ := m.ListPolicies(ctx, "GOLD")
	if len(gold) != 2 {
		t.Errorf("GOLD policies = %d, want 2", len(gold))
	}
	all, _ := m.ListPolicies(ctx, "")
	if len(all) != 3 {
		t.Errorf("all policies = %d, want 3", len(all))
	}
}

func TestMemoryWhitelist(t *testing.T) {
	m := NewMemoryBackend()
	ctx := context.Background()

	if err := m.AddWhitelistMember(ctx, "GOLD", models.OpTransfer, "alice"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := m.AddWhitelistMember(ctx, "GOLD", models.OpTransfer, "alice"); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("duplicate add err = %v, want ErrAlreadyExists", err)
	}

	ok, _ := m.IsWhitelisted(ctx, "GOLD", models.OpTransfer, "alice")
	if !ok {
		t.Error("alice should be a member")
	}

	if err := m.RemoveWhitelistMember(ctx, "GOLD", models.OpTransfer, "alice"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := m.RemoveWhitelistMember(ctx, "GOLD", models.OpTransfer, "alice"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second remove err = %v, want ErrNotFound", err)
	}
	members, _ := m.ListWhitelist(ctx, "GOLD", models.OpTransfer)
	if len(members) != 0 {
		t.Errorf("members = %v, want empty", members)
	}
}

func TestMemoryUsage(t *testing.T) {
	m := NewMemoryBackend()
	ctx := context.Background()

	if _, err := m.GetUsage(ctx, "GOLD", models.OpMint, "alice"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}

	rec := &models.UsageRecord{
		AssetID: "GOLD", OpType: models.OpMint, Principal: "alice",
		DayIndex: 20370, DailyTotal: 1500, LastOperationTime: 1_760_000_000,
	}
	if err := m.PutUsage(ctx, rec); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := m.GetUsage(ctx, "GOLD", models.OpMint, "alice")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.DailyTotal != 1500 || got.DayIndex != 20370 {
		t.Errorf("record = %+v", got)
	}

	// Upsert overwrites the same key.
	rec.DailyTotal = 2500
	if err := m.PutUsage(ctx, rec); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, _ = m.GetUsage(ctx, "GOLD", models.OpMint, "alice")
	if got.DailyTotal != 2500 {
		t.Errorf("total = %d, want 2500", got.DailyTotal)
	}
}

func TestMemoryEventsFilterAndOrder(t *testing.T) {
	m := NewMemoryBackend()
	ctx := context.Background()

	for i, typ := range []string{
		models.EventPolicyCreated,
		models.EventOperationValidated,
		models.EventOperationValidated,
		models.EventWhitelistAdded,
	} {
		e := &models.Event{
			Type:       typ,
			AssetID:    "GOLD",
			OpType:     models.OpMint,
			Principal:  "alice",
			Timestamp:  int64(i),
			OccurredAt: time.Now().UTC(),
		}
		if err := m.WriteEvent(ctx, e); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	all, err := m.QueryEvents(ctx, EventFilter{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("events = %d, want 4", len(all))
	}
	// Newest first.
	if all[0].Timestamp != 3 || all[3].Timestamp != 0 {
		t.Errorf("order = [%d ... %d], want newest first", all[0].Timestamp, all[3].Timestamp)
	}

	validated, _ := m.QueryEvents(ctx, EventFilter{Type: models.EventOperationValidated})
	if len(validated) != 2 {
		t.Errorf("filtered events = %d, want 2", len(validated))
	}

	limited, _ := m.QueryEvents(ctx, EventFilter{Limit: 2})
	if len(limited) != 2 || limited[0].Timestamp != 3 {
		t.Errorf("limited = %v", limited)
	}
	paged, _ := m.QueryEvents(ctx, EventFilter{Offset: 3, Limit: 2})
	if len(paged) != 1 || paged[0].Timestamp != 0 {
		t.Errorf("paged = %v", paged)
	}
	none, _ := m.QueryEvents(ctx, EventFilter{Offset: 10})
	if len(none) != 0 {
		t.Errorf("overshoot offset = %v, want empty", none)
	}
}

func TestMemoryTokens(t *testing.T) {
	m := NewMemoryBackend()
	ctx := context.Background()

	tok := &models.Token{ID: "tok-1", Capabilities: []string{models.CapValidate}, CreatedAt: time.Now()}
	if err := m.WriteToken(ctx, tok, "hash-1"); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := m.GetToken(ctx, "hash-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != "tok-1" {
		t.Errorf("token = %+v", got)
	}
	if _, err := m.GetToken(ctx, "hash-2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}

	n, _ := m.CountActiveTokens(ctx)
	if n != 1 {
		t.Errorf("active tokens = %d, want 1", n)
	}

	if err := m.RevokeToken(ctx, "tok-1"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	got, _ = m.GetToken(ctx, "hash-1")
	if !got.IsRevoked() {
		t.Error("token should be revoked")
	}
	n, _ = m.CountActiveTokens(ctx)
	if n != 0 {
		t.Errorf("active tokens = %d, want 0", n)
	}

	if err := m.RevokeToken(ctx, "tok-missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
