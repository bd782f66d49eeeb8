package engine

import (
	"context"
	"math"
	"sync"
	"testing"

	"github.com/org/assetgate/internal/storage"
	"github.com/org/assetgate/pkg/models"
)

// A fixed reference clock for tests: some time in 2025, comfortably far
// from the day-bucket boundary in either direction.
const baseTime int64 = 1_760_000_000

type eventSink struct {
	mu     sync.Mutex
	events []*models.Event
}

func (s *eventSink) Record(ctx context.Context, e *models.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	s.events = append(s.events, &cp)
}

func (s *eventSink) byType(eventType string) []*models.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Event
	for _, e := range s.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

func newTestEvaluator(t *testing.T) (*Evaluator, *storage.MemoryBackend, *eventSink) {
	t.Helper()
	store := storage.NewMemoryBackend()
	sink := &eventSink{}
	return NewEvaluator(store, sink), store, sink
}

func writePolicy(t *testing.T, store *storage.MemoryBackend, pol models.Policy) {
	t.Helper()
	if err := store.WritePolicy(context.Background(), &pol); err != nil {
		t.Fatalf("writing policy: %v", err)
	}
}

func mustValidate(t *testing.T, ev *Evaluator, asset string, principal, target models.AccountID, opType string, amount uint64, now int64) models.Decision {
	t.Helper()
	d, err := ev.Validate(context.Background(), asset, principal, target, opType, amount, now)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	return d
}

func mustPreview(t *testing.T, ev *Evaluator, asset string, principal models.AccountID, opType string, amount uint64, now int64) models.Decision {
	t.Helper()
	d, err := ev.Preview(context.Background(), asset, principal, opType, amount, now)
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	return d
}

func TestValidateDefaultAllow(t *testing.T) {
	ev, store, _ := newTestEvaluator(t)

	// No policy at all.
	d := mustValidate(t, ev, "GOLD", "alice", models.NilAccount, models.OpMint, 1_000_000, baseTime)
	if !d.Approved {
		t.Errorf("expected approval with no policy, got denial: %s", d.Reason)
	}

	// Inactive policy with every restriction set: none of them apply.
	writePolicy(t, store, models.Policy{
		AssetID: "GOLD", OpType: models.OpMint,
		Active:    false,
		MaxAmount: 1, DailyLimit: 1, CooldownSeconds: 9999,
		RequiresWhitelist: true,
	})
	d = mustValidate(t, ev, "GOLD", "alice", models.NilAccount, models.OpMint, 1_000_000, baseTime)
	if !d.Approved {
		t.Errorf("expected approval under inactive policy, got denial: %s", d.Reason)
	}
}

func TestValidateTimeWindow(t *testing.T) {
	ev, store, sink := newTestEvaluator(t)
	activation := baseTime + 100
	expiration := baseTime + 200
	writePolicy(t, store, models.Policy{
		AssetID: "GOLD", OpType: models.OpMint, Active: true,
		ActivationTime: activation, ExpirationTime: expiration,
	})

	tests := []struct {
		name       string
		now        int64
		approved   bool
		wantReason string
	}{
		{"before activation", activation - 1, false, ReasonNotYetActive},
		{"at activation", activation, true, ""},
		{"inside window", activation + 50, true, ""},
		{"at expiration", expiration, true, ""},
		{"past expiration", expiration + 1, false, ReasonExpired},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d := mustValidate(t, ev, "GOLD", "alice", models.NilAccount, models.OpMint, 10, tc.now)
			if d.Approved != tc.approved {
				t.Fatalf("approved = %v, want %v (reason %q)", d.Approved, tc.approved, d.Reason)
			}
			if d.Reason != tc.wantReason {
				t.Errorf("reason = %q, want %q", d.Reason, tc.wantReason)
			}
		})
	}

	if got := len(sink.byType(models.EventWindowViolation)); got != 2 {
		t.Errorf("window violation events = %d, want 2", got)
	}
}

func TestValidateWhitelistTransfer(t *testing.T) {
	ev, store, sink := newTestEvaluator(t)
	ctx := context.Background()
	writePolicy(t, store, models.Policy{
		AssetID: "GOLD", OpType: models.OpTransfer, Active: true,
		RequiresWhitelist: true,
	})
	if err := store.AddWhitelistMember(ctx, "GOLD", models.OpTransfer, "bob"); err != nil {
		t.Fatalf("adding member: %v", err)
	}

	// Transfers gate on the target, never the principal: alice is not a
	// member but may still send to bob.
	d := mustValidate(t, ev, "GOLD", "alice", "bob", models.OpTransfer, 10, baseTime)
	if !d.Approved {
		t.Fatalf("expected approval to whitelisted target, got: %s", d.Reason)
	}

	d = mustValidate(t, ev, "GOLD", "alice", "mallory", models.OpTransfer, 10, baseTime)
	if d.Approved || d.Reason != ReasonTargetNotWhitelisted {
		t.Errorf("got (%v, %q), want denial with %q", d.Approved, d.Reason, ReasonTargetNotWhitelisted)
	}

	// A transfer with no counterparty cannot be whitelist-checked.
	d = mustValidate(t, ev, "GOLD", "alice", models.NilAccount, models.OpTransfer, 10, baseTime)
	if d.Approved || d.Reason != ReasonTargetRequired {
		t.Errorf("got (%v, %q), want denial with %q", d.Approved, d.Reason, ReasonTargetRequired)
	}

	if got := len(sink.byType(models.EventWhitelistViolation)); got != 2 {
		t.Errorf("whitelist violation events = %d, want 2", got)
	}
}

func TestValidateWhitelistNonTransfer(t *testing.T) {
	ev, store, _ := newTestEvaluator(t)
	ctx := context.Background()
	writePolicy(t, store, models.Policy{
		AssetID: "GOLD", OpType: models.OpBurn, Active: true,
		RequiresWhitelist: true,
	})
	if err := store.AddWhitelistMember(ctx, "GOLD", models.OpBurn, "alice"); err != nil {
		t.Fatalf("adding member: %v", err)
	}

	d := mustValidate(t, ev, "GOLD", "alice", models.NilAccount, models.OpBurn, 10, baseTime)
	if !d.Approved {
		t.Fatalf("expected approval for whitelisted principal, got: %s", d.Reason)
	}

	d = mustValidate(t, ev, "GOLD", "mallory", models.NilAccount, models.OpBurn, 10, baseTime)
	if d.Approved || d.Reason != ReasonOperatorNotWhitelisted {
		t.Errorf("got (%v, %q), want denial with %q", d.Approved, d.Reason, ReasonOperatorNotWhitelisted)
	}
}

func TestValidateMaxAmount(t *testing.T) {
	ev, store, _ := newTestEvaluator(t)
	writePolicy(t, store, models.Policy{
		AssetID: "GOLD", OpType: models.OpMint, Active: true,
		MaxAmount: 500,
	})

	d := mustValidate(t, ev, "GOLD", "alice", models.NilAccount, models.OpMint, 500, baseTime)
	if !d.Approved {
		t.Fatalf("amount == cap should pass, got: %s", d.Reason)
	}
	d = mustValidate(t, ev, "GOLD", "alice", models.NilAccount, models.OpMint, 501, baseTime)
	if d.Approved || d.Reason != ReasonAmountExceedsLimit {
		t.Errorf("got (%v, %q), want denial with %q", d.Approved, d.Reason, ReasonAmountExceedsLimit)
	}

	// MaxAmount zero means uncapped, not "nothing allowed".
	writePolicy(t, store, models.Policy{
		AssetID: "SILVER", OpType: models.OpMint, Active: true,
	})
	d = mustValidate(t, ev, "SILVER", "alice", models.NilAccount, models.OpMint, 1<<40, baseTime)
	if !d.Approved {
		t.Errorf("zero cap should be uncapped, got denial: %s", d.Reason)
	}
}

func TestValidateDailyLimit(t *testing.T) {
	ev, store, _ := newTestEvaluator(t)
	writePolicy(t, store, models.Policy{
		AssetID: "GOLD", OpType: models.OpMint, Active: true,
		DailyLimit: 5000,
	})

	if d := mustValidate(t, ev, "GOLD", "alice", models.NilAccount, models.OpMint, 2000, baseTime); !d.Approved {
		t.Fatalf("first spend denied: %s", d.Reason)
	}
	if d := mustValidate(t, ev, "GOLD", "alice", models.NilAccount, models.OpMint, 3000, baseTime+10); !d.Approved {
		t.Fatalf("second spend denied: %s", d.Reason)
	}

	// Quota is exactly consumed; even one more unit trips the limit.
	d := mustValidate(t, ev, "GOLD", "alice", models.NilAccount, models.OpMint, 100, baseTime+20)
	if d.Approved || d.Reason != ReasonDailyLimitExceeded {
		t.Fatalf("got (%v, %q), want denial with %q", d.Approved, d.Reason, ReasonDailyLimitExceeded)
	}

	// The denial must not have consumed anything.
	rec, err := store.GetUsage(context.Background(), "GOLD", models.OpMint, "alice")
	if err != nil {
		t.Fatalf("reading usage: %v", err)
	}
	if rec.DailyTotal != 5000 {
		t.Errorf("daily total after denial = %d, want 5000", rec.DailyTotal)
	}

	// Quotas are per principal.
	if d := mustValidate(t, ev, "GOLD", "bob", models.NilAccount, models.OpMint, 100, baseTime+30); !d.Approved {
		t.Errorf("other principal denied: %s", d.Reason)
	}

	// Next day bucket: quota resets.
	if d := mustValidate(t, ev, "GOLD", "alice", models.NilAccount, models.OpMint, 100, baseTime+models.SecondsPerDay); !d.Approved {
		t.Errorf("next-day spend denied: %s", d.Reason)
	}
}

func TestDailyLimitHugeAmounts(t *testing.T) {
	ev, store, _ := newTestEvaluator(t)
	writePolicy(t, store, models.Policy{
		AssetID: "GOLD", OpType: models.OpMint, Active: true,
		DailyLimit: 5000,
	})

	// Seed some usage, then request an amount so large that the uint64
	// sum total+amount would wrap to a small value. The wrapped sum
	// must never read as "under the limit".
	if d := mustValidate(t, ev, "GOLD", "alice", models.NilAccount, models.OpMint, 100, baseTime); !d.Approved {
		t.Fatalf("seed spend denied: %s", d.Reason)
	}
	huge := uint64(math.MaxUint64) - 99

	d := mustValidate(t, ev, "GOLD", "alice", models.NilAccount, models.OpMint, huge, baseTime+10)
	if d.Approved || d.Reason != ReasonDailyLimitExceeded {
		t.Errorf("validate got (%v, %q), want denial with %q", d.Approved, d.Reason, ReasonDailyLimitExceeded)
	}
	d = mustPreview(t, ev, "GOLD", "alice", models.OpMint, huge, baseTime+10)
	if d.Approved || d.Reason != ReasonDailyLimitExceeded {
		t.Errorf("preview got (%v, %q), want denial with %q", d.Approved, d.Reason, ReasonDailyLimitExceeded)
	}

	// The denial left the stored total untouched.
	rec, err := store.GetUsage(context.Background(), "GOLD", models.OpMint, "alice")
	if err != nil {
		t.Fatalf("reading usage: %v", err)
	}
	if rec.DailyTotal != 100 {
		t.Errorf("daily total = %d, want 100", rec.DailyTotal)
	}

	// An amount above the limit is denied even with zero prior usage.
	d = mustValidate(t, ev, "GOLD", "bob", models.NilAccount, models.OpMint, math.MaxUint64, baseTime)
	if d.Approved || d.Reason != ReasonDailyLimitExceeded {
		t.Errorf("fresh principal got (%v, %q), want denial with %q", d.Approved, d.Reason, ReasonDailyLimitExceeded)
	}
}

func TestUncappedUsageSaturates(t *testing.T) {
	ev, store, _ := newTestEvaluator(t)
	// No daily limit: huge approved amounts accumulate, and the stored
	// total must pin at the top of the range instead of wrapping.
	writePolicy(t, store, models.Policy{
		AssetID: "GOLD", OpType: models.OpMint, Active: true,
	})

	for i := 0; i < 2; i++ {
		if d := mustValidate(t, ev, "GOLD", "alice", models.NilAccount, models.OpMint, math.MaxUint64, baseTime+int64(i)); !d.Approved {
			t.Fatalf("uncapped spend %d denied: %s", i, d.Reason)
		}
	}
	rec, err := store.GetUsage(context.Background(), "GOLD", models.OpMint, "alice")
	if err != nil {
		t.Fatalf("reading usage: %v", err)
	}
	if rec.DailyTotal != math.MaxUint64 {
		t.Errorf("daily total = %d, want saturation at MaxUint64", rec.DailyTotal)
	}
}

func TestValidateCooldown(t *testing.T) {
	ev, store, _ := newTestEvaluator(t)
	writePolicy(t, store, models.Policy{
		AssetID: "GOLD", OpType: models.OpMint, Active: true,
		CooldownSeconds: 600,
	})

	if d := mustValidate(t, ev, "GOLD", "alice", models.NilAccount, models.OpMint, 10, baseTime); !d.Approved {
		t.Fatalf("first operation denied: %s", d.Reason)
	}
	d := mustValidate(t, ev, "GOLD", "alice", models.NilAccount, models.OpMint, 10, baseTime+599)
	if d.Approved || d.Reason != ReasonCooldownActive {
		t.Fatalf("got (%v, %q), want denial with %q", d.Approved, d.Reason, ReasonCooldownActive)
	}
	if d := mustValidate(t, ev, "GOLD", "alice", models.NilAccount, models.OpMint, 10, baseTime+600); !d.Approved {
		t.Errorf("operation at cooldown boundary denied: %s", d.Reason)
	}
}

func TestRuleOrderShortCircuits(t *testing.T) {
	ev, store, _ := newTestEvaluator(t)
	// Everything about this request is wrong; the window violation must
	// win because the window rule runs first.
	writePolicy(t, store, models.Policy{
		AssetID: "GOLD", OpType: models.OpMint, Active: true,
		MaxAmount: 1, DailyLimit: 1, CooldownSeconds: 9999,
		RequiresWhitelist: true,
		ActivationTime:    baseTime + 1000,
	})

	d := mustValidate(t, ev, "GOLD", "alice", models.NilAccount, models.OpMint, 100, baseTime)
	if d.Reason != ReasonNotYetActive {
		t.Errorf("reason = %q, want %q", d.Reason, ReasonNotYetActive)
	}
}

func TestPreviewDoesNotConsumeQuota(t *testing.T) {
	ev, store, _ := newTestEvaluator(t)
	writePolicy(t, store, models.Policy{
		AssetID: "GOLD", OpType: models.OpMint, Active: true,
		DailyLimit: 100,
	})

	// Any number of previews of the full quota leave it untouched.
	for i := 0; i < 5; i++ {
		if d := mustPreview(t, ev, "GOLD", "alice", models.OpMint, 100, baseTime); !d.Approved {
			t.Fatalf("preview %d denied: %s", i, d.Reason)
		}
	}
	if d := mustValidate(t, ev, "GOLD", "alice", models.NilAccount, models.OpMint, 100, baseTime); !d.Approved {
		t.Fatalf("validate after previews denied: %s", d.Reason)
	}

	// Now the quota really is gone and preview sees it.
	d := mustPreview(t, ev, "GOLD", "alice", models.OpMint, 1, baseTime)
	if d.Approved || d.Reason != ReasonDailyLimitExceeded {
		t.Errorf("got (%v, %q), want denial with %q", d.Approved, d.Reason, ReasonDailyLimitExceeded)
	}

	// Preview never wrote a record for bob.
	mustPreview(t, ev, "GOLD", "bob", models.OpMint, 50, baseTime)
	if _, err := store.GetUsage(context.Background(), "GOLD", models.OpMint, "bob"); err != storage.ErrNotFound {
		t.Errorf("expected no usage record after preview, got err=%v", err)
	}
}

func TestPreviewSkipsTimeWindow(t *testing.T) {
	ev, store, _ := newTestEvaluator(t)
	writePolicy(t, store, models.Policy{
		AssetID: "GOLD", OpType: models.OpMint, Active: true,
		ExpirationTime: baseTime - 100,
	})

	// The expired window denies validate but not preview.
	if d := mustPreview(t, ev, "GOLD", "alice", models.OpMint, 10, baseTime); !d.Approved {
		t.Errorf("preview should ignore the time window, got: %s", d.Reason)
	}
	d := mustValidate(t, ev, "GOLD", "alice", models.NilAccount, models.OpMint, 10, baseTime)
	if d.Approved || d.Reason != ReasonExpired {
		t.Errorf("got (%v, %q), want denial with %q", d.Approved, d.Reason, ReasonExpired)
	}
}

func TestPreviewChecksPrincipalForTransfers(t *testing.T) {
	ev, store, _ := newTestEvaluator(t)
	ctx := context.Background()
	writePolicy(t, store, models.Policy{
		AssetID: "GOLD", OpType: models.OpTransfer, Active: true,
		RequiresWhitelist: true,
	})
	if err := store.AddWhitelistMember(ctx, "GOLD", models.OpTransfer, "bob"); err != nil {
		t.Fatalf("adding member: %v", err)
	}

	// With no target parameter, preview gates transfers on the
	// principal. Validate with target bob approves the same request.
	d := mustPreview(t, ev, "GOLD", "alice", models.OpTransfer, 10, baseTime)
	if d.Approved || d.Reason != ReasonOperatorNotWhitelisted {
		t.Errorf("got (%v, %q), want denial with %q", d.Approved, d.Reason, ReasonOperatorNotWhitelisted)
	}
	if d := mustValidate(t, ev, "GOLD", "alice", "bob", models.OpTransfer, 10, baseTime); !d.Approved {
		t.Errorf("validate denied: %s", d.Reason)
	}
}

func TestValidateEmitsOneDecisionEvent(t *testing.T) {
	ev, store, sink := newTestEvaluator(t)
	writePolicy(t, store, models.Policy{
		AssetID: "GOLD", OpType: models.OpMint, Active: true,
		MaxAmount: 100,
	})

	mustValidate(t, ev, "GOLD", "alice", models.NilAccount, models.OpMint, 50, baseTime)
	mustValidate(t, ev, "GOLD", "alice", models.NilAccount, models.OpMint, 5000, baseTime)

	events := sink.byType(models.EventOperationValidated)
	if len(events) != 2 {
		t.Fatalf("decision events = %d, want 2", len(events))
	}
	if !events[0].Approved || events[0].Amount != 50 {
		t.Errorf("first event = (%v, %d), want approved with amount 50", events[0].Approved, events[0].Amount)
	}
	if events[1].Approved || events[1].Reason != ReasonAmountExceedsLimit {
		t.Errorf("second event = (%v, %q), want denial with %q", events[1].Approved, events[1].Reason, ReasonAmountExceedsLimit)
	}
}

func TestConcurrentValidatesRespectDailyLimit(t *testing.T) {
	store := storage.NewMemoryBackend()
	ev := NewEvaluator(store, nil)
	writePolicy(t, store, models.Policy{
		AssetID: "GOLD", OpType: models.OpMint, Active: true,
		DailyLimit: 10,
	})

	const workers = 40
	var wg sync.WaitGroup
	approvals := make(chan bool, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := ev.Validate(context.Background(), "GOLD", "alice", models.NilAccount, models.OpMint, 1, baseTime)
			if err != nil {
				t.Errorf("validate: %v", err)
				return
			}
			approvals <- d.Approved
		}()
	}
	wg.Wait()
	close(approvals)

	approved := 0
	for ok := range approvals {
		if ok {
			approved++
		}
	}
	if approved != 10 {
		t.Errorf("approved = %d, want exactly 10 under racing validates", approved)
	}

	rec, err := store.GetUsage(context.Background(), "GOLD", models.OpMint, "alice")
	if err != nil {
		t.Fatalf("reading usage: %v", err)
	}
	if rec.DailyTotal != 10 {
		t.Errorf("daily total = %d, want 10", rec.DailyTotal)
	}
}
