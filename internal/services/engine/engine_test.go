package engine

import (
	"context"
	"reflect"
	"sync"
	"testing"
	"time"

	"remindbot/internal/eventbus"
	"remindbot/internal/reminder"
	"remindbot/internal/services/deliver"
	logx "remindbot/pkg/logx"
)

type stubStore struct {
	mu        sync.Mutex
	reminders map[int64]*reminder.Reminder

	setFireAt map[int64]time.Time
	archived  []int64
	loadErr   error
}

func newStubStore(rems ...*reminder.Reminder) *stubStore {
	s := &stubStore{
		reminders: map[int64]*reminder.Reminder{},
		setFireAt: map[int64]time.Time{},
	}
	for _, r := range rems {
		s.reminders[r.ID] = r
	}
	return s
}

func (s *stubStore) LoadDueBefore(_ context.Context, horizon time.Time) ([]*reminder.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	var out []*reminder.Reminder
	for _, r := range s.reminders {
		if r.Status == reminder.StatusActive && r.FireAt.Before(horizon) {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *stubStore) SetFireAt(_ context.Context, id int64, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setFireAt[id] = t
	if r, ok := s.reminders[id]; ok {
		r.FireAt = t
	}
	return nil
}

func (s *stubStore) Archive(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.archived = append(s.archived, id)
	if r, ok := s.reminders[id]; ok {
		r.Status = reminder.StatusArchived
	}
	return nil
}

type stubDeliverer struct {
	mu        sync.Mutex
	fail      bool
	delivered []int64
	notified  []int64
}

func (d *stubDeliverer) Deliver(_ context.Context, rem *reminder.Reminder) deliver.Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.delivered = append(d.delivered, rem.ID)
	if d.fail {
		return deliver.Result{Reason: "send failed"}
	}
	return deliver.Result{OK: true}
}

func (d *stubDeliverer) NotifyOwnerFailure(_ context.Context, rem *reminder.Reminder, _ string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notified = append(d.notified, rem.ID)
}

func testService(store Store, dlv Deliverer, bus eventbus.Bus, now time.Time) *Service {
	s := New(Config{Enabled: true}, store, dlv, bus, logx.Nop())
	s.now = func() time.Time { return now }
	return s
}

func oneShot(id, owner int64, fireAt time.Time) *reminder.Reminder {
	return &reminder.Reminder{
		ID: id, OwnerID: owner, RecipientID: owner,
		Text: "ping", FireAt: fireAt, Status: reminder.StatusActive,
	}
}

func TestProducerIdempotent(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newStubStore(
		oneShot(1, 10, now.Add(5*time.Minute)),
		oneShot(2, 10, now.Add(10*time.Minute)),
	)
	s := testService(store, &stubDeliverer{}, nil, now)

	s.produceCycle(context.Background())
	first := s.Snapshot()
	s.produceCycle(context.Background())
	second := s.Snapshot()

	if first.QueueLen != 2 || second.QueueLen != 2 {
		t.Fatalf("queue lengths = %d, %d, want 2, 2", first.QueueLen, second.QueueLen)
	}
	if got := s.CachedByOwner(10); !reflect.DeepEqual(got, []int64{1, 2}) {
		t.Fatalf("CachedByOwner = %v, want [1 2]", got)
	}
}

func TestProducerReconcilesCacheAgainstStore(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newStubStore(
		oneShot(1, 10, now.Add(time.Minute)),
		oneShot(2, 10, now.Add(2*time.Minute)),
		oneShot(4, 10, now.Add(4*time.Minute)),
	)
	s := testService(store, &stubDeliverer{}, nil, now)
	s.produceCycle(context.Background())

	if got := s.CachedByOwner(10); !reflect.DeepEqual(got, []int64{1, 2, 4}) {
		t.Fatalf("initial cache = %v, want [1 2 4]", got)
	}

	// 4 gets archived out-of-band, 3 appears; the next cycle must converge.
	store.mu.Lock()
	store.reminders[4].Status = reminder.StatusArchived
	store.reminders[3] = oneShot(3, 10, now.Add(3*time.Minute))
	store.mu.Unlock()

	s.produceCycle(context.Background())
	if got := s.CachedByOwner(10); !reflect.DeepEqual(got, []int64{1, 2, 3}) {
		t.Fatalf("reconciled cache = %v, want [1 2 3]", got)
	}
}

func TestProducerAbortsCycleOnLoadError(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newStubStore(oneShot(1, 10, now.Add(time.Minute)))
	s := testService(store, &stubDeliverer{}, nil, now)
	s.produceCycle(context.Background())

	store.mu.Lock()
	store.loadErr = context.DeadlineExceeded
	store.mu.Unlock()

	// A failed load keeps the previous cache intact.
	s.produceCycle(context.Background())
	if got := s.Snapshot().QueueLen; got != 1 {
		t.Fatalf("QueueLen = %d, want 1", got)
	}
}

func TestConsumerDeliversDuePrefixInOrder(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newStubStore(
		oneShot(1, 10, now.Add(-2*time.Minute)),
		oneShot(2, 10, now.Add(-time.Minute)),
		oneShot(3, 10, now), // due: FireAt == now is not after now
		oneShot(4, 10, now.Add(30*time.Minute)),
	)
	dlv := &stubDeliverer{}
	s := testService(store, dlv, nil, now)

	s.produceCycle(context.Background())
	s.consumeCycle(context.Background())

	if want := []int64{1, 2, 3}; !reflect.DeepEqual(dlv.delivered, want) {
		t.Fatalf("delivered = %v, want %v", dlv.delivered, want)
	}
	if got := s.Snapshot().QueueLen; got != 1 {
		t.Fatalf("QueueLen after consume = %d, want 1", got)
	}
	// One-shots archive after delivery.
	if want := []int64{1, 2, 3}; !reflect.DeepEqual(store.archived, want) {
		t.Fatalf("archived = %v, want %v", store.archived, want)
	}
}

func TestConsumerReschedulesRecurring(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rule, err := reminder.NewBasicRule(1, reminder.UnitDay)
	if err != nil {
		t.Fatalf("NewBasicRule error: %v", err)
	}
	rem := oneShot(1, 10, now.Add(-time.Minute))
	rem.Rule = rule
	store := newStubStore(rem)
	s := testService(store, &stubDeliverer{}, nil, now)

	s.produceCycle(context.Background())
	s.consumeCycle(context.Background())

	got, ok := store.setFireAt[1]
	if !ok {
		t.Fatal("SetFireAt not called")
	}
	want := now.Add(-time.Minute).Add(24 * time.Hour)
	if !got.Equal(want) {
		t.Fatalf("SetFireAt = %v, want %v", got, want)
	}
	if len(store.archived) != 0 {
		t.Fatalf("unexpected archive calls: %v", store.archived)
	}
}

func TestConsumerAdvancesOnDeliveryFailure(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rule, err := reminder.NewBasicRule(1, reminder.UnitHour)
	if err != nil {
		t.Fatalf("NewBasicRule error: %v", err)
	}
	rem := oneShot(1, 10, now.Add(-time.Minute))
	rem.Rule = rule
	store := newStubStore(rem)
	dlv := &stubDeliverer{fail: true}
	s := testService(store, dlv, nil, now)

	s.produceCycle(context.Background())
	s.consumeCycle(context.Background())

	// The occurrence is consumed even though the send failed.
	if _, ok := store.setFireAt[1]; !ok {
		t.Fatal("SetFireAt not called after failed delivery")
	}
	snap := s.Snapshot()
	if snap.Failed != 1 || snap.Delivered != 0 {
		t.Fatalf("Failed/Delivered = %d/%d, want 1/0", snap.Failed, snap.Delivered)
	}
	// Recipient == owner: no failure notice.
	if len(dlv.notified) != 0 {
		t.Fatalf("unexpected owner notifications: %v", dlv.notified)
	}
}

func TestConsumerNotifiesOwnerOnRelayedFailure(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rem := oneShot(1, 10, now.Add(-time.Minute))
	rem.RecipientID = 20
	store := newStubStore(rem)
	dlv := &stubDeliverer{fail: true}
	s := testService(store, dlv, nil, now)

	s.produceCycle(context.Background())
	s.consumeCycle(context.Background())

	if want := []int64{1}; !reflect.DeepEqual(dlv.notified, want) {
		t.Fatalf("notified = %v, want %v", dlv.notified, want)
	}
}

func TestConsumerFlagsUnresolvableRule(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 2, 28, 8, 30, 0, 0, time.UTC)
	rule, err := reminder.NewMonthdayRule([]int{29, 30, 31}, "UTC")
	if err != nil {
		t.Fatalf("NewMonthdayRule error: %v", err)
	}
	rem := oneShot(1, 10, time.Date(2025, 2, 28, 8, 0, 0, 0, time.UTC))
	rem.Rule = rule
	store := newStubStore(rem)

	s := New(Config{Enabled: true, DupRetryLimit: 2}, store, &stubDeliverer{}, nil, logx.Nop())
	s.now = func() time.Time { return now }

	s.produceCycle(context.Background())
	s.consumeCycle(context.Background())

	if want := []int64{1}; !reflect.DeepEqual(store.archived, want) {
		t.Fatalf("archived = %v, want %v", store.archived, want)
	}
	if got := s.Snapshot().Flagged; got != 1 {
		t.Fatalf("Flagged = %d, want 1", got)
	}
}

func TestProducerSkipsInflight(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newStubStore(
		oneShot(1, 10, now.Add(-time.Minute)),
		oneShot(2, 10, now.Add(time.Minute)),
	)
	s := testService(store, &stubDeliverer{}, nil, now)

	// Simulate a consumer holding 1 mid-delivery.
	s.mu.Lock()
	s.inflight[1] = struct{}{}
	s.mu.Unlock()

	s.produceCycle(context.Background())
	if got := s.CachedByOwner(10); !reflect.DeepEqual(got, []int64{2}) {
		t.Fatalf("cache = %v, want [2]", got)
	}
}

func TestEngineEvents(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newStubStore(oneShot(1, 10, now.Add(-time.Minute)))
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	s := testService(store, &stubDeliverer{}, bus, now)
	s.produceCycle(context.Background())
	s.consumeCycle(context.Background())

	want := map[string]bool{
		eventbus.EventDelivered: false,
		eventbus.EventArchived:  false,
	}
	deadline := time.After(time.Second)
	for {
		done := true
		for _, seen := range want {
			if !seen {
				done = false
			}
		}
		if done {
			return
		}
		select {
		case e := <-events:
			if _, ok := want[e.Type]; ok {
				want[e.Type] = true
			}
		case <-deadline:
			t.Fatalf("missing events: %v", want)
		}
	}
}

func TestSnapshotNextFireAt(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fireAt := now.Add(10 * time.Minute)
	store := newStubStore(oneShot(1, 10, fireAt), oneShot(2, 10, now.Add(20*time.Minute)))
	s := testService(store, &stubDeliverer{}, nil, now)

	if s.Snapshot().NextFireAt != nil {
		t.Fatal("NextFireAt before any cycle must be nil")
	}
	s.produceCycle(context.Background())
	snap := s.Snapshot()
	if snap.NextFireAt == nil || !snap.NextFireAt.Equal(fireAt) {
		t.Fatalf("NextFireAt = %v, want %v", snap.NextFireAt, fireAt)
	}
}
