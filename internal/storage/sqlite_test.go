package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"remindbot/internal/reminder"
	logx "remindbot/pkg/logx"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "test.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestCreateAndFetchReminder(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	fireAt := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	created, err := st.CreateReminder(ctx, NewReminder{
		OwnerID: 10, RecipientID: 10, Text: "stand up", FireAt: fireAt,
	})
	if err != nil {
		t.Fatalf("CreateReminder error: %v", err)
	}
	if created.ID == 0 || created.Status != reminder.StatusActive {
		t.Fatalf("unexpected reminder: %+v", created)
	}

	got, err := st.Reminder(ctx, created.ID)
	if err != nil {
		t.Fatalf("Reminder error: %v", err)
	}
	if got.Text != "stand up" || !got.FireAt.Equal(fireAt) || got.Rule != nil {
		t.Fatalf("round trip mismatch: %+v", got)
	}

	if _, err := st.Reminder(ctx, created.ID+100); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing reminder err = %v, want ErrNotFound", err)
	}
}

func TestCreateReminderWithRuleAndTimezones(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	if err := st.SetTimezone(ctx, 10, "Europe/Berlin"); err != nil {
		t.Fatalf("SetTimezone error: %v", err)
	}
	if err := st.SetTimezone(ctx, 20, "Asia/Tokyo"); err != nil {
		t.Fatalf("SetTimezone error: %v", err)
	}

	rule, err := reminder.NewWeekdayRule([]int{1, 5}, "Europe/Berlin")
	if err != nil {
		t.Fatalf("NewWeekdayRule error: %v", err)
	}
	endsAt := time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)
	rule.EndsAt = &endsAt

	created, err := st.CreateReminder(ctx, NewReminder{
		OwnerID: 10, RecipientID: 20, Text: "weekly sync",
		FireAt: time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC),
		Rule:   rule,
	})
	if err != nil {
		t.Fatalf("CreateReminder error: %v", err)
	}

	// The load path attaches the rule and both timezones eagerly.
	if created.Rule == nil || created.Rule.Cond != reminder.CondWeekdays {
		t.Fatalf("rule not attached: %+v", created.Rule)
	}
	if got := created.Rule.Weekdays; len(got) != 2 || got[0] != 1 || got[1] != 5 {
		t.Fatalf("Weekdays = %v, want [1 5]", got)
	}
	if created.Rule.EndsAt == nil || !created.Rule.EndsAt.Equal(endsAt) {
		t.Fatalf("EndsAt = %v, want %v", created.Rule.EndsAt, endsAt)
	}
	if created.OwnerTZ != "Europe/Berlin" || created.RecipientTZ != "Asia/Tokyo" {
		t.Fatalf("timezones = %q/%q", created.OwnerTZ, created.RecipientTZ)
	}
}

func TestLoadDueBeforeStrictHorizon(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	mk := func(fireAt time.Time) *reminder.Reminder {
		rem, err := st.CreateReminder(ctx, NewReminder{OwnerID: 1, RecipientID: 1, Text: "x", FireAt: fireAt})
		if err != nil {
			t.Fatalf("CreateReminder error: %v", err)
		}
		return rem
	}
	before := mk(base.Add(-time.Minute))
	exact := mk(base)
	_ = mk(base.Add(time.Minute))

	due, err := st.LoadDueBefore(ctx, base)
	if err != nil {
		t.Fatalf("LoadDueBefore error: %v", err)
	}
	// fire_at < horizon is strict: the reminder exactly at the horizon stays out.
	if len(due) != 1 || due[0].ID != before.ID {
		t.Fatalf("due = %v, want just %d", ids(due), before.ID)
	}

	// Archived reminders never load.
	if err := st.Archive(ctx, before.ID); err != nil {
		t.Fatalf("Archive error: %v", err)
	}
	due, err = st.LoadDueBefore(ctx, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("LoadDueBefore error: %v", err)
	}
	if len(due) != 2 || due[0].ID != exact.ID {
		t.Fatalf("due after archive = %v", ids(due))
	}
}

func ids(rems []*reminder.Reminder) []int64 {
	out := make([]int64, len(rems))
	for i, r := range rems {
		out[i] = r.ID
	}
	return out
}

func TestSetFireAtAndArchiveRequireActiveRow(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	rem, err := st.CreateReminder(ctx, NewReminder{
		OwnerID: 1, RecipientID: 1, Text: "x",
		FireAt: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("CreateReminder error: %v", err)
	}

	next := rem.FireAt.Add(24 * time.Hour)
	if err := st.SetFireAt(ctx, rem.ID, next); err != nil {
		t.Fatalf("SetFireAt error: %v", err)
	}
	got, err := st.Reminder(ctx, rem.ID)
	if err != nil {
		t.Fatalf("Reminder error: %v", err)
	}
	if !got.FireAt.Equal(next) {
		t.Fatalf("FireAt = %v, want %v", got.FireAt, next)
	}

	if err := st.Archive(ctx, rem.ID); err != nil {
		t.Fatalf("Archive error: %v", err)
	}
	// Both mutations refuse archived rows.
	if err := st.SetFireAt(ctx, rem.ID, next); !errors.Is(err, ErrNotFound) {
		t.Fatalf("SetFireAt on archived = %v, want ErrNotFound", err)
	}
	if err := st.Archive(ctx, rem.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("double Archive = %v, want ErrNotFound", err)
	}
}

func TestRuleLifecycle(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	rem, err := st.CreateReminder(ctx, NewReminder{
		OwnerID: 1, RecipientID: 1, Text: "x",
		FireAt: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("CreateReminder error: %v", err)
	}

	rule, err := reminder.NewBasicRule(2, reminder.UnitHour)
	if err != nil {
		t.Fatalf("NewBasicRule error: %v", err)
	}
	ruleID, err := st.CreateRule(ctx, rem.ID, rule)
	if err != nil {
		t.Fatalf("CreateRule error: %v", err)
	}

	// Attaching a second rule fails; the reminder keeps the first.
	if _, err := st.CreateRule(ctx, rem.ID, rule); !errors.Is(err, ErrRuleExists) {
		t.Fatalf("second CreateRule = %v, want ErrRuleExists", err)
	}
	if _, err := st.CreateRule(ctx, rem.ID+100, rule); !errors.Is(err, ErrNotFound) {
		t.Fatalf("CreateRule for missing reminder = %v, want ErrNotFound", err)
	}

	upd, err := reminder.NewMonthdayRule([]int{1, 15}, "UTC")
	if err != nil {
		t.Fatalf("NewMonthdayRule error: %v", err)
	}
	if err := st.UpdateRule(ctx, ruleID, upd); err != nil {
		t.Fatalf("UpdateRule error: %v", err)
	}
	got, err := st.Reminder(ctx, rem.ID)
	if err != nil {
		t.Fatalf("Reminder error: %v", err)
	}
	if got.Rule == nil || got.Rule.Cond != reminder.CondMonthdays {
		t.Fatalf("updated rule = %+v", got.Rule)
	}

	// Deleting the rule detaches it, leaving a one-shot reminder.
	if err := st.DeleteRule(ctx, ruleID); err != nil {
		t.Fatalf("DeleteRule error: %v", err)
	}
	got, err = st.Reminder(ctx, rem.ID)
	if err != nil {
		t.Fatalf("Reminder error: %v", err)
	}
	if got.Rule != nil {
		t.Fatalf("rule still attached after delete: %+v", got.Rule)
	}
	if err := st.DeleteRule(ctx, ruleID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("double DeleteRule = %v, want ErrNotFound", err)
	}
}

func TestListByOwner(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	r1, _ := st.CreateReminder(ctx, NewReminder{OwnerID: 1, RecipientID: 1, Text: "a", FireAt: base.Add(2 * time.Hour)})
	r2, _ := st.CreateReminder(ctx, NewReminder{OwnerID: 1, RecipientID: 1, Text: "b", FireAt: base.Add(time.Hour)})
	_, _ = st.CreateReminder(ctx, NewReminder{OwnerID: 2, RecipientID: 2, Text: "c", FireAt: base})
	if err := st.Archive(ctx, r1.ID); err != nil {
		t.Fatalf("Archive error: %v", err)
	}

	got, err := st.ListByOwner(ctx, 1)
	if err != nil {
		t.Fatalf("ListByOwner error: %v", err)
	}
	// Active first, then by fire time.
	if len(got) != 2 || got[0].ID != r2.ID || got[1].ID != r1.ID {
		t.Fatalf("ListByOwner = %v, want [%d %d]", ids(got), r2.ID, r1.ID)
	}
}

func TestTimezoneUpsert(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	tz, err := st.Timezone(ctx, 42)
	if err != nil {
		t.Fatalf("Timezone error: %v", err)
	}
	if tz != "" {
		t.Fatalf("tz = %q, want empty for unknown user", tz)
	}

	if err := st.SetTimezone(ctx, 42, "Nope/Nowhere"); err == nil {
		t.Fatal("expected error for invalid timezone")
	}
	if err := st.SetTimezone(ctx, 42, "Europe/Berlin"); err != nil {
		t.Fatalf("SetTimezone error: %v", err)
	}
	if err := st.SetTimezone(ctx, 42, "Asia/Tokyo"); err != nil {
		t.Fatalf("SetTimezone error: %v", err)
	}
	tz, err = st.Timezone(ctx, 42)
	if err != nil {
		t.Fatalf("Timezone error: %v", err)
	}
	if tz != "Asia/Tokyo" {
		t.Fatalf("tz = %q, want Asia/Tokyo", tz)
	}
}

func TestCreateReminderRejectsTooFarAhead(t *testing.T) {
	t.Parallel()
	st, err := Open(Config{
		Path:       filepath.Join(t.TempDir(), "test.db"),
		MaxHorizon: 24 * time.Hour,
	}, logx.Nop())
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	_, err = st.CreateReminder(context.Background(), NewReminder{
		OwnerID: 1, RecipientID: 1, Text: "x",
		FireAt: time.Now().Add(48 * time.Hour),
	})
	if !errors.Is(err, ErrTooFarAhead) {
		t.Fatalf("err = %v, want ErrTooFarAhead", err)
	}

	if _, err := st.CreateReminder(context.Background(), NewReminder{
		OwnerID: 1, RecipientID: 1, Text: "x",
		FireAt: time.Now().Add(time.Hour),
	}); err != nil {
		t.Fatalf("CreateReminder within horizon error: %v", err)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "postgres", Path: "x"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}
