package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"remindbot/internal/reminder"
	logx "remindbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db         *sql.DB
	log        logx.Logger
	maxHorizon time.Duration
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	// rule_id uses ON DELETE SET NULL.
	_, _ = db.Exec("PRAGMA foreign_keys = ON")

	maxHorizon := cfg.MaxHorizon
	if maxHorizon <= 0 {
		maxHorizon = 365 * 24 * time.Hour
	}
	st := &sqliteStore{db: db, log: log, maxHorizon: maxHorizon}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// reminderCols is the join used everywhere a full reminder is loaded: the
// rule and both timezones come along so the resolver never does I/O.
const reminderCols = `
	r.id, r.owner_id, r.recipient_id, r.body, r.fire_at, r.status, r.snoozed,
	r.snooze_parent_id, r.created_at,
	ru.id, ru.kind, ru.interval_n, ru.unit, ru.cond, ru.days, ru.year_month, ru.year_day, ru.ends_at,
	ow.timezone, rc.timezone
FROM reminders r
LEFT JOIN recurrence_rules ru ON ru.id = r.rule_id
LEFT JOIN users ow ON ow.user_id = r.owner_id
LEFT JOIN users rc ON rc.user_id = r.recipient_id`

type scanner interface {
	Scan(dest ...any) error
}

func scanReminder(row scanner) (*reminder.Reminder, error) {
	var (
		rem       reminder.Reminder
		fireAt    int64
		createdAt int64
		snoozed   int
		parentID  sql.NullInt64

		ruleID    sql.NullInt64
		kind      sql.NullString
		intervalN sql.NullInt64
		unit      sql.NullString
		cond      sql.NullString
		days      sql.NullString
		yearMonth sql.NullInt64
		yearDay   sql.NullInt64
		endsAt    sql.NullInt64

		ownerTZ sql.NullString
		recipTZ sql.NullString
	)
	err := row.Scan(
		&rem.ID, &rem.OwnerID, &rem.RecipientID, &rem.Text, &fireAt, &rem.Status, &snoozed,
		&parentID, &createdAt,
		&ruleID, &kind, &intervalN, &unit, &cond, &days, &yearMonth, &yearDay, &endsAt,
		&ownerTZ, &recipTZ,
	)
	if err != nil {
		return nil, err
	}

	rem.FireAt = time.UnixMilli(fireAt).UTC()
	rem.CreatedAt = time.UnixMilli(createdAt).UTC()
	rem.Snoozed = snoozed != 0
	if parentID.Valid {
		v := parentID.Int64
		rem.SnoozeParentID = &v
	}
	rem.OwnerTZ = ownerTZ.String
	rem.RecipientTZ = recipTZ.String

	if ruleID.Valid {
		r, err := decodeRule(ruleID.Int64, kind.String, int(intervalN.Int64), unit.String,
			cond.String, days.String, int(yearMonth.Int64), int(yearDay.Int64), endsAt)
		if err != nil {
			return nil, fmt.Errorf("reminder %d: %w", rem.ID, err)
		}
		rem.Rule = r
	}
	return &rem, nil
}

func (s *sqliteStore) LoadDueBefore(ctx context.Context, horizon time.Time) ([]*reminder.Reminder, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+reminderCols+`
		 WHERE r.status = 'active' AND r.fire_at < ?
		 ORDER BY r.fire_at ASC, r.id ASC`,
		horizon.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*reminder.Reminder
	for rows.Next() {
		rem, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rem)
	}
	return out, rows.Err()
}

func (s *sqliteStore) SetFireAt(ctx context.Context, id int64, t time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE reminders SET fire_at = ? WHERE id = ? AND status = 'active'`,
		t.UTC().UnixMilli(), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *sqliteStore) Archive(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE reminders SET status = 'archived' WHERE id = ? AND status = 'active'`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *sqliteStore) CreateReminder(ctx context.Context, in NewReminder) (*reminder.Reminder, error) {
	if in.FireAt.After(time.Now().Add(s.maxHorizon)) {
		return nil, ErrTooFarAhead
	}
	if in.Rule != nil {
		if err := in.Rule.Validate(); err != nil {
			return nil, err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var ruleID any
	if in.Rule != nil {
		id, err := insertRule(ctx, tx, in.Rule)
		if err != nil {
			return nil, err
		}
		ruleID = id
	}

	snoozed := 0
	if in.Snoozed {
		snoozed = 1
	}
	var parent any
	if in.SnoozeParentID != nil {
		parent = *in.SnoozeParentID
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO reminders(owner_id, recipient_id, body, fire_at, status, snoozed, snooze_parent_id, rule_id, created_at)
		 VALUES(?,?,?,?,'active',?,?,?,?)`,
		in.OwnerID, in.RecipientID, in.Text, in.FireAt.UTC().UnixMilli(),
		snoozed, parent, ruleID, time.Now().UnixMilli())
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s.Reminder(ctx, id)
}

func (s *sqliteStore) Reminder(ctx context.Context, id int64) (*reminder.Reminder, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+reminderCols+` WHERE r.id = ?`, id)
	rem, err := scanReminder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rem, err
}

func (s *sqliteStore) ListByOwner(ctx context.Context, ownerID int64) ([]*reminder.Reminder, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+reminderCols+`
		 WHERE r.owner_id = ?
		 ORDER BY r.status = 'active' DESC, r.fire_at ASC, r.id ASC`,
		ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*reminder.Reminder
	for rows.Next() {
		rem, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rem)
	}
	return out, rows.Err()
}

func (s *sqliteStore) CreateRule(ctx context.Context, reminderID int64, r *reminder.Rule) (int64, error) {
	if err := r.Validate(); err != nil {
		return 0, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	id, err := insertRule(ctx, tx, r)
	if err != nil {
		return 0, err
	}
	// At most one rule per reminder; attaching over an existing one fails.
	res, err := tx.ExecContext(ctx,
		`UPDATE reminders SET rule_id = ? WHERE id = ? AND rule_id IS NULL`, id, reminderID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		var one int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM reminders WHERE id = ?`, reminderID).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		if err != nil {
			return 0, err
		}
		return 0, ErrRuleExists
	}
	return id, tx.Commit()
}

func (s *sqliteStore) UpdateRule(ctx context.Context, ruleID int64, r *reminder.Rule) error {
	if err := r.Validate(); err != nil {
		return err
	}
	kind, intervalN, unit, cond, days, ym, yd, endsAt := encodeRule(r)
	res, err := s.db.ExecContext(ctx,
		`UPDATE recurrence_rules
		 SET kind=?, interval_n=?, unit=?, cond=?, days=?, year_month=?, year_day=?, ends_at=?
		 WHERE id=?`,
		kind, intervalN, unit, cond, days, ym, yd, endsAt, ruleID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *sqliteStore) DeleteRule(ctx context.Context, ruleID int64) error {
	// ON DELETE SET NULL detaches the reminder, making it one-shot.
	res, err := s.db.ExecContext(ctx, `DELETE FROM recurrence_rules WHERE id = ?`, ruleID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *sqliteStore) SetTimezone(ctx context.Context, userID int64, tz string) error {
	tz = strings.TrimSpace(tz)
	if tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("unknown timezone %q: %w", tz, err)
		}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users(user_id, timezone) VALUES(?,?)
		 ON CONFLICT(user_id) DO UPDATE SET timezone=excluded.timezone`,
		userID, tz)
	return err
}

func (s *sqliteStore) Timezone(ctx context.Context, userID int64) (string, error) {
	var tz string
	err := s.db.QueryRowContext(ctx, `SELECT timezone FROM users WHERE user_id = ?`, userID).Scan(&tz)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return tz, err
}

func insertRule(ctx context.Context, tx *sql.Tx, r *reminder.Rule) (int64, error) {
	kind, intervalN, unit, cond, days, ym, yd, endsAt := encodeRule(r)
	res, err := tx.ExecContext(ctx,
		`INSERT INTO recurrence_rules(kind, interval_n, unit, cond, days, year_month, year_day, ends_at)
		 VALUES(?,?,?,?,?,?,?,?)`,
		kind, intervalN, unit, cond, days, ym, yd, endsAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ---- rule codec ----

func encodeRule(r *reminder.Rule) (kind string, intervalN int, unit, cond, days string, ym, yd int, endsAt any) {
	if r.EndsAt != nil {
		endsAt = r.EndsAt.UTC().UnixMilli()
	}
	switch r.Kind {
	case reminder.KindBasic:
		kind = "basic"
		intervalN = r.Interval
		unit = "hour"
		if r.Unit == reminder.UnitDay {
			unit = "day"
		}
	case reminder.KindConditioned:
		kind = "conditioned"
		switch r.Cond {
		case reminder.CondWeekdays:
			cond = "weekdays"
			days = joinDays(r.Weekdays)
		case reminder.CondMonthdays:
			cond = "monthdays"
			days = joinDays(r.Monthdays)
		case reminder.CondYearDay:
			cond = "yearday"
			ym = int(r.YearMonth)
			yd = r.YearDay
		}
	}
	return
}

func decodeRule(id int64, kind string, intervalN int, unit, cond, days string, ym, yd int, endsAt sql.NullInt64) (*reminder.Rule, error) {
	r := &reminder.Rule{ID: id}
	switch kind {
	case "basic":
		r.Kind = reminder.KindBasic
		r.Interval = intervalN
		switch unit {
		case "hour":
			r.Unit = reminder.UnitHour
		case "day":
			r.Unit = reminder.UnitDay
		default:
			return nil, fmt.Errorf("rule %d: unknown unit %q", id, unit)
		}
	case "conditioned":
		r.Kind = reminder.KindConditioned
		switch cond {
		case "weekdays":
			r.Cond = reminder.CondWeekdays
			ds, err := splitDays(days)
			if err != nil {
				return nil, fmt.Errorf("rule %d: %w", id, err)
			}
			r.Weekdays = ds
		case "monthdays":
			r.Cond = reminder.CondMonthdays
			ds, err := splitDays(days)
			if err != nil {
				return nil, fmt.Errorf("rule %d: %w", id, err)
			}
			r.Monthdays = ds
		case "yearday":
			r.Cond = reminder.CondYearDay
			r.YearMonth = time.Month(ym)
			r.YearDay = yd
		default:
			return nil, fmt.Errorf("rule %d: unknown cond %q", id, cond)
		}
	default:
		return nil, fmt.Errorf("rule %d: unknown kind %q", id, kind)
	}
	if endsAt.Valid {
		t := time.UnixMilli(endsAt.Int64).UTC()
		r.EndsAt = &t
	}
	return r, nil
}

func joinDays(days []int) string {
	parts := make([]string, len(days))
	for i, d := range days {
		parts[i] = strconv.Itoa(d)
	}
	return strings.Join(parts, ",")
}

func splitDays(s string) ([]int, error) {
	if strings.TrimSpace(s) == "" {
		return nil, errors.New("empty day set")
	}
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		d, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("bad day %q", p)
		}
		out = append(out, d)
	}
	return out, nil
}
