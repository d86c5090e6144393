package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	// Registers the "sqlite" driver (pure Go).
	_ "modernc.org/sqlite"

	"github.com/vvzvlad/medical-bot/internal/domain"
)

// SQLiteRepo implements Repo using an embedded SQLite database.
type SQLiteRepo struct{ db *sql.DB }

// OpenSQLite opens (or creates) the SQLite database at the given path,
// applies recommended PRAGMAs, runs SQL migrations, and returns a repository.
func OpenSQLite(ctx context.Context, path string) (*SQLiteRepo, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// Reasonable pooling for SQLite; it's a single-writer engine.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := applyPragmas(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}
	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}

	return &SQLiteRepo{db: db}, nil
}

// applyPragmas configures the SQLite connection for durability and concurrency.
func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA foreign_keys=ON;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the underlying database resources.
func (r *SQLiteRepo) Close() error {
	return r.db.Close()
}

// GetUser returns a user record with all medications, or ErrNotFound.
func (r *SQLiteRepo) GetUser(ctx context.Context, chatID int64) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT chat_id, created_at, tz, dnd_enabled, dnd_from_m, dnd_to_m, dnd_postpone
		FROM users
		WHERE chat_id = ?`,
		chatID,
	)

	var (
		u           domain.User
		createdAt   int64
		dndEnabled  int
		dndPostpone int
	)
	if err := row.Scan(&u.ChatID, &createdAt, &u.TZ, &dndEnabled, &u.DNDFromM, &u.DNDToM, &dndPostpone); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	u.CreatedAt = time.Unix(createdAt, 0).UTC()
	u.DNDEnabled = dndEnabled != 0
	u.DNDPostpone = dndPostpone != 0

	meds, err := r.listMedications(ctx, chatID)
	if err != nil {
		return nil, err
	}
	u.Medications = meds
	return &u, nil
}

func (r *SQLiteRepo) listMedications(ctx context.Context, chatID int64) ([]*domain.Medication, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, created_at, name, dosage, kind, times, interval_hours, strict,
		       has_window, window_from_m, window_to_m,
		       last_taken, next_dose_at, reminder_msg_id, reminder_sent_at,
		       active, invalid
		FROM medications
		WHERE chat_id = ?
		ORDER BY created_at ASC, id ASC`,
		chatID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []*domain.Medication
	for rows.Next() {
		var (
			m          domain.Medication
			createdAt  int64
			kind       string
			timesJSON  string
			strictInt  int
			hasWindow  int
			activeInt  int
			invalidInt int
			lastNS     sql.NullInt64
			nextDoseAt int64
			remIDNS    sql.NullInt64
			remSentNS  sql.NullInt64
		)
		if err := rows.Scan(
			&m.ID, &createdAt, &m.Name, &m.Dosage, &kind, &timesJSON,
			&m.Schedule.IntervalHours, &strictInt,
			&hasWindow, &m.Schedule.WindowFromM, &m.Schedule.WindowToM,
			&lastNS, &nextDoseAt, &remIDNS, &remSentNS,
			&activeInt, &invalidInt,
		); err != nil {
			return nil, err
		}
		times, err := timesFromJSON(timesJSON)
		if err != nil {
			return nil, fmt.Errorf("medication %s: decode times: %w", m.ID, err)
		}
		m.Schedule.Kind = domain.ScheduleKind(kind)
		m.Schedule.Times = times
		m.Schedule.Strict = strictInt != 0
		m.Schedule.HasWindow = hasWindow != 0
		m.LastTaken = timeFromNull(lastNS)
		m.NextDoseAt = time.Unix(nextDoseAt, 0).UTC()
		m.ReminderID = int64FromNull(remIDNS)
		m.ReminderSentAt = timeFromNull(remSentNS)
		m.Active = activeInt != 0
		m.Invalid = invalidInt != 0
		m.CreatedAt = time.Unix(createdAt, 0).UTC()
		res = append(res, &m)
	}
	return res, rows.Err()
}

// SaveUser upserts the user row and every medication it holds, in one
// transaction so a read-modify-write cycle lands atomically.
func (r *SQLiteRepo) SaveUser(ctx context.Context, u *domain.User) error {
	if u == nil {
		return errors.New("nil user")
	}

	created := u.CreatedAt.UTC().Unix()
	if u.CreatedAt.IsZero() {
		created = time.Now().UTC().Unix()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO users (chat_id, created_at, tz, dnd_enabled, dnd_from_m, dnd_to_m, dnd_postpone)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET
			tz           = excluded.tz,
			dnd_enabled  = excluded.dnd_enabled,
			dnd_from_m   = excluded.dnd_from_m,
			dnd_to_m     = excluded.dnd_to_m,
			dnd_postpone = excluded.dnd_postpone`,
		u.ChatID, created, u.TZ,
		boolToInt(u.DNDEnabled), u.DNDFromM, u.DNDToM, boolToInt(u.DNDPostpone),
	)
	if err != nil {
		return err
	}

	for _, m := range u.Medications {
		timesJSON, err := timesToJSON(m.Schedule.Times)
		if err != nil {
			return fmt.Errorf("medication %s: encode times: %w", m.ID, err)
		}
		medCreated := m.CreatedAt.UTC().Unix()
		if m.CreatedAt.IsZero() {
			medCreated = time.Now().UTC().Unix()
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO medications (
				id, chat_id, created_at, name, dosage, kind, times,
				interval_hours, strict, has_window, window_from_m, window_to_m,
				last_taken, next_dose_at, reminder_msg_id, reminder_sent_at,
				active, invalid
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name             = excluded.name,
				dosage           = excluded.dosage,
				kind             = excluded.kind,
				times            = excluded.times,
				interval_hours   = excluded.interval_hours,
				strict           = excluded.strict,
				has_window       = excluded.has_window,
				window_from_m    = excluded.window_from_m,
				window_to_m      = excluded.window_to_m,
				last_taken       = excluded.last_taken,
				next_dose_at     = excluded.next_dose_at,
				reminder_msg_id  = excluded.reminder_msg_id,
				reminder_sent_at = excluded.reminder_sent_at,
				active           = excluded.active,
				invalid          = excluded.invalid`,
			m.ID, u.ChatID, medCreated, m.Name, m.Dosage,
			string(m.Schedule.Kind), timesJSON,
			m.Schedule.IntervalHours, boolToInt(m.Schedule.Strict),
			boolToInt(m.Schedule.HasWindow), m.Schedule.WindowFromM, m.Schedule.WindowToM,
			timeToNull(m.LastTaken), m.NextDoseAt.UTC().Unix(),
			int64ToNull(m.ReminderID), timeToNull(m.ReminderSentAt),
			boolToInt(m.Active), boolToInt(m.Invalid),
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// ListUserIDs enumerates all users for the scheduler tick.
func (r *SQLiteRepo) ListUserIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT chat_id FROM users ORDER BY chat_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeactivateAll soft-deletes every medication of a user and clears reminders.
func (r *SQLiteRepo) DeactivateAll(ctx context.Context, chatID int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE medications
		SET active = 0, reminder_msg_id = NULL, reminder_sent_at = NULL
		WHERE chat_id = ?`,
		chatID,
	)
	return err
}
