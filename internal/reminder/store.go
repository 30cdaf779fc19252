package reminder

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// timeLayout is fixed-width so that text comparison in SQL orders
// timestamps chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const selectColumns = `id, owner_id, title, body, due_at, status, status_automated,
	status_changed_at, completed_at, channel, phone_number, email_address,
	notification_sent, dispatch_handle, created_at, updated_at`

// Store provides SQLite-backed storage for reminders.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithStoreClock overrides the clock used for audit timestamps.
func WithStoreClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// NewStore opens (or creates) the SQLite database at dbPath and
// ensures the reminders schema exists.
func NewStore(dbPath string, opts ...StoreOption) (*Store, error) {
	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS reminders (
			id                TEXT    PRIMARY KEY,
			owner_id          TEXT    NOT NULL,
			title             TEXT    NOT NULL,
			body              TEXT    NOT NULL DEFAULT '',
			due_at            TEXT    NOT NULL,
			status            TEXT    NOT NULL DEFAULT 'pending'
			                  CHECK (status IN ('pending', 'completed', 'missed')),
			status_automated  INTEGER NOT NULL DEFAULT 0,
			status_changed_at TEXT,
			completed_at      TEXT,
			channel           TEXT    NOT NULL DEFAULT 'none',
			phone_number      TEXT    NOT NULL DEFAULT '',
			email_address     TEXT    NOT NULL DEFAULT '',
			notification_sent INTEGER NOT NULL DEFAULT 0,
			dispatch_handle   TEXT    NOT NULL DEFAULT '',
			created_at        TEXT    NOT NULL,
			updated_at        TEXT    NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_reminders_owner_due ON reminders (owner_id, due_at);
		CREATE INDEX IF NOT EXISTS idx_reminders_status_due ON reminders (status, due_at);
	`)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Add inserts a reminder. ID must already be assigned.
func (s *Store) Add(ctx context.Context, r Reminder) (*Reminder, error) {
	if r.ID == "" {
		return nil, fmt.Errorf("failed to insert reminder: empty id")
	}
	now := s.now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = r.CreatedAt
	}
	if r.Status == "" {
		r.Status = StatusPending
	}
	if r.Channel == "" {
		r.Channel = ChannelNone
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reminders (`+selectColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.OwnerID, r.Title, r.Body, formatTime(r.DueAt), r.Status, r.StatusAutomated,
		formatTimePtr(r.StatusChangedAt), formatTimePtr(r.CompletedAt), r.Channel,
		r.PhoneNumber, r.EmailAddress, r.NotificationSent, r.DispatchHandle,
		formatTime(r.CreatedAt), formatTime(r.UpdatedAt))
	if err != nil {
		return nil, fmt.Errorf("failed to insert reminder: %w", err)
	}

	return s.Get(ctx, r.ID)
}

// Get returns a single reminder by ID.
func (s *Store) Get(ctx context.Context, id string) (*Reminder, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM reminders WHERE id = ?`, id)

	r, err := scanReminder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("reminder %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get reminder: %w", err)
	}
	return r, nil
}

// List returns reminders matching the filter ordered by due time.
func (s *Store) List(ctx context.Context, f ListFilter) ([]Reminder, error) {
	where := []string{}
	args := []interface{}{}

	if f.OwnerID != "" {
		where = append(where, "owner_id = ?")
		args = append(args, f.OwnerID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if f.Automated != nil {
		where = append(where, "status_automated = ?")
		args = append(args, *f.Automated)
	}
	if q := strings.TrimSpace(f.Search); q != "" {
		pattern := "%" + escapeLike(strings.ToLower(q)) + "%"
		where = append(where, `(LOWER(title) LIKE ? ESCAPE '\' OR LOWER(body) LIKE ? ESCAPE '\')`)
		args = append(args, pattern, pattern)
	}

	query := `SELECT ` + selectColumns + ` FROM reminders`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY due_at ASC, id ASC"

	return s.query(ctx, "list reminders", query, args...)
}

// FindPending returns pending reminders due strictly before the given
// time that have not been notified. Notified reminders are left to
// FindCompletable.
func (s *Store) FindPending(ctx context.Context, before time.Time) ([]Reminder, error) {
	return s.query(ctx, "find pending reminders", `
		SELECT `+selectColumns+` FROM reminders
		WHERE status = ? AND notification_sent = 0 AND due_at < ?
		ORDER BY due_at ASC, id ASC
	`, StatusPending, formatTime(before))
}

// FindDueForDispatch returns pending, un-notified reminders due in
// [now, now+window].
func (s *Store) FindDueForDispatch(ctx context.Context, now time.Time, window time.Duration) ([]Reminder, error) {
	return s.query(ctx, "find reminders due for dispatch", `
		SELECT `+selectColumns+` FROM reminders
		WHERE status = ? AND notification_sent = 0 AND due_at >= ? AND due_at <= ?
		ORDER BY due_at ASC, id ASC
	`, StatusPending, formatTime(now), formatTime(now.Add(window)))
}

// FindCompletable returns pending reminders that were notified and are
// now past due.
func (s *Store) FindCompletable(ctx context.Context, now time.Time) ([]Reminder, error) {
	return s.query(ctx, "find completable reminders", `
		SELECT `+selectColumns+` FROM reminders
		WHERE status = ? AND notification_sent = 1 AND due_at < ?
		ORDER BY due_at ASC, id ASC
	`, StatusPending, formatTime(now))
}

// UpdateStatus writes a status change only if the stored status still
// equals expected.
func (s *Store) UpdateStatus(ctx context.Context, id string, expected Status, ch StatusChange) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE reminders
		SET status = ?, status_automated = ?, status_changed_at = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, ch.Status, ch.Automated, formatTime(ch.ChangedAt), formatTimePtr(ch.CompletedAt),
		formatTime(s.now()), id, expected)
	if err != nil {
		return fmt.Errorf("failed to update reminder status: %w", err)
	}

	n, _ := result.RowsAffected()
	if n == 0 {
		return s.missOrConflict(ctx, id)
	}
	return nil
}

// MarkNotificationSent sets the one-way dispatch flag.
func (s *Store) MarkNotificationSent(ctx context.Context, id string) error {
	return s.exec(ctx, id, "mark notification sent",
		`UPDATE reminders SET notification_sent = 1, updated_at = ? WHERE id = ?`,
		formatTime(s.now()), id)
}

// SetDispatchHandle stores the handle of an externally scheduled send.
// An empty handle clears it.
func (s *Store) SetDispatchHandle(ctx context.Context, id, handle string) error {
	return s.exec(ctx, id, "set dispatch handle",
		`UPDATE reminders SET dispatch_handle = ?, updated_at = ? WHERE id = ?`,
		handle, formatTime(s.now()), id)
}

// Update applies partial updates to a reminder.
func (s *Store) Update(ctx context.Context, id string, fields UpdateFields) (*Reminder, error) {
	// Build SET clause dynamically
	setClauses := []string{}
	args := []interface{}{}

	if fields.Title != nil {
		setClauses = append(setClauses, "title = ?")
		args = append(args, *fields.Title)
	}
	if fields.Body != nil {
		setClauses = append(setClauses, "body = ?")
		args = append(args, *fields.Body)
	}
	if fields.DueAt != nil {
		setClauses = append(setClauses, "due_at = ?")
		args = append(args, formatTime(*fields.DueAt))
	}
	if fields.Channel != nil {
		setClauses = append(setClauses, "channel = ?")
		args = append(args, *fields.Channel)
	}
	if fields.PhoneNumber != nil {
		setClauses = append(setClauses, "phone_number = ?")
		args = append(args, *fields.PhoneNumber)
	}
	if fields.EmailAddress != nil {
		setClauses = append(setClauses, "email_address = ?")
		args = append(args, *fields.EmailAddress)
	}
	if fields.Status != nil {
		setClauses = append(setClauses, "status = ?", "status_automated = 0")
		args = append(args, *fields.Status)
	}
	if fields.StatusChangedAt != nil {
		setClauses = append(setClauses, "status_changed_at = ?")
		args = append(args, formatTime(*fields.StatusChangedAt))
	}
	if fields.ClearCompletedAt {
		setClauses = append(setClauses, "completed_at = NULL")
	}
	if fields.NotificationSent != nil {
		setClauses = append(setClauses, "notification_sent = ?")
		args = append(args, *fields.NotificationSent)
	}

	if len(setClauses) == 0 {
		return s.Get(ctx, id)
	}

	setClauses = append(setClauses, "updated_at = ?")
	args = append(args, formatTime(s.now()))

	query := "UPDATE reminders SET " + strings.Join(setClauses, ", ") + " WHERE id = ?"
	args = append(args, id)

	if err := s.exec(ctx, id, "update reminder", query, args...); err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

// Delete removes a reminder by ID.
func (s *Store) Delete(ctx context.Context, id string) error {
	return s.exec(ctx, id, "delete reminder", `DELETE FROM reminders WHERE id = ?`, id)
}

func (s *Store) exec(ctx context.Context, id, what, query string, args ...interface{}) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", what, err)
	}

	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("reminder %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *Store) query(ctx context.Context, what, query string, args ...interface{}) ([]Reminder, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to %s: %w", what, err)
	}
	defer rows.Close()

	var reminders []Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reminder: %w", err)
		}
		reminders = append(reminders, *r)
	}
	return reminders, rows.Err()
}

func (s *Store) missOrConflict(ctx context.Context, id string) error {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM reminders WHERE id = ?`, id).Scan(&one)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("reminder %s: %w", id, ErrNotFound)
	case err != nil:
		return fmt.Errorf("failed to check reminder: %w", err)
	}
	return fmt.Errorf("reminder %s: %w", id, ErrStatusConflict)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanReminder(row rowScanner) (*Reminder, error) {
	var r Reminder
	var dueAt, createdAt, updatedAt string
	var statusChangedAt, completedAt sql.NullString

	if err := row.Scan(&r.ID, &r.OwnerID, &r.Title, &r.Body, &dueAt, &r.Status,
		&r.StatusAutomated, &statusChangedAt, &completedAt, &r.Channel,
		&r.PhoneNumber, &r.EmailAddress, &r.NotificationSent, &r.DispatchHandle,
		&createdAt, &updatedAt); err != nil {
		return nil, err
	}

	r.DueAt = parseTime(dueAt)
	r.CreatedAt = parseTime(createdAt)
	r.UpdatedAt = parseTime(updatedAt)
	r.StatusChangedAt = parseTimePtr(statusChangedAt)
	r.CompletedAt = parseTimePtr(completedAt)

	return &r, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
