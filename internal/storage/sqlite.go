package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/calnotify/calnotify/internal/domain"

	_ "github.com/mattn/go-sqlite3"
)

type Storage struct {
	db *sql.DB
}

func New(dbPath string) (*Storage, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}

	s := &Storage{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			chat_id INTEGER UNIQUE NOT NULL,
			username TEXT DEFAULT '',
			firstname TEXT DEFAULT '',
			lastname TEXT DEFAULT '',
			time_zone INTEGER DEFAULT 0,
			culture TEXT DEFAULT 'en',
			notify_minutes INTEGER DEFAULT 30,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS calendars (
			user_id TEXT PRIMARY KEY,
			external_id TEXT DEFAULT '',
			calendar_url TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			modified_at TIMESTAMP NOT NULL,
			FOREIGN KEY (user_id) REFERENCES users(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_calendars_external_id ON calendars(external_id)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			// ALTER TABLE migrations may already be applied
			if strings.Contains(err.Error(), "duplicate column name") {
				continue
			}
			return fmt.Errorf("exec migration: %w", err)
		}
	}

	return nil
}

// --- Users ---

func (s *Storage) CreateUser(ctx context.Context, u *domain.User) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	u.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, chat_id, username, firstname, lastname, time_zone, culture, notify_minutes, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.ChatID, u.Username, u.Firstname, u.Lastname, u.TimeZone, u.Culture, u.NotifyMinutes, u.CreatedAt)
	return err
}

func (s *Storage) GetUserByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, chat_id, username, firstname, lastname, time_zone, culture, notify_minutes, created_at
		 FROM users WHERE id = ?`, id)
	return scanUser(row)
}

func (s *Storage) GetUserByChatID(ctx context.Context, chatID int64) (*domain.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, chat_id, username, firstname, lastname, time_zone, culture, notify_minutes, created_at
		 FROM users WHERE chat_id = ?`, chatID)
	return scanUser(row)
}

// ListUsersWithCalendar returns every user that has a calendar subscription.
func (s *Storage) ListUsersWithCalendar(ctx context.Context) ([]*domain.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT u.id, u.chat_id, u.username, u.firstname, u.lastname, u.time_zone, u.culture, u.notify_minutes, u.created_at
		 FROM users u
		 INNER JOIN calendars c ON c.user_id = u.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*domain.User
	for rows.Next() {
		u := &domain.User{}
		if err := rows.Scan(&u.ID, &u.ChatID, &u.Username, &u.Firstname, &u.Lastname,
			&u.TimeZone, &u.Culture, &u.NotifyMinutes, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *Storage) UpdateUserDetails(ctx context.Context, id uuid.UUID, chatID int64, username, firstname, lastname string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET chat_id = ?, username = ?, firstname = ?, lastname = ? WHERE id = ?`,
		chatID, username, firstname, lastname, id)
	return err
}

func (s *Storage) UpdateUserTimeZone(ctx context.Context, id uuid.UUID, timeZone int) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET time_zone = ? WHERE id = ?`, timeZone, id)
	return err
}

func (s *Storage) UpdateUserCulture(ctx context.Context, id uuid.UUID, culture string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET culture = ? WHERE id = ?`, culture, id)
	return err
}

func (s *Storage) UpdateUserNotifyMinutes(ctx context.Context, id uuid.UUID, minutes int) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET notify_minutes = ? WHERE id = ?`, minutes, id)
	return err
}

func (s *Storage) DeleteUser(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	return err
}

func scanUser(row *sql.Row) (*domain.User, error) {
	u := &domain.User{}
	err := row.Scan(&u.ID, &u.ChatID, &u.Username, &u.Firstname, &u.Lastname,
		&u.TimeZone, &u.Culture, &u.NotifyMinutes, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

// --- Calendars ---

// UpsertCalendar creates the user's subscription or replaces its URL.
func (s *Storage) UpsertCalendar(ctx context.Context, c *domain.Calendar) error {
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.ModifiedAt = now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO calendars (user_id, external_id, calendar_url, created_at, modified_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
			external_id = excluded.external_id,
			calendar_url = excluded.calendar_url,
			modified_at = excluded.modified_at`,
		c.UserID, c.ExternalID, c.URL, c.CreatedAt, c.ModifiedAt)
	return err
}

func (s *Storage) GetCalendarByUserID(ctx context.Context, userID uuid.UUID) (*domain.Calendar, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT user_id, external_id, calendar_url, created_at, modified_at
		 FROM calendars WHERE user_id = ?`, userID)
	c := &domain.Calendar{}
	err := row.Scan(&c.UserID, &c.ExternalID, &c.URL, &c.CreatedAt, &c.ModifiedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ListCalendars returns all subscriptions, optionally skipping the ones that
// came from an external source.
func (s *Storage) ListCalendars(ctx context.Context, withoutExternal bool) ([]*domain.Calendar, error) {
	query := `SELECT user_id, external_id, calendar_url, created_at, modified_at FROM calendars`
	if withoutExternal {
		query += ` WHERE external_id = ''`
	}
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCalendars(rows)
}

func (s *Storage) ListCalendarsByUserIDs(ctx context.Context, userIDs []uuid.UUID) ([]*domain.Calendar, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	args := make([]any, len(userIDs))
	for i, id := range userIDs {
		args[i] = id
	}
	query := fmt.Sprintf(
		`SELECT user_id, external_id, calendar_url, created_at, modified_at
		 FROM calendars WHERE user_id IN (%s)`, placeholders(len(args)))
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCalendars(rows)
}

func (s *Storage) ListCalendarsByExternalIDs(ctx context.Context, externalIDs []string) ([]*domain.Calendar, error) {
	if len(externalIDs) == 0 {
		return nil, nil
	}
	args := make([]any, len(externalIDs))
	for i, id := range externalIDs {
		args[i] = id
	}
	query := fmt.Sprintf(
		`SELECT user_id, external_id, calendar_url, created_at, modified_at
		 FROM calendars WHERE external_id IN (%s)`, placeholders(len(args)))
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCalendars(rows)
}

// TouchCalendar bumps the subscription's modification timestamp.
func (s *Storage) TouchCalendar(ctx context.Context, userID uuid.UUID, modifiedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE calendars SET modified_at = ? WHERE user_id = ?`, modifiedAt, userID)
	return err
}

func (s *Storage) DeleteCalendar(ctx context.Context, userID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM calendars WHERE user_id = ?`, userID)
	return err
}

func scanCalendars(rows *sql.Rows) ([]*domain.Calendar, error) {
	var calendars []*domain.Calendar
	for rows.Next() {
		c := &domain.Calendar{}
		if err := rows.Scan(&c.UserID, &c.ExternalID, &c.URL, &c.CreatedAt, &c.ModifiedAt); err != nil {
			return nil, err
		}
		calendars = append(calendars, c)
	}
	return calendars, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
