package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dutschedule/dutnotify/internal/domain"
	"github.com/dutschedule/dutnotify/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db             *sql.DB
	notificationMu sync.Mutex // Serializes insert+trim of notification history
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS devices (
		device_id TEXT PRIMARY KEY,
		last_seen_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_devices_last_seen ON devices(last_seen_at);

	CREATE TABLE IF NOT EXISTS settings (
		device_id TEXT PRIMARY KEY,
		settings_json TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS notifications (
		id TEXT PRIMARY KEY,
		device_id TEXT NOT NULL,
		tag TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL,
		payload TEXT,
		is_read INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_notifications_device ON notifications(device_id, created_at);

	CREATE TABLE IF NOT EXISTS search_history (
		device_id TEXT PRIMARY KEY,
		history_json TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS news_keys (
		kind TEXT PRIMARY KEY,
		keys_json TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// GetDevice retrieves a device by ID.
func (s *SQLiteStore) GetDevice(ctx context.Context, deviceID string) (*domain.Device, error) {
	query := `SELECT device_id, last_seen_at, created_at, updated_at FROM devices WHERE device_id = ?`

	var device domain.Device
	var lastSeen, createdAt, updatedAt int64
	err := s.db.QueryRowContext(ctx, query, deviceID).Scan(&device.DeviceID, &lastSeen, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan device row: %w", err)
	}

	device.LastSeenAt = time.Unix(lastSeen, 0)
	device.CreatedAt = time.Unix(createdAt, 0)
	device.UpdatedAt = time.Unix(updatedAt, 0)
	return &device, nil
}

// UpsertDevice creates or updates a device record.
func (s *SQLiteStore) UpsertDevice(ctx context.Context, device *domain.Device) error {
	query := `
	INSERT INTO devices (device_id, last_seen_at, created_at, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(device_id) DO UPDATE SET
		last_seen_at = excluded.last_seen_at,
		updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query,
		device.DeviceID, device.LastSeenAt.Unix(), device.CreatedAt.Unix(), device.UpdatedAt.Unix())
	if err != nil {
		return fmt.Errorf("upsert device: %w", err)
	}
	return nil
}

// UpdateLastSeen updates the last_seen_at timestamp for a device.
func (s *SQLiteStore) UpdateLastSeen(ctx context.Context, deviceID string, lastSeen time.Time) error {
	query := `UPDATE devices SET last_seen_at = ?, updated_at = ? WHERE device_id = ?`
	result, err := s.db.ExecContext(ctx, query, lastSeen.Unix(), time.Now().Unix(), deviceID)
	if err != nil {
		return fmt.Errorf("update last_seen: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("UpdateLastSeen affected 0 rows", "device_id", deviceID)
	}
	return nil
}

// ListDevices returns every known device.
func (s *SQLiteStore) ListDevices(ctx context.Context) ([]*domain.Device, error) {
	return s.queryDevices(ctx, `SELECT device_id, last_seen_at, created_at, updated_at FROM devices ORDER BY created_at`)
}

// GetIdleDevices returns devices not seen within ttl.
func (s *SQLiteStore) GetIdleDevices(ctx context.Context, ttl time.Duration) ([]*domain.Device, error) {
	threshold := time.Now().Add(-ttl).Unix()
	return s.queryDevices(ctx,
		`SELECT device_id, last_seen_at, created_at, updated_at FROM devices WHERE last_seen_at < ?`, threshold)
}

func (s *SQLiteStore) queryDevices(ctx context.Context, query string, args ...any) ([]*domain.Device, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query devices: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close device rows", "error", closeErr)
		}
	}()

	var devices []*domain.Device
	for rows.Next() {
		var device domain.Device
		var lastSeen, createdAt, updatedAt int64
		if err := rows.Scan(&device.DeviceID, &lastSeen, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan device row: %w", err)
		}
		device.LastSeenAt = time.Unix(lastSeen, 0)
		device.CreatedAt = time.Unix(createdAt, 0)
		device.UpdatedAt = time.Unix(updatedAt, 0)
		devices = append(devices, &device)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate devices: %w", err)
	}
	return devices, nil
}

// GetSettings returns the device settings, or the defaults when none are stored.
func (s *SQLiteStore) GetSettings(ctx context.Context, deviceID string) (domain.Settings, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT settings_json FROM settings WHERE device_id = ?`, deviceID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.DefaultSettings(), nil
	}
	if err != nil {
		return domain.Settings{}, fmt.Errorf("query settings: %w", err)
	}

	settings := domain.DefaultSettings()
	if err := json.Unmarshal([]byte(raw), &settings); err != nil {
		return domain.Settings{}, fmt.Errorf("decode settings: %w", err)
	}
	return settings, nil
}

// SaveSettings stores the device settings.
func (s *SQLiteStore) SaveSettings(ctx context.Context, deviceID string, settings domain.Settings) error {
	raw, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	query := `
	INSERT INTO settings (device_id, settings_json, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(device_id) DO UPDATE SET
		settings_json = excluded.settings_json,
		updated_at = excluded.updated_at`
	return withRetry(ctx, "save settings", func() error {
		_, err := s.db.ExecContext(ctx, query, deviceID, string(raw), time.Now().Unix())
		return err
	})
}

// AddNotifications appends notifications and trims the history to limit rows.
func (s *SQLiteStore) AddNotifications(ctx context.Context, deviceID string, notifications []domain.Notification, limit int) error {
	if len(notifications) == 0 {
		return nil
	}
	s.notificationMu.Lock()
	defer s.notificationMu.Unlock()

	return withRetry(ctx, "add notifications", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		defer func() {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				slog.Warn("failed to rollback notification insert", "error", rbErr)
			}
		}()

		insert := `
		INSERT OR IGNORE INTO notifications (id, device_id, tag, title, description, payload, is_read, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
		for _, n := range notifications {
			var payload any
			if n.Payload != "" {
				payload = n.Payload
			}
			if _, err := tx.ExecContext(ctx, insert,
				n.ID, deviceID, n.Tag, n.Title, n.Description, payload, n.Read, n.Timestamp.UnixMilli(),
			); err != nil {
				return fmt.Errorf("insert notification: %w", err)
			}
		}

		if limit > 0 {
			trim := `
			DELETE FROM notifications WHERE device_id = ? AND id NOT IN (
				SELECT id FROM notifications WHERE device_id = ?
				ORDER BY created_at DESC, rowid DESC LIMIT ?
			)`
			if _, err := tx.ExecContext(ctx, trim, deviceID, deviceID, limit); err != nil {
				return fmt.Errorf("trim notifications: %w", err)
			}
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit notifications: %w", err)
		}
		return nil
	})
}

// ListNotifications returns up to limit notifications, newest first.
func (s *SQLiteStore) ListNotifications(ctx context.Context, deviceID string, limit int) ([]domain.Notification, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, tag, title, description, payload, is_read, created_at
		FROM notifications WHERE device_id = ?
		ORDER BY created_at DESC, rowid DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close notification rows", "error", closeErr)
		}
	}()

	notifications := []domain.Notification{}
	for rows.Next() {
		var n domain.Notification
		var payload sql.NullString
		var createdAt int64
		if err := rows.Scan(&n.ID, &n.Tag, &n.Title, &n.Description, &payload, &n.Read, &createdAt); err != nil {
			return nil, fmt.Errorf("scan notification row: %w", err)
		}
		n.Payload = payload.String
		n.Timestamp = time.UnixMilli(createdAt)
		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return notifications, nil
}

// MarkNotificationRead flags one notification as read.
func (s *SQLiteStore) MarkNotificationRead(ctx context.Context, deviceID, notificationID string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET is_read = 1 WHERE device_id = ? AND id = ?`, deviceID, notificationID)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// ClearNotifications removes a device's notification history.
func (s *SQLiteStore) ClearNotifications(ctx context.Context, deviceID string) error {
	return withRetry(ctx, "clear notifications", func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM notifications WHERE device_id = ?`, deviceID)
		return err
	})
}

// GetSearchHistory returns the device's news search history.
func (s *SQLiteStore) GetSearchHistory(ctx context.Context, deviceID string) ([]domain.NewsSearchHistory, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT history_json FROM search_history WHERE device_id = ?`, deviceID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return []domain.NewsSearchHistory{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query search history: %w", err)
	}

	history := []domain.NewsSearchHistory{}
	if err := json.Unmarshal([]byte(raw), &history); err != nil {
		return nil, fmt.Errorf("decode search history: %w", err)
	}
	return history, nil
}

// SaveSearchHistory replaces the device's news search history.
func (s *SQLiteStore) SaveSearchHistory(ctx context.Context, deviceID string, history []domain.NewsSearchHistory) error {
	if history == nil {
		history = []domain.NewsSearchHistory{}
	}
	raw, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("encode search history: %w", err)
	}
	query := `
	INSERT INTO search_history (device_id, history_json, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(device_id) DO UPDATE SET
		history_json = excluded.history_json,
		updated_at = excluded.updated_at`
	return withRetry(ctx, "save search history", func() error {
		_, err := s.db.ExecContext(ctx, query, deviceID, string(raw), time.Now().Unix())
		return err
	})
}

// ClearSearchHistory removes the device's news search history.
func (s *SQLiteStore) ClearSearchHistory(ctx context.Context, deviceID string) error {
	return withRetry(ctx, "clear search history", func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM search_history WHERE device_id = ?`, deviceID)
		return err
	})
}

// GetNewsKeys returns the last seen news item keys of a feed.
func (s *SQLiteStore) GetNewsKeys(ctx context.Context, kind domain.NewsType) ([]string, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT keys_json FROM news_keys WHERE kind = ?`, string(kind)).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query news keys: %w", err)
	}
	var keys []string
	if err := json.Unmarshal([]byte(raw), &keys); err != nil {
		return nil, fmt.Errorf("decode news keys: %w", err)
	}
	return keys, nil
}

// SaveNewsKeys replaces the last seen news item keys of a feed.
func (s *SQLiteStore) SaveNewsKeys(ctx context.Context, kind domain.NewsType, keys []string) error {
	if keys == nil {
		keys = []string{}
	}
	raw, err := json.Marshal(keys)
	if err != nil {
		return fmt.Errorf("encode news keys: %w", err)
	}
	query := `
	INSERT INTO news_keys (kind, keys_json, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(kind) DO UPDATE SET
		keys_json = excluded.keys_json,
		updated_at = excluded.updated_at`
	return withRetry(ctx, "save news keys", func() error {
		_, err := s.db.ExecContext(ctx, query, string(kind), string(raw), time.Now().Unix())
		return err
	})
}

// withRetry runs op with exponential backoff while SQLite reports busy/locked.
func withRetry(ctx context.Context, name string, op func() error) error {
	const maxRetries = 3
	baseDelay := 50 * time.Millisecond

	var err error
	for i := 0; i < maxRetries; i++ {
		err = op()
		if err == nil {
			return nil
		}
		if !shared.IsSQLiteConflictError(err) || i == maxRetries-1 {
			break
		}
		delay := baseDelay * time.Duration(1<<i) // exponential backoff: 50ms, 100ms, 200ms
		slog.Debug("SQLite busy, retrying", "op", name, "attempt", i+1, "delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", name, ctx.Err())
		}
	}
	return fmt.Errorf("%s: %w", name, err)
}
