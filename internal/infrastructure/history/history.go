// Package history stores accepted CoV notifications in SQLite. The schema is
// managed by golang-migrate from the embedded migrations directory.
package history

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/normalframework/bacnet-cov-demo/internal/notify"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Record is one stored notification.
type Record struct {
	ID         string            `json:"id"`
	ReceivedAt time.Time         `json:"received_at"`
	Device     string            `json:"device"`
	Object     string            `json:"object"`
	ProcessID  uint32            `json:"process_id"`
	Confirmed  bool              `json:"confirmed"`
	Values     map[string]string `json:"values"`
}

// Store is a notify.Sink writing to SQLite.
type Store struct {
	db  *sql.DB
	log *slog.Logger
}

// Open opens (creating if needed) the database at path and migrates it to
// the latest schema.
func Open(path string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &Store{db: db, log: log}
	if err := s.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	version, err := s.Version()
	if err != nil {
		db.Close()
		return nil, err
	}
	log.Info("history store ready", "path", path, "schema_version", version)
	return s, nil
}

func (s *Store) migrateUp() error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("loading migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = &migrateLogger{log: s.log}
	// m is not closed: that would close s.db.

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// Version returns the applied schema version.
func (s *Store) Version() (uint, error) {
	var version uint
	err := s.db.QueryRow(`SELECT version FROM schema_migrations LIMIT 1`).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return version, nil
}

func (s *Store) Name() string { return "history" }

// Publish inserts ev and its values in one transaction.
func (s *Store) Publish(ctx context.Context, ev notify.Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx,
		`INSERT INTO notifications (id, received_at, received_ns, device, object, process_id, confirmed) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.Time.UTC().Format(time.RFC3339Nano), ev.Time.UnixNano(), ev.Device, ev.Object, ev.ProcessID, ev.Confirmed)
	if err != nil {
		return fmt.Errorf("inserting notification: %w", err)
	}
	for _, v := range ev.Values {
		_, err = tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO notification_values (notification_id, property, value) VALUES (?, ?, ?)`,
			ev.ID, v.Property, v.Text)
		if err != nil {
			return fmt.Errorf("inserting value %s: %w", v.Property, err)
		}
	}
	return tx.Commit()
}

// Recent returns the newest notifications for object, or for every object
// when object is empty, newest first.
func (s *Store) Recent(ctx context.Context, object string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, received_ns, device, object, process_id, confirmed FROM notifications`
	args := []interface{}{}
	if object != "" {
		query += ` WHERE object = ?`
		args = append(args, object)
	}
	query += ` ORDER BY received_ns DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying notifications: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		var received int64
		if err := rows.Scan(&r.ID, &received, &r.Device, &r.Object, &r.ProcessID, &r.Confirmed); err != nil {
			return nil, fmt.Errorf("scanning notification: %w", err)
		}
		r.ReceivedAt = time.Unix(0, received).UTC()
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range records {
		if records[i].Values, err = s.values(ctx, records[i].ID); err != nil {
			return nil, err
		}
	}
	return records, nil
}

func (s *Store) values(ctx context.Context, id string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT property, value FROM notification_values WHERE notification_id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("querying values: %w", err)
	}
	defer rows.Close()

	values := make(map[string]string)
	for rows.Next() {
		var prop, val string
		if err := rows.Scan(&prop, &val); err != nil {
			return nil, fmt.Errorf("scanning value: %w", err)
		}
		values[prop] = val
	}
	return values, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}

// migrateLogger implements migrate.Logger.
type migrateLogger struct {
	log *slog.Logger
}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	l.log.Info("[migrate] " + fmt.Sprintf(format, v...))
}

func (l *migrateLogger) Verbose() bool {
	return false
}
