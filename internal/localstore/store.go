package localstore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/pressly/goose/v3"
	"github.com/webitel/report-orchestrator/internal/errors"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// CurrentVersion is the snapshot format this build writes.
const CurrentVersion = 1

const (
	snapshotTable = "snapshot"
	itemsTable    = "snapshot_items"
)

// Entry is the minimal recovery data for one queued upload.
type Entry struct {
	Serial   string
	ReportID string
	FileName string
}

// Snapshot is everything the uploader needs to rehydrate its queue.
type Snapshot struct {
	Version   int
	SessionID string
	AccessKey string
	SavedAt   time.Time
	Items     []Entry
}

// Store keeps one snapshot in a sqlite file.
type Store struct {
	db *sql.DB
}

// Open opens the sqlite database at path and runs migrations. ":memory:" is
// accepted for tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, errors.Internal("open local store", errors.WithID("localstore.open"), errors.WithCause(err))
	}
	// a second connection to :memory: would see an empty database
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Internal("ping local store", errors.WithID("localstore.open"), errors.WithCause(err))
	}
	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, errors.Internal("migrate local store", errors.WithID("localstore.migrate"), errors.WithCause(err))
	}
	return &Store{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	goose.SetBaseFS(migrations)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

// Load returns the saved snapshot, or an empty current-version one when
// nothing was saved. Snapshots written by a newer build are rejected.
func (s *Store) Load(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{Version: CurrentVersion}

	query, args, err := sq.Select("version", "session_id", "access_key", "saved_at").
		From(snapshotTable).Where(sq.Eq{"id": 1}).ToSql()
	if err != nil {
		return nil, errors.NewDBInternalError("load_snapshot", err)
	}
	var savedAt string
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&snap.Version, &snap.SessionID, &snap.AccessKey, &savedAt)
	if err == sql.ErrNoRows {
		return snap, nil
	}
	if err != nil {
		return nil, errors.NewDBInternalError("load_snapshot", err)
	}
	if snap.Version > CurrentVersion {
		return nil, errors.Validation(
			fmt.Sprintf("snapshot version %d is newer than %d", snap.Version, CurrentVersion),
			errors.WithID("localstore.load.version"))
	}
	if snap.SavedAt, err = time.Parse(time.RFC3339Nano, savedAt); err != nil {
		return nil, errors.NewDBInternalError("load_snapshot", err)
	}

	query, args, err = sq.Select("serial", "report_id", "file_name").
		From(itemsTable).OrderBy("position").ToSql()
	if err != nil {
		return nil, errors.NewDBInternalError("load_snapshot_items", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewDBInternalError("load_snapshot_items", err)
	}
	defer rows.Close()
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Serial, &e.ReportID, &e.FileName); err != nil {
			return nil, errors.NewDBInternalError("load_snapshot_items", err)
		}
		snap.Items = append(snap.Items, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewDBInternalError("load_snapshot_items", err)
	}
	return snap, nil
}

// Save replaces the stored snapshot. The version written is always CurrentVersion.
func (s *Store) Save(ctx context.Context, snap *Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewDBInternalError("save_snapshot", err)
	}
	defer func() { _ = tx.Rollback() }()

	savedAt := snap.SavedAt
	if savedAt.IsZero() {
		savedAt = time.Now()
	}
	stmts := []sq.Sqlizer{
		sq.Delete(itemsTable),
		sq.Insert(snapshotTable).
			Columns("id", "version", "session_id", "access_key", "saved_at").
			Values(1, CurrentVersion, snap.SessionID, snap.AccessKey, savedAt.UTC().Format(time.RFC3339Nano)).
			Suffix("ON CONFLICT (id) DO UPDATE SET version = excluded.version, session_id = excluded.session_id, " +
				"access_key = excluded.access_key, saved_at = excluded.saved_at"),
	}
	if len(snap.Items) > 0 {
		ins := sq.Insert(itemsTable).Columns("position", "serial", "report_id", "file_name")
		for i, e := range snap.Items {
			ins = ins.Values(i, e.Serial, e.ReportID, e.FileName)
		}
		stmts = append(stmts, ins)
	}
	for _, st := range stmts {
		query, args, err := st.ToSql()
		if err != nil {
			return errors.NewDBInternalError("save_snapshot", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return errors.NewDBInternalError("save_snapshot", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.NewDBInternalError("save_snapshot", err)
	}
	snap.Version = CurrentVersion
	return nil
}

// Clear drops the recovery items but keeps the session.
func (s *Store) Clear(ctx context.Context) error {
	query, args, err := sq.Delete(itemsTable).ToSql()
	if err != nil {
		return errors.NewDBInternalError("clear_snapshot", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return errors.NewDBInternalError("clear_snapshot", err)
	}
	return nil
}
