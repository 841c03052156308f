package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "github.com/torgash1221/ig-autoposter/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

const timeFormat = time.RFC3339Nano

// Store is the durable record of content, schedules and publish history.
// All mutations go through a single connection, which serializes
// read-modify-write cycles at this scale.
type Store struct {
	db  *sql.DB
	log logx.Logger
}

func Open(cfg Config, log logx.Logger) (*Store, error) {
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

	if log.IsZero() {
		log = logx.Nop()
	}
	st := &Store{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *Store) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- content ----

func (s *Store) AddContent(ctx context.Context, item ContentItem) (int64, error) {
	if item.Kind == "" {
		item.Kind = KindGeneric
	}
	if item.Priority <= 0 {
		item.Priority = 1
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO content(business, media_ref, kind, tags, priority) VALUES(?,?,?,?,?)`,
		item.Business, item.MediaRef, string(item.Kind), joinTags(item.Tags), item.Priority,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetCandidates returns all items of a business, optionally restricted to
// items carrying tag. Ordered by id for deterministic iteration.
func (s *Store) GetCandidates(ctx context.Context, business, tag string) ([]ContentItem, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if tag != "" {
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, business, media_ref, kind, tags, priority, used_count, last_used
			 FROM content WHERE business = ? AND tags LIKE ? ORDER BY id`,
			business, "%"+tag+"%",
		)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, business, media_ref, kind, tags, priority, used_count, last_used
			 FROM content WHERE business = ? ORDER BY id`,
			business,
		)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ContentItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func (s *Store) GetItem(ctx context.Context, id int64) (ContentItem, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, business, media_ref, kind, tags, priority, used_count, last_used
		 FROM content WHERE id = ?`, id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ContentItem{}, ErrNotFound
	}
	return item, err
}

// RecentContent returns the newest items of a business, newest first.
func (s *Store) RecentContent(ctx context.Context, business string, limit int) ([]ContentItem, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, business, media_ref, kind, tags, priority, used_count, last_used
		 FROM content WHERE business = ? ORDER BY id DESC LIMIT ?`,
		business, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ContentItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// DeleteContent removes an item. Administrative path only; rotation never
// deletes.
func (s *Store) DeleteContent(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM content WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkUsed increments used_count and stamps last_used in one statement.
func (s *Store) MarkUsed(ctx context.Context, id int64, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE content SET used_count = used_count + 1, last_used = ? WHERE id = ?`,
		at.UTC().Format(timeFormat), id,
	)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendLog records one successful delivery.
func (s *Store) AppendLog(ctx context.Context, business string, contentID int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO publish_log(business, content_id, published_at) VALUES(?,?,?)`,
		business, contentID, at.UTC().Format(timeFormat),
	)
	return err
}

// CommitPublish applies the post-delivery bookkeeping as one transaction:
// exactly one used_count increment and exactly one log row, or neither.
func (s *Store) CommitPublish(ctx context.Context, business string, contentID int64, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	ts := at.UTC().Format(timeFormat)
	res, err := tx.ExecContext(ctx,
		`UPDATE content SET used_count = used_count + 1, last_used = ? WHERE id = ?`,
		ts, contentID,
	)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		_ = tx.Rollback()
		return ErrNotFound
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO publish_log(business, content_id, published_at) VALUES(?,?,?)`,
		business, contentID, ts,
	); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// LoggedContentIDs rebuilds the already-published set of a business from
// the publish log.
func (s *Store) LoggedContentIDs(ctx context.Context, business string) (map[int64]struct{}, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT content_id FROM publish_log WHERE business = ?`, business)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[int64]struct{}{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = struct{}{}
	}
	return out, rows.Err()
}

// ---- schedule ----

func (s *Store) LoadSchedule(ctx context.Context) ([]ScheduleEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT business, time_spec FROM schedule ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ScheduleEntry
	for rows.Next() {
		var e ScheduleEntry
		if err := rows.Scan(&e.Business, &e.TimeSpec); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// AddSchedule persists a trigger definition. Re-adding the same
// (business, time_spec) pair is a no-op at the storage level; the live
// registry replaces the trigger instance on re-registration.
func (s *Store) AddSchedule(ctx context.Context, business, timeSpec string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO schedule(business, time_spec) VALUES(?,?)
		 ON CONFLICT(business, time_spec) DO NOTHING`,
		business, timeSpec,
	)
	return err
}

// ---- helpers ----

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(r rowScanner) (ContentItem, error) {
	var (
		item ContentItem
		kind string
		tags string
		last sql.NullString
	)
	if err := r.Scan(&item.ID, &item.Business, &item.MediaRef, &kind, &tags,
		&item.Priority, &item.UsedCount, &last); err != nil {
		return ContentItem{}, err
	}
	item.Kind = Kind(kind)
	item.Tags = splitTags(tags)
	if last.Valid && last.String != "" {
		t, err := time.Parse(timeFormat, last.String)
		if err != nil {
			return ContentItem{}, fmt.Errorf("bad last_used for id %d: %w", item.ID, err)
		}
		item.LastUsed = &t
	}
	return item, nil
}

func joinTags(tags []string) string {
	var cleaned []string
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t != "" {
			cleaned = append(cleaned, t)
		}
	}
	return strings.Join(cleaned, ",")
}

func splitTags(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
