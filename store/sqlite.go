package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/xeptore/flaw/v8"

	"github.com/xeptore/tgjam/errutil"
	"github.com/xeptore/tgjam/track"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS tracks (
	id             TEXT PRIMARY KEY,
	document_id    INTEGER NOT NULL UNIQUE,
	access_hash    INTEGER NOT NULL,
	file_reference BLOB,
	title          TEXT NOT NULL,
	owner_id       INTEGER NOT NULL,
	kind           TEXT NOT NULL,
	type_set       INTEGER NOT NULL,
	voters         TEXT NOT NULL,
	like_count     INTEGER NOT NULL,
	views          TEXT NOT NULL,
	created_at     TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tracks_owner ON tracks (owner_id);
CREATE INDEX IF NOT EXISTS idx_tracks_kind ON tracks (kind);
CREATE INDEX IF NOT EXISTS idx_tracks_top ON tracks (like_count DESC, created_at DESC);
`

// SQLite is the document-database backend. Voter and view sets are stored as
// JSON documents; like_count is maintained on every write so the top
// projections stay ORDER BY-able.
type SQLite struct {
	db     *sqlx.DB
	logger zerolog.Logger
}

func OpenSQLite(path string, logger zerolog.Logger) (*SQLite, error) {
	db, err := sqlx.Connect("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if nil != err {
		flawP := flaw.P{"path": path, "err_debug_tree": errutil.Tree(err).FlawP()}
		return nil, flaw.From(fmt.Errorf("failed to open sqlite database: %v", err)).Append(flawP)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); nil != err {
		flawP := flaw.P{"err_debug_tree": errutil.Tree(err).FlawP()}
		return nil, flaw.From(fmt.Errorf("failed to apply sqlite schema: %v", err)).Append(flawP)
	}

	return &SQLite{
		db:     db,
		logger: logger.With().Str("module", "store").Str("backend", "sqlite").Logger(),
	}, nil
}

type sqliteRow struct {
	ID            string    `db:"id"`
	DocumentID    int64     `db:"document_id"`
	AccessHash    int64     `db:"access_hash"`
	FileReference []byte    `db:"file_reference"`
	Title         string    `db:"title"`
	OwnerID       int64     `db:"owner_id"`
	Kind          string    `db:"kind"`
	TypeSet       bool      `db:"type_set"`
	Voters        string    `db:"voters"`
	LikeCount     int       `db:"like_count"`
	Views         string    `db:"views"`
	CreatedAt     time.Time `db:"created_at"`
}

func toRow(t *track.Track) (*sqliteRow, error) {
	voters, err := json.Marshal(t.Voters)
	if nil != err {
		flawP := flaw.P{"track": t.FlawP(), "err_debug_tree": errutil.Tree(err).FlawP()}
		return nil, flaw.From(fmt.Errorf("failed to marshal voters document: %v", err)).Append(flawP)
	}
	views, err := json.Marshal(t.Views)
	if nil != err {
		flawP := flaw.P{"track": t.FlawP(), "err_debug_tree": errutil.Tree(err).FlawP()}
		return nil, flaw.From(fmt.Errorf("failed to marshal views document: %v", err)).Append(flawP)
	}
	return &sqliteRow{
		ID:            t.ID,
		DocumentID:    t.Source.DocumentID,
		AccessHash:    t.Source.AccessHash,
		FileReference: t.Source.FileReference,
		Title:         t.Title,
		OwnerID:       t.OwnerID,
		Kind:          string(t.Kind),
		TypeSet:       t.TypeSet,
		Voters:        string(voters),
		LikeCount:     t.Likes(),
		Views:         string(views),
		CreatedAt:     t.CreatedAt.UTC(),
	}, nil
}

func (r *sqliteRow) toTrack() (*track.Track, error) {
	t := &track.Track{
		ID: r.ID,
		Source: track.Source{
			DocumentID:    r.DocumentID,
			AccessHash:    r.AccessHash,
			FileReference: r.FileReference,
		},
		Title:     r.Title,
		OwnerID:   r.OwnerID,
		Kind:      track.Kind(r.Kind),
		TypeSet:   r.TypeSet,
		Voters:    nil,
		CreatedAt: r.CreatedAt,
		Views:     nil,
	}
	if err := json.Unmarshal([]byte(r.Voters), &t.Voters); nil != err {
		flawP := flaw.P{"id": r.ID, "raw": r.Voters, "err_debug_tree": errutil.Tree(err).FlawP()}
		return nil, flaw.From(fmt.Errorf("failed to unmarshal voters document: %v", err)).Append(flawP)
	}
	if err := json.Unmarshal([]byte(r.Views), &t.Views); nil != err {
		flawP := flaw.P{"id": r.ID, "raw": r.Views, "err_debug_tree": errutil.Tree(err).FlawP()}
		return nil, flaw.From(fmt.Errorf("failed to unmarshal views document: %v", err)).Append(flawP)
	}
	return t, nil
}

func (s *SQLite) Create(ctx context.Context, t *track.Track) error {
	row, err := toRow(t)
	if nil != err {
		return err
	}

	const q = `INSERT INTO tracks
		(id, document_id, access_hash, file_reference, title, owner_id, kind, type_set, voters, like_count, views, created_at)
		VALUES
		(:id, :document_id, :access_hash, :file_reference, :title, :owner_id, :kind, :type_set, :voters, :like_count, :views, :created_at)`
	if _, err := s.db.NamedExecContext(ctx, q, row); nil != err {
		// Only the document_id UNIQUE means "same track". An id primary-key
		// collision is a bug, not a duplicate upload.
		if sqliteErr := new(sqlite3.Error); errors.As(err, sqliteErr) &&
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique &&
			strings.Contains(sqliteErr.Error(), "tracks.document_id") {
			return ErrDuplicateTrack
		}
		flawP := flaw.P{"track": t.FlawP(), "err_debug_tree": errutil.Tree(err).FlawP()}
		return flaw.From(fmt.Errorf("failed to insert track: %v", err)).Append(flawP)
	}
	return nil
}

func (s *SQLite) FindByID(ctx context.Context, id string) (*track.Track, error) {
	var row sqliteRow
	if err := s.db.GetContext(ctx, &row, `SELECT * FROM tracks WHERE id = ?`, id); nil != err {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		flawP := flaw.P{"id": id, "err_debug_tree": errutil.Tree(err).FlawP()}
		return nil, flaw.From(fmt.Errorf("failed to select track: %v", err)).Append(flawP)
	}
	return row.toTrack()
}

func (s *SQLite) Update(ctx context.Context, t *track.Track) error {
	row, err := toRow(t)
	if nil != err {
		return err
	}

	const q = `UPDATE tracks SET
		access_hash = :access_hash, file_reference = :file_reference, title = :title,
		kind = :kind, type_set = :type_set, voters = :voters, like_count = :like_count, views = :views
		WHERE id = :id`
	res, err := s.db.NamedExecContext(ctx, q, row)
	if nil != err {
		flawP := flaw.P{"track": t.FlawP(), "err_debug_tree": errutil.Tree(err).FlawP()}
		return flaw.From(fmt.Errorf("failed to update track: %v", err)).Append(flawP)
	}
	if n, err := res.RowsAffected(); nil == err && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM tracks WHERE id = ?`, id); nil != err {
		flawP := flaw.P{"id": id, "err_debug_tree": errutil.Tree(err).FlawP()}
		return flaw.From(fmt.Errorf("failed to delete track: %v", err)).Append(flawP)
	}
	return nil
}

func viewClauses(v View) (where string, args []any) {
	switch v.Key {
	case ViewMine:
		return ` WHERE owner_id = ?`, []any{v.OwnerID}
	case ViewOriginals:
		return ` WHERE kind = ?`, []any{string(track.KindOriginal)}
	case ViewCovers:
		return ` WHERE kind = ?`, []any{string(track.KindCover)}
	case ViewTopWeek:
		return ` WHERE created_at >= ?`, []any{time.Now().UTC().Add(-weekWindow)}
	default:
		return "", nil
	}
}

func viewOrder(v View) string {
	switch v.Key {
	case ViewTopAllTime, ViewTopWeek:
		return ` ORDER BY like_count DESC, created_at DESC, id`
	default:
		return ` ORDER BY created_at DESC, id`
	}
}

func (s *SQLite) Query(ctx context.Context, v View) ([]*track.Track, error) {
	where, args := viewClauses(v)
	q := `SELECT * FROM tracks` + where + viewOrder(v)

	var rows []sqliteRow
	if err := s.db.SelectContext(ctx, &rows, q, args...); nil != err {
		flawP := flaw.P{"view": string(v.Key), "err_debug_tree": errutil.Tree(err).FlawP()}
		return nil, flaw.From(fmt.Errorf("failed to query tracks: %v", err)).Append(flawP)
	}

	out := make([]*track.Track, len(rows))
	for i := range rows {
		t, err := rows[i].toTrack()
		if nil != err {
			return nil, err
		}
		out[i] = t
	}
	return out, nil
}

func (s *SQLite) Count(ctx context.Context, v View) (int, error) {
	where, args := viewClauses(v)
	q := `SELECT COUNT(*) FROM tracks` + where

	var n int
	if err := s.db.GetContext(ctx, &n, q, args...); nil != err {
		flawP := flaw.P{"view": string(v.Key), "err_debug_tree": errutil.Tree(err).FlawP()}
		return 0, flaw.From(fmt.Errorf("failed to count tracks: %v", err)).Append(flawP)
	}
	return n, nil
}

func (s *SQLite) Close() error {
	if err := s.db.Close(); nil != err {
		flawP := flaw.P{"err_debug_tree": errutil.Tree(err).FlawP()}
		return flaw.From(fmt.Errorf("failed to close sqlite database: %v", err)).Append(flawP)
	}
	return nil
}
