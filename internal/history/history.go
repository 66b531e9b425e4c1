package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Status is the outcome of handing one segment to the analysis service
type Status string

const (
	StatusOK               Status = "ok"
	StatusEncodingFailure  Status = "encoding_failure"
	StatusTransportFailure Status = "transport_failure"
	StatusParseFailure     Status = "parse_failure"
	StatusSkipped          Status = "skipped"
)

// ErrNotFound is returned when no record exists for a segment
var ErrNotFound = errors.New("history record not found")

type (
	Record struct {
		ID            int64
		SegmentID     string
		Path          string
		Blake3Hash    string
		StartedAt     time.Time
		FinalizedAt   time.Time
		Status        Status
		Attempts      int
		MaleSeconds   float64
		FemaleSeconds float64
		Error         string
		CreatedAt     time.Time
	}

	SQLiteRepo struct {
		db *sql.DB
	}
)

const schema = `
	PRAGMA busy_timeout       = 10000;
	PRAGMA journal_mode       = WAL;
	PRAGMA journal_size_limit = 200000000;
	PRAGMA synchronous        = NORMAL;
	PRAGMA temp_store         = MEMORY;

	create table if not exists uploads (
		id INTEGER PRIMARY KEY AUTOINCREMENT NOT NULL,
		segment_id text not null,
		path text not null,
		blake3_hash text not null default '',
		started_at text not null,
		finalized_at text not null,
		status text not null,
		attempts integer not null default 0,
		male_seconds real not null default 0,
		female_seconds real not null default 0,
		error text not null default '',
		created_at text not null
	);

	create index if not exists uploads_segment_id on uploads (segment_id);`

// Open opens (creating if needed) the history database at path
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("opening history db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating history schema: %w", err)
	}
	return db, nil
}

func NewSQLiteRepo(db *sql.DB) SQLiteRepo {
	return SQLiteRepo{db}
}

func (r SQLiteRepo) Insert(ctx context.Context, rec Record) (Record, error) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	err := r.db.
		QueryRowContext(
			ctx,
			`insert into uploads (
				segment_id, path, blake3_hash, started_at, finalized_at,
				status, attempts, male_seconds, female_seconds, error, created_at
			) values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11) returning id`,
			rec.SegmentID,
			rec.Path,
			rec.Blake3Hash,
			formatTime(rec.StartedAt),
			formatTime(rec.FinalizedAt),
			string(rec.Status),
			rec.Attempts,
			rec.MaleSeconds,
			rec.FemaleSeconds,
			rec.Error,
			formatTime(rec.CreatedAt),
		).
		Scan(&rec.ID)
	if err != nil {
		return rec, fmt.Errorf("persisting upload record into sqlite: %w", err)
	}

	return rec, nil
}

// Recent returns up to limit records, newest first
func (r SQLiteRepo) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, selectRecord+" order by id desc limit $1", limit)
	if err != nil {
		return nil, fmt.Errorf("query recent uploads: %w", err)
	}
	defer rows.Close()

	var res []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query recent uploads: %w", err)
	}
	return res, nil
}

// BySegment returns the latest record for a segment id
func (r SQLiteRepo) BySegment(ctx context.Context, segmentID string) (Record, error) {
	row := r.db.QueryRowContext(ctx, selectRecord+" where segment_id = $1 order by id desc limit 1", segmentID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, fmt.Errorf("get upload %s: %w", segmentID, ErrNotFound)
	}
	return rec, err
}

// Totals sums the seconds applied by successful uploads
func (r SQLiteRepo) Totals(ctx context.Context) (male, female float64, err error) {
	err = r.db.
		QueryRowContext(
			ctx,
			"select coalesce(sum(male_seconds), 0), coalesce(sum(female_seconds), 0) from uploads where status = $1",
			string(StatusOK),
		).
		Scan(&male, &female)
	if err != nil {
		return 0, 0, fmt.Errorf("sum upload totals: %w", err)
	}
	return male, female, nil
}

const selectRecord = `select id, segment_id, path, blake3_hash, started_at, finalized_at,
	status, attempts, male_seconds, female_seconds, error, created_at from uploads`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (Record, error) {
	var (
		rec                           Record
		status                        string
		started, finalized, createdAt string
	)
	err := s.Scan(
		&rec.ID, &rec.SegmentID, &rec.Path, &rec.Blake3Hash, &started, &finalized,
		&status, &rec.Attempts, &rec.MaleSeconds, &rec.FemaleSeconds, &rec.Error, &createdAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rec, err
		}
		return rec, fmt.Errorf("scanning upload record: %w", err)
	}
	rec.Status = Status(status)
	rec.StartedAt = parseTime(started)
	rec.FinalizedAt = parseTime(finalized)
	rec.CreatedAt = parseTime(createdAt)
	return rec, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
