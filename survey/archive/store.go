// Package archive persists decoded survey answers to sqlite so an operator
// can inspect past rounds after the live session is gone.
package archive

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	jsoniter "github.com/json-iterator/go"
	"github.com/klauspost/compress/zstd"
	_ "github.com/mattn/go-sqlite3"

	"github.com/topomesh/surveyd/pkg/errors"
	"github.com/topomesh/surveyd/survey"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const createSurveyResultTable = `
CREATE TABLE IF NOT EXISTS survey_result (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  session_nonce TEXT NOT NULL,
  surveyor_id TEXT NOT NULL,
  surveyed_id TEXT NOT NULL,
  received_at_unix INTEGER NOT NULL,
  topology_zstd BLOB NOT NULL
);`

const createSurveyResultIndex = `
CREATE INDEX IF NOT EXISTS idx_survey_result_surveyed
  ON survey_result (surveyed_id, received_at_unix);`

// Store wraps the sqlite archive. Topology documents are stored as
// zstd-compressed JSON.
type Store struct {
	db  *sqlx.DB
	enc *zstd.Encoder
	dec *zstd.Decoder
}

var _ survey.Archiver = (*Store)(nil)

// NewStore opens (creating if needed) the archive database at dbPath.
func NewStore(dbPath string) (*Store, error) {
	db, err := sqlx.Connect("sqlite3", dbPath)
	if err != nil {
		return nil, errors.Errorf("cannot open survey archive database: %w", err)
	}
	for _, ddl := range []string{createSurveyResultTable, createSurveyResultIndex} {
		if _, err := db.Exec(ddl); err != nil {
			db.Close()
			return nil, errors.Errorf("cannot create survey archive schema: %w", err)
		}
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		db.Close()
		return nil, errors.Errorf("create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		db.Close()
		return nil, errors.Errorf("create zstd decoder: %w", err)
	}
	return &Store{db: db, enc: enc, dec: dec}, nil
}

// Close releases the database and codec resources.
func (s *Store) Close() error {
	s.enc.Close()
	s.dec.Close()
	return errors.Wrap(s.db.Close())
}

// SaveResult archives one decoded answer.
func (s *Store) SaveResult(ctx context.Context, rec survey.ArchiveRecord) error {
	if rec.Topology == nil {
		return errors.New("archive record has no topology")
	}
	doc, err := json.Marshal(rec.Topology.Doc())
	if err != nil {
		return errors.Errorf("marshal topology: %w", err)
	}
	blob := s.enc.EncodeAll(doc, nil)

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO survey_result
		  (session_nonce, surveyor_id, surveyed_id, received_at_unix, topology_zstd)
		VALUES (?, ?, ?, ?, ?)`,
		rec.SessionNonce, rec.SurveyorID, rec.SurveyedID, rec.ReceivedAt.Unix(), blob)
	if err != nil {
		return errors.Errorf("insert survey result: %w", err)
	}
	return nil
}

// StoredResult is one archived answer, decompressed and decoded.
type StoredResult struct {
	SessionNonce string
	SurveyorID   string
	SurveyedID   string
	ReceivedAt   time.Time
	Topology     survey.TopologyDoc
}

type storedRow struct {
	SessionNonce   string `db:"session_nonce"`
	SurveyorID     string `db:"surveyor_id"`
	SurveyedID     string `db:"surveyed_id"`
	ReceivedAtUnix int64  `db:"received_at_unix"`
	TopologyZstd   []byte `db:"topology_zstd"`
}

// RecentResults returns up to limit archived answers, newest first.
func (s *Store) RecentResults(ctx context.Context, limit int) ([]StoredResult, error) {
	var rows []storedRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT session_nonce, surveyor_id, surveyed_id, received_at_unix, topology_zstd
		FROM survey_result
		ORDER BY received_at_unix DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Errorf("query survey results: %w", err)
	}

	out := make([]StoredResult, 0, len(rows))
	for _, row := range rows {
		doc, err := s.dec.DecodeAll(row.TopologyZstd, nil)
		if err != nil {
			return nil, errors.Errorf("decompress topology: %w", err)
		}
		res := StoredResult{
			SessionNonce: row.SessionNonce,
			SurveyorID:   row.SurveyorID,
			SurveyedID:   row.SurveyedID,
			ReceivedAt:   time.Unix(row.ReceivedAtUnix, 0).UTC(),
		}
		if err := json.Unmarshal(doc, &res.Topology); err != nil {
			return nil, errors.Errorf("unmarshal topology: %w", err)
		}
		out = append(out, res)
	}
	return out, nil
}
