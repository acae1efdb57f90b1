package upload

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"

	"github.com/openhaul/haulbox/internal/db"
)

var ErrSessionNotFound = errors.New("upload: session not found")

// SessionStore is the durable source of truth for session records. The
// in-memory scheduler state is a cache that must always be reconcilable from
// it.
type SessionStore interface {
	Put(ctx context.Context, session *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	GetAll(ctx context.Context) ([]*Session, error)
	Delete(ctx context.Context, id string) error
	// RestoreAll loads every record at startup, reclassifying non-terminal
	// sessions whose file handle cannot be re-acquired to `error`.
	RestoreAll(ctx context.Context) ([]*Session, error)
	Close() error
}

const sessionSchema = `
CREATE TABLE IF NOT EXISTS upload_sessions (
    id TEXT PRIMARY KEY,
    file_name TEXT NOT NULL,
    rel_path TEXT NOT NULL,
    base_path TEXT NOT NULL,
    source_path TEXT NOT NULL DEFAULT '',
    total_size INTEGER NOT NULL,
    chunk_size INTEGER NOT NULL,
    total_chunks INTEGER NOT NULL,
    uploaded_chunks TEXT NOT NULL DEFAULT '[]',
    status TEXT NOT NULL,
    retry_count INTEGER NOT NULL DEFAULT 0,
    last_error TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL,
    last_activity TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sessions_status ON upload_sessions(status);
`

type sessionRow struct {
	ID             string `db:"id"`
	FileName       string `db:"file_name"`
	RelPath        string `db:"rel_path"`
	BasePath       string `db:"base_path"`
	SourcePath     string `db:"source_path"`
	TotalSize      int64  `db:"total_size"`
	ChunkSize      int64  `db:"chunk_size"`
	TotalChunks    int    `db:"total_chunks"`
	UploadedChunks string `db:"uploaded_chunks"`
	Status         string `db:"status"`
	RetryCount     int    `db:"retry_count"`
	LastError      string `db:"last_error"`
	CreatedAt      string `db:"created_at"`
	LastActivity   string `db:"last_activity"`
}

// SqliteSessionStore persists sessions in a local sqlite database. Each write
// replaces the whole record in a single statement, so a crash between chunk
// acks never leaves a torn row.
type SqliteSessionStore struct {
	db *sqlx.DB
}

// NewSessionStore opens (or creates) the session database at dbPath.
// Use ":memory:" for tests.
func NewSessionStore(dbPath string) (*SqliteSessionStore, error) {
	database, err := db.NewSqliteDB(db.WithPath(dbPath), db.WithMaxOpenConns(1))
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}

	if _, err := database.Exec(sessionSchema); err != nil {
		database.Close()
		return nil, fmt.Errorf("init session schema: %w", err)
	}

	return &SqliteSessionStore{db: database}, nil
}

func (s *SqliteSessionStore) Close() error {
	return s.db.Close()
}

// Put inserts or replaces the record for session.ID as one atomic write.
func (s *SqliteSessionStore) Put(ctx context.Context, session *Session) error {
	row, err := toRow(session)
	if err != nil {
		return err
	}

	_, err = s.db.NamedExecContext(ctx, `
		INSERT OR REPLACE INTO upload_sessions
		(id, file_name, rel_path, base_path, source_path, total_size, chunk_size, total_chunks, uploaded_chunks, status, retry_count, last_error, created_at, last_activity)
		VALUES (:id, :file_name, :rel_path, :base_path, :source_path, :total_size, :chunk_size, :total_chunks, :uploaded_chunks, :status, :retry_count, :last_error, :created_at, :last_activity)`,
		row,
	)
	if err != nil {
		return fmt.Errorf("put session %s: %w", session.ID, err)
	}
	return nil
}

func (s *SqliteSessionStore) Get(ctx context.Context, id string) (*Session, error) {
	var row sessionRow
	err := s.db.GetContext(ctx, &row, "SELECT * FROM upload_sessions WHERE id = ?", id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	return fromRow(&row)
}

func (s *SqliteSessionStore) GetAll(ctx context.Context) ([]*Session, error) {
	var rows []sessionRow
	if err := s.db.SelectContext(ctx, &rows, "SELECT * FROM upload_sessions ORDER BY created_at"); err != nil {
		return nil, fmt.Errorf("get all sessions: %w", err)
	}

	sessions := make([]*Session, 0, len(rows))
	for i := range rows {
		session, err := fromRow(&rows[i])
		if err != nil {
			slog.Error("session store skip corrupt row", "id", rows[i].ID, "error", err)
			continue
		}
		sessions = append(sessions, session)
	}
	return sessions, nil
}

func (s *SqliteSessionStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM upload_sessions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return nil
}

// RestoreAll loads every persisted session. Sessions found in a non-terminal
// state whose source file is gone (or changed size) cannot progress without
// the user re-selecting the file, so they are reclassified to `error` and the
// change is persisted. Terminal sessions are returned for display only.
func (s *SqliteSessionStore) RestoreAll(ctx context.Context) ([]*Session, error) {
	sessions, err := s.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	for _, session := range sessions {
		if session.Status.Terminal() || session.Status == StatusError {
			continue
		}

		if !sourceAvailable(session) {
			session.Status = StatusError
			session.LastError = "file handle unavailable after restart, re-select the file to retry"
			session.LastActivity = time.Now().UTC()
			if err := s.Put(ctx, session); err != nil {
				slog.Warn("session store reclassify", "id", session.ID, "error", err)
			}
			continue
		}

		// a handle exists, park the session until the user resumes it
		if session.Status == StatusUploading || session.Status == StatusQueued {
			session.Status = StatusPaused
			if err := s.Put(ctx, session); err != nil {
				slog.Warn("session store park", "id", session.ID, "error", err)
			}
		}
	}

	return sessions, nil
}

func sourceAvailable(session *Session) bool {
	if session.SourcePath == "" {
		return false
	}
	info, err := os.Stat(session.SourcePath)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Size() == session.TotalSize
}

func toRow(session *Session) (*sessionRow, error) {
	chunks := session.Uploaded
	if chunks == nil {
		chunks = mapset.NewSet[int]()
	}
	indices := chunks.ToSlice()
	sort.Ints(indices)
	encoded, err := json.Marshal(indices)
	if err != nil {
		return nil, fmt.Errorf("encode uploaded chunks: %w", err)
	}

	return &sessionRow{
		ID:             session.ID,
		FileName:       session.FileName,
		RelPath:        session.RelPath,
		BasePath:       session.BasePath,
		SourcePath:     session.SourcePath,
		TotalSize:      session.TotalSize,
		ChunkSize:      session.ChunkSize,
		TotalChunks:    session.TotalChunks,
		UploadedChunks: string(encoded),
		Status:         string(session.Status),
		RetryCount:     session.RetryCount,
		LastError:      session.LastError,
		CreatedAt:      session.CreatedAt.UTC().Format(time.RFC3339Nano),
		LastActivity:   session.LastActivity.UTC().Format(time.RFC3339Nano),
	}, nil
}

func fromRow(row *sessionRow) (*Session, error) {
	var indices []int
	if err := json.Unmarshal([]byte(row.UploadedChunks), &indices); err != nil {
		return nil, fmt.Errorf("decode uploaded chunks: %w", err)
	}

	createdAt, err := time.Parse(time.RFC3339Nano, row.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	lastActivity, err := time.Parse(time.RFC3339Nano, row.LastActivity)
	if err != nil {
		return nil, fmt.Errorf("parse last_activity: %w", err)
	}

	return &Session{
		ID:           row.ID,
		FileName:     row.FileName,
		RelPath:      row.RelPath,
		BasePath:     row.BasePath,
		SourcePath:   row.SourcePath,
		TotalSize:    row.TotalSize,
		ChunkSize:    row.ChunkSize,
		TotalChunks:  row.TotalChunks,
		Uploaded:     mapset.NewSet(indices...),
		Status:       Status(row.Status),
		RetryCount:   row.RetryCount,
		LastError:    row.LastError,
		CreatedAt:    createdAt,
		LastActivity: lastActivity,
	}, nil
}
