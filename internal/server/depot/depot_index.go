package depot

import (
	"fmt"
	"sort"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"
)

const indexSchema = `
CREATE TABLE IF NOT EXISTS depot_uploads (
	id TEXT PRIMARY KEY,
	file_name TEXT NOT NULL,
	rel_path TEXT NOT NULL,
	base_path TEXT NOT NULL DEFAULT '',
	total_size INTEGER NOT NULL,
	chunk_size INTEGER NOT NULL,
	total_chunks INTEGER NOT NULL,
	acked_chunks TEXT NOT NULL DEFAULT '[]',
	complete INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL
);
`

type uploadRow struct {
	ID          string `db:"id"`
	FileName    string `db:"file_name"`
	RelPath     string `db:"rel_path"`
	BasePath    string `db:"base_path"`
	TotalSize   int64  `db:"total_size"`
	ChunkSize   int64  `db:"chunk_size"`
	TotalChunks int    `db:"total_chunks"`
	AckedChunks string `db:"acked_chunks"`
	Complete    bool   `db:"complete"`
	CreatedAt   string `db:"created_at"`
}

// uploadIndex persists upload records in sqlite. Every write replaces the
// whole row, so concurrent chunk acks never leave a torn record.
type uploadIndex struct {
	db *sqlx.DB
}

func newUploadIndex(db *sqlx.DB) (*uploadIndex, error) {
	if _, err := db.Exec(indexSchema); err != nil {
		return nil, fmt.Errorf("init depot index: %w", err)
	}
	return &uploadIndex{db: db}, nil
}

func (i *uploadIndex) Set(upload *Upload) error {
	row, err := toUploadRow(upload)
	if err != nil {
		return err
	}
	_, err = i.db.NamedExec(`
		INSERT OR REPLACE INTO depot_uploads
		(id, file_name, rel_path, base_path, total_size, chunk_size, total_chunks, acked_chunks, complete, created_at)
		VALUES (:id, :file_name, :rel_path, :base_path, :total_size, :chunk_size, :total_chunks, :acked_chunks, :complete, :created_at)`,
		row,
	)
	if err != nil {
		return fmt.Errorf("index upload %s: %w", upload.ID, err)
	}
	return nil
}

func (i *uploadIndex) Remove(id string) error {
	if _, err := i.db.Exec("DELETE FROM depot_uploads WHERE id = ?", id); err != nil {
		return fmt.Errorf("remove upload %s: %w", id, err)
	}
	return nil
}

func (i *uploadIndex) All() ([]*Upload, error) {
	var rows []uploadRow
	if err := i.db.Select(&rows, "SELECT * FROM depot_uploads"); err != nil {
		return nil, fmt.Errorf("list uploads: %w", err)
	}

	uploads := make([]*Upload, 0, len(rows))
	for idx := range rows {
		upload, err := fromUploadRow(&rows[idx])
		if err != nil {
			return nil, err
		}
		uploads = append(uploads, upload)
	}
	return uploads, nil
}

func toUploadRow(upload *Upload) (*uploadRow, error) {
	indices := upload.Acked.ToSlice()
	sort.Ints(indices)
	encoded, err := json.Marshal(indices)
	if err != nil {
		return nil, fmt.Errorf("encode acked chunks: %w", err)
	}

	return &uploadRow{
		ID:          upload.ID,
		FileName:    upload.FileName,
		RelPath:     upload.RelPath,
		BasePath:    upload.BasePath,
		TotalSize:   upload.TotalSize,
		ChunkSize:   upload.ChunkSize,
		TotalChunks: upload.TotalChunks,
		AckedChunks: string(encoded),
		Complete:    upload.Complete,
		CreatedAt:   upload.CreatedAt.UTC().Format(time.RFC3339Nano),
	}, nil
}

func fromUploadRow(row *uploadRow) (*Upload, error) {
	var indices []int
	if err := json.Unmarshal([]byte(row.AckedChunks), &indices); err != nil {
		return nil, fmt.Errorf("decode acked chunks: %w", err)
	}

	createdAt, err := time.Parse(time.RFC3339Nano, row.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}

	return &Upload{
		ID:          row.ID,
		FileName:    row.FileName,
		RelPath:     row.RelPath,
		BasePath:    row.BasePath,
		TotalSize:   row.TotalSize,
		ChunkSize:   row.ChunkSize,
		TotalChunks: row.TotalChunks,
		Acked:       mapset.NewSet(indices...),
		Complete:    row.Complete,
		CreatedAt:   createdAt,
	}, nil
}
