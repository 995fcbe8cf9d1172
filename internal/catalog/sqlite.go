package catalog

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/mattn/go-sqlite3"

	"github.com/ivlev/beat2video/internal/logging"
	"github.com/ivlev/beat2video/internal/montage"
)

const tagSeparator = "\x1f"

// SQLite is a catalog stored in a SQLite database. Tags and signals are
// filtered in SQL; embedding similarity comes from a VectorIndex kept in
// step with the clip_embeddings table.
type SQLite struct {
	db     *sql.DB
	index  *VectorIndex
	logger logging.Logger
}

// OpenSQLite opens (and migrates) the catalog at path. A nil index is
// replaced by an in-memory one rebuilt from the database.
func OpenSQLite(ctx context.Context, path string, index *VectorIndex, logger logging.Logger) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=1&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite db: %w", err)
	}
	if index == nil {
		if index, err = NewVectorIndex(""); err != nil {
			db.Close()
			return nil, err
		}
	}

	s := &SQLite{db: db, index: index, logger: logging.OrNop(logger)}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	if err := s.syncIndex(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) migrate(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS clips (
		id TEXT PRIMARY KEY,
		filepath TEXT NOT NULL,
		duration REAL NOT NULL,
		motion_score REAL NOT NULL DEFAULT 0,
		silence_ratio REAL NOT NULL DEFAULT 0,
		source TEXT,
		year INTEGER,
		metadata TEXT
	);
	CREATE TABLE IF NOT EXISTS clip_tags (
		clip_id TEXT NOT NULL REFERENCES clips(id) ON DELETE CASCADE,
		tag TEXT NOT NULL,
		PRIMARY KEY (clip_id, tag)
	);
	CREATE INDEX IF NOT EXISTS idx_clip_tags_tag ON clip_tags(tag);
	CREATE TABLE IF NOT EXISTS clip_embeddings (
		clip_id TEXT PRIMARY KEY REFERENCES clips(id) ON DELETE CASCADE,
		dims INTEGER NOT NULL,
		vector BLOB NOT NULL
	);`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// syncIndex reloads the vector index when it does not hold exactly the
// stored embeddings.
func (s *SQLite) syncIndex(ctx context.Context) error {
	var count, dims int
	row := s.db.QueryRowContext(ctx, "SELECT COUNT(*), IFNULL(MAX(dims), 0) FROM clip_embeddings")
	if err := row.Scan(&count, &dims); err != nil {
		return fmt.Errorf("failed to count embeddings: %w", err)
	}
	if count == s.index.Count() {
		s.index.restoreDims(dims)
		return nil
	}

	s.logger.Info("rebuilding vector index from %d stored embeddings", count)
	rows, err := s.db.QueryContext(ctx, "SELECT clip_id, vector FROM clip_embeddings ORDER BY clip_id")
	if err != nil {
		return fmt.Errorf("failed to load embeddings: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return fmt.Errorf("failed to scan embedding: %w", err)
		}
		if err := s.index.Add(ctx, id, decodeVector(blob)); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Upsert inserts or replaces clips together with their tags and embeddings.
func (s *SQLite) Upsert(ctx context.Context, clips ...montage.Clip) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin upsert: %w", err)
	}
	defer tx.Rollback()

	for _, c := range clips {
		if c.ID == "" {
			return fmt.Errorf("clip %q: empty id", c.Filepath)
		}
		if dims := s.index.Dims(); nonZero(c.Embedding) && dims > 0 && len(c.Embedding) != dims {
			return fmt.Errorf("clip %s: embedding has %d dimensions, catalog uses %d", c.ID, len(c.Embedding), dims)
		}
		var meta sql.NullString
		if len(c.Metadata) > 0 {
			data, err := json.Marshal(c.Metadata)
			if err != nil {
				return fmt.Errorf("clip %s: encode metadata: %w", c.ID, err)
			}
			meta = sql.NullString{String: string(data), Valid: true}
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO clips (id, filepath, duration, motion_score, silence_ratio, source, year, metadata)
			VALUES (?, ?, ?, ?, ?, NULLIF(?, ''), NULLIF(?, 0), ?)
			ON CONFLICT(id) DO UPDATE SET
				filepath = excluded.filepath,
				duration = excluded.duration,
				motion_score = excluded.motion_score,
				silence_ratio = excluded.silence_ratio,
				source = excluded.source,
				year = excluded.year,
				metadata = excluded.metadata`,
			c.ID, c.Filepath, c.Duration, c.MotionScore, c.SilenceRatio, c.Source, c.Year, meta)
		if err != nil {
			return fmt.Errorf("failed to upsert clip %s: %w", c.ID, err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM clip_tags WHERE clip_id = ?", c.ID); err != nil {
			return fmt.Errorf("failed to clear tags of %s: %w", c.ID, err)
		}
		for _, tag := range c.Tags {
			if _, err := tx.ExecContext(ctx, "INSERT OR IGNORE INTO clip_tags (clip_id, tag) VALUES (?, ?)", c.ID, tag); err != nil {
				return fmt.Errorf("failed to tag %s: %w", c.ID, err)
			}
		}
		if nonZero(c.Embedding) {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO clip_embeddings (clip_id, dims, vector) VALUES (?, ?, ?)
				ON CONFLICT(clip_id) DO UPDATE SET dims = excluded.dims, vector = excluded.vector`,
				c.ID, len(c.Embedding), encodeVector(c.Embedding))
		} else {
			_, err = tx.ExecContext(ctx, "DELETE FROM clip_embeddings WHERE clip_id = ?", c.ID)
		}
		if err != nil {
			return fmt.Errorf("failed to store embedding of %s: %w", c.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit upsert: %w", err)
	}

	for _, c := range clips {
		var err error
		if nonZero(c.Embedding) {
			err = s.index.Add(ctx, c.ID, c.Embedding)
		} else {
			err = s.index.Remove(ctx, c.ID)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Count returns the number of stored clips.
func (s *SQLite) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM clips").Scan(&n); err != nil {
		return 0, wrapSQLiteErr("count clips", err)
	}
	return n, nil
}

func (s *SQLite) Search(ctx context.Context, q montage.AestheticQuery, limit int, excluded []string) ([]montage.Candidate, error) {
	if limit <= 0 {
		return nil, nil
	}

	var (
		where []string
		args  []any
	)
	if tags := uniqueTags(q.Tags); len(tags) > 0 {
		where = append(where, fmt.Sprintf(
			"(SELECT COUNT(*) FROM clip_tags t WHERE t.clip_id = c.id AND t.tag IN (%s)) = ?", placeholders(len(tags))))
		for _, tag := range tags {
			args = append(args, tag)
		}
		args = append(args, len(tags))
	}
	if q.Motion != nil {
		where = append(where, "c.motion_score BETWEEN ? AND ?")
		args = append(args, q.Motion.Min-montage.Epsilon, q.Motion.Max+montage.Epsilon)
	}
	if q.Silence != nil {
		where = append(where, "c.silence_ratio BETWEEN ? AND ?")
		args = append(args, q.Silence.Min-montage.Epsilon, q.Silence.Max+montage.Epsilon)
	}
	if q.MinDuration > 0 {
		where = append(where, "c.duration >= ?")
		args = append(args, q.MinDuration-montage.Epsilon)
	}
	skip := excludeSet(q, excluded)
	if len(skip) > 0 {
		ids := make([]string, 0, len(skip))
		for id := range skip {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		where = append(where, fmt.Sprintf("c.id NOT IN (%s)", placeholders(len(ids))))
		for _, id := range ids {
			args = append(args, id)
		}
	}

	query := `
		SELECT c.id, c.filepath, c.duration, c.motion_score, c.silence_ratio,
			IFNULL(c.source, ''), IFNULL(c.year, 0), IFNULL(c.metadata, ''),
			IFNULL((SELECT group_concat(tag, char(31)) FROM clip_tags t WHERE t.clip_id = c.id), ''),
			e.vector
		FROM clips c
		LEFT JOIN clip_embeddings e ON e.clip_id = c.id`
	if len(where) > 0 {
		query += "\n\t\tWHERE " + strings.Join(where, " AND ")
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapSQLiteErr("search clips", err)
	}
	defer rows.Close()

	var matched []montage.Clip
	for rows.Next() {
		var (
			c          montage.Clip
			meta, tags string
			blob       []byte
		)
		if err := rows.Scan(&c.ID, &c.Filepath, &c.Duration, &c.MotionScore, &c.SilenceRatio,
			&c.Source, &c.Year, &meta, &tags, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan clip: %w", err)
		}
		if tags != "" {
			c.Tags = strings.Split(tags, tagSeparator)
			sort.Strings(c.Tags)
		}
		if meta != "" {
			if err := json.Unmarshal([]byte(meta), &c.Metadata); err != nil {
				return nil, fmt.Errorf("clip %s: decode metadata: %w", c.ID, err)
			}
		}
		if len(blob) > 0 {
			c.Embedding = decodeVector(blob)
		}
		matched = append(matched, c)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapSQLiteErr("iterate clips", err)
	}

	var sims map[string]float64
	if len(q.EmbeddingHint) > 0 && len(matched) > 0 {
		if sims, err = s.index.Similarities(ctx, q.EmbeddingHint); err != nil {
			return nil, err
		}
	}

	out := make([]montage.Candidate, 0, len(matched))
	for _, c := range matched {
		sim, ok := sims[c.ID]
		if len(q.EmbeddingHint) > 0 && q.MinSimilarity > 0 && (!ok || sim < q.MinSimilarity) {
			continue
		}
		out = append(out, montage.Candidate{Clip: c, Score: q.ScoreWithSimilarity(c, sim)})
	}
	return rank(out, limit), nil
}

// wrapSQLiteErr marks lock contention as transient so the retrying
// catalog tries again.
func wrapSQLiteErr(op string, err error) error {
	var se sqlite3.Error
	if errors.As(err, &se) && (se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked) {
		return &montage.TransientError{Op: op, Err: err}
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

func uniqueTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(x))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v
}
