package learning

import (
	"database/sql"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/nexora-run/taskorch/internal/domain"
)

// Index is a queryable secondary store for Learning observations, keyed by
// tag, so Query can narrow its candidate set with a SQL lookup instead of a
// full scan of C2's in-memory map once the learning log grows large.
// Grounded on the teacher's use of a SQL store beside an append-only
// source of truth (internal/jobs/cockroach.go), here with
// modernc.org/sqlite as the embedded engine rather than a network
// database, since the Learning Store has no server of its own to talk to.
type Index struct {
	db *sql.DB
}

// OpenIndex opens (creating if absent) the sqlite file at path and ensures
// the schema exists.
func OpenIndex(path string) (*Index, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, domain.Wrap(domain.KindStorageUnavailable, err, "open learning index")
	}
	schema := `
CREATE TABLE IF NOT EXISTS learnings (
	id TEXT PRIMARY KEY,
	confidence REAL NOT NULL,
	last_used_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS learning_tags (
	learning_id TEXT NOT NULL,
	tag TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_learning_tags_tag ON learning_tags(tag);
`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, domain.Wrap(domain.KindStorageUnavailable, err, "create learning index schema")
	}
	return &Index{db: db}, nil
}

// Close closes the underlying sqlite handle.
func (idx *Index) Close() error { return idx.db.Close() }

// Upsert records (or refreshes) one observation's tag index.
func (idx *Index) Upsert(l domain.Learning) error {
	tx, err := idx.db.Begin()
	if err != nil {
		return domain.Wrap(domain.KindStorageUnavailable, err, "begin learning index tx")
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT INTO learnings (id, confidence, last_used_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET confidence = excluded.confidence, last_used_at = excluded.last_used_at`,
		l.ID, l.Confidence, l.LastUsedAt.Unix(),
	); err != nil {
		return domain.Wrap(domain.KindStorageUnavailable, err, "upsert learning row")
	}
	if _, err := tx.Exec(`DELETE FROM learning_tags WHERE learning_id = ?`, l.ID); err != nil {
		return domain.Wrap(domain.KindStorageUnavailable, err, "clear learning tags")
	}
	for _, tag := range l.Tags {
		if _, err := tx.Exec(`INSERT INTO learning_tags (learning_id, tag) VALUES (?, ?)`, l.ID, strings.ToLower(tag)); err != nil {
			return domain.Wrap(domain.KindStorageUnavailable, err, "insert learning tag")
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Wrap(domain.KindStorageUnavailable, err, "commit learning index tx")
	}
	return nil
}

// CandidateIDs returns the ids of learnings tagged with any of tags, whose
// recorded confidence is at least minConfidence, most-recently-used first.
// This is a coarse, index-only pre-filter: the caller still applies the
// exact decayed-confidence check (the index stores confidence as of last
// write, not continuously decayed) before ranking.
func (idx *Index) CandidateIDs(tags []string, minConfidence float64, limit int) ([]string, error) {
	if len(tags) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(tags)), ",")
	args := make([]any, 0, len(tags)+2)
	for _, t := range tags {
		args = append(args, strings.ToLower(t))
	}
	args = append(args, minConfidence, limit)

	query := `
SELECT DISTINCT l.id FROM learnings l
JOIN learning_tags t ON t.learning_id = l.id
WHERE t.tag IN (` + placeholders + `) AND l.confidence >= ?
ORDER BY l.last_used_at DESC
LIMIT ?`
	rows, err := idx.db.Query(query, args...)
	if err != nil {
		return nil, domain.Wrap(domain.KindStorageUnavailable, err, "query learning index")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, domain.Wrap(domain.KindStorageUnavailable, err, "scan learning index row")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
