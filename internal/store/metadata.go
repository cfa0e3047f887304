package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// SQLiteMetadataStore implements MetadataStore on top of a single SQLite
// database file. It mirrors SQLiteBM25Index's connection setup (WAL mode,
// single writer, busy_timeout) so the metadata DB and the FTS shadow index
// behave the same way under concurrent MCP tool dispatch.
type SQLiteMetadataStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool

	stmtMu sync.Mutex
	stmts  map[string]*sql.Stmt
}

var _ MetadataStore = (*SQLiteMetadataStore)(nil)

// NewSQLiteMetadataStore opens (creating if necessary) the metadata database
// at path. An empty path opens an in-memory database, used by tests.
func NewSQLiteMetadataStore(path string) (*SQLiteMetadataStore, error) {
	var dsn string
	if path == "" {
		dsn = ":memory:"
	} else {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
		dsn = path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer connection; modernc.org/sqlite serializes internally and
	// a shared pool just produces SQLITE_BUSY under WAL writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA cache_size = -65536",
		"PRAGMA temp_store = MEMORY",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", p, err)
		}
	}

	s := &SQLiteMetadataStore{
		db:    db,
		path:  path,
		stmts: make(map[string]*sql.Stmt),
	}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteMetadataStore) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS config_state (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS memory_index (
		id                 INTEGER PRIMARY KEY AUTOINCREMENT,
		spec_folder        TEXT NOT NULL,
		file_path          TEXT NOT NULL UNIQUE,
		title              TEXT NOT NULL,
		content_hash       TEXT NOT NULL,
		content            TEXT NOT NULL,
		trigger_phrases    TEXT NOT NULL DEFAULT '[]',
		context_type       TEXT NOT NULL DEFAULT 'general',
		importance_tier    TEXT NOT NULL DEFAULT 'normal',
		importance_weight  REAL NOT NULL DEFAULT 0.5,
		embedding_status   TEXT NOT NULL DEFAULT 'pending',
		file_mtime_ns      INTEGER NOT NULL DEFAULT 0,
		stability          REAL NOT NULL DEFAULT 1.0,
		difficulty         REAL NOT NULL DEFAULT 5.0,
		last_review        DATETIME,
		review_count       INTEGER NOT NULL DEFAULT 0,
		access_count       INTEGER NOT NULL DEFAULT 0,
		last_accessed      DATETIME,
		confidence         REAL NOT NULL DEFAULT 1.0,
		validation_count   INTEGER NOT NULL DEFAULT 0,
		related_memories   TEXT NOT NULL DEFAULT '[]',
		created_at         DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at         DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_memory_spec_folder ON memory_index(spec_folder);
	CREATE INDEX IF NOT EXISTS idx_memory_tier ON memory_index(importance_tier);
	CREATE INDEX IF NOT EXISTS idx_memory_context ON memory_index(context_type);

	CREATE TABLE IF NOT EXISTS causal_edges (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		source_id   INTEGER NOT NULL REFERENCES memory_index(id) ON DELETE CASCADE,
		target_id   INTEGER NOT NULL REFERENCES memory_index(id) ON DELETE CASCADE,
		relation    TEXT NOT NULL,
		strength    REAL NOT NULL DEFAULT 1.0,
		evidence    TEXT NOT NULL DEFAULT '',
		created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(source_id, target_id, relation)
	);
	CREATE INDEX IF NOT EXISTS idx_edges_source ON causal_edges(source_id);
	CREATE INDEX IF NOT EXISTS idx_edges_target ON causal_edges(target_id);

	CREATE TABLE IF NOT EXISTS working_memory (
		session_id          TEXT NOT NULL,
		memory_id           INTEGER NOT NULL REFERENCES memory_index(id) ON DELETE CASCADE,
		attention_score     REAL NOT NULL DEFAULT 0,
		last_turn_activated INTEGER NOT NULL DEFAULT 0,
		last_decay_turn     INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (session_id, memory_id)
	);
	CREATE INDEX IF NOT EXISTS idx_working_memory_session ON working_memory(session_id);

	CREATE TABLE IF NOT EXISTS session_learning (
		id                  INTEGER PRIMARY KEY AUTOINCREMENT,
		spec_folder         TEXT NOT NULL,
		task_id             TEXT NOT NULL,
		phase               TEXT NOT NULL,
		session_id          TEXT NOT NULL,
		pre_knowledge       INTEGER NOT NULL DEFAULT 0,
		pre_uncertainty     INTEGER NOT NULL DEFAULT 0,
		pre_context         INTEGER NOT NULL DEFAULT 0,
		knowledge_gaps      TEXT NOT NULL DEFAULT '[]',
		post_knowledge      INTEGER NOT NULL DEFAULT 0,
		post_uncertainty    INTEGER NOT NULL DEFAULT 0,
		post_context        INTEGER NOT NULL DEFAULT 0,
		delta_knowledge     REAL NOT NULL DEFAULT 0,
		delta_uncertainty   REAL NOT NULL DEFAULT 0,
		delta_context       REAL NOT NULL DEFAULT 0,
		learning_index      REAL NOT NULL DEFAULT 0,
		gaps_closed         TEXT NOT NULL DEFAULT '[]',
		new_gaps_discovered TEXT NOT NULL DEFAULT '[]',
		created_at          DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		completed_at        DATETIME,
		UNIQUE(spec_folder, task_id)
	);
	CREATE INDEX IF NOT EXISTS idx_learning_session ON session_learning(session_id);

	CREATE TABLE IF NOT EXISTS checkpoints (
		name        TEXT PRIMARY KEY,
		spec_folder TEXT NOT NULL,
		metadata    TEXT NOT NULL DEFAULT '{}',
		payload     BLOB NOT NULL,
		created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_checkpoints_folder ON checkpoints(spec_folder);

	CREATE TABLE IF NOT EXISTS memory_conflict_log (
		id                     INTEGER PRIMARY KEY AUTOINCREMENT,
		new_memory_hash        TEXT NOT NULL,
		existing_memory_id     INTEGER,
		similarity_score       REAL NOT NULL,
		action                 TEXT NOT NULL,
		contradiction_detected INTEGER NOT NULL DEFAULT 0,
		notes                  TEXT NOT NULL DEFAULT '',
		spec_folder            TEXT NOT NULL,
		created_at             DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_conflict_folder ON memory_conflict_log(spec_folder);

	INSERT OR IGNORE INTO config_state(key, value) VALUES ('schema_version', '1');
	`
	_, err := s.db.Exec(schema)
	return err
}

func marshalJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func unmarshalStrings(raw string) []string {
	var out []string
	if raw == "" {
		return out
	}
	_ = json.Unmarshal([]byte(raw), &out)
	return out
}

func unmarshalInt64s(raw string) []int64 {
	var out []int64
	if raw == "" {
		return out
	}
	_ = json.Unmarshal([]byte(raw), &out)
	return out
}

// IndexMemory inserts a new memory row and returns its assigned ID.
func (s *SQLiteMetadataStore) IndexMemory(ctx context.Context, m *Memory) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, fmt.Errorf("metadata store is closed")
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO memory_index (
			spec_folder, file_path, title, content_hash, content, trigger_phrases,
			context_type, importance_tier, importance_weight, embedding_status,
			file_mtime_ns, stability, difficulty, related_memories
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.SpecFolder, m.FilePath, m.Title, m.ContentHash, m.Content,
		marshalJSON(m.TriggerPhrases), string(m.ContextType), string(m.ImportanceTier),
		m.ImportanceWeight, string(m.EmbeddingStatus), m.FileMtimeNs,
		m.Stability, m.Difficulty, marshalJSON(m.RelatedMemories))
	if err != nil {
		return 0, fmt.Errorf("failed to insert memory %s: %w", m.FilePath, err)
	}
	return res.LastInsertId()
}

// UpdateMemory applies a partial update to an existing memory row.
func (s *SQLiteMetadataStore) UpdateMemory(ctx context.Context, id int64, p MemoryPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("metadata store is closed")
	}

	sets := []string{"updated_at = CURRENT_TIMESTAMP"}
	args := []any{}

	add := func(col string, val any) {
		sets = append(sets, col+" = ?")
		args = append(args, val)
	}
	if p.Title != nil {
		add("title", *p.Title)
	}
	if p.Content != nil {
		add("content", *p.Content)
	}
	if p.ContentHash != nil {
		add("content_hash", *p.ContentHash)
	}
	if p.TriggerPhrases != nil {
		add("trigger_phrases", marshalJSON(p.TriggerPhrases))
	}
	if p.ContextType != nil {
		add("context_type", string(*p.ContextType))
	}
	if p.ImportanceTier != nil {
		add("importance_tier", string(*p.ImportanceTier))
	}
	if p.ImportanceWeight != nil {
		add("importance_weight", *p.ImportanceWeight)
	}
	if p.EmbeddingSet {
		add("embedding_status", string(EmbeddingSuccess))
	}
	if p.EmbeddingStatus != nil {
		add("embedding_status", string(*p.EmbeddingStatus))
	}
	if p.FileMtimeNs != nil {
		add("file_mtime_ns", *p.FileMtimeNs)
	}
	if p.Stability != nil {
		add("stability", *p.Stability)
	}
	if p.Difficulty != nil {
		add("difficulty", *p.Difficulty)
	}
	if p.LastReview != nil {
		add("last_review", *p.LastReview)
	}
	if p.ReviewCount != nil {
		add("review_count", *p.ReviewCount)
	}
	if p.AccessCount != nil {
		add("access_count", *p.AccessCount)
	}
	if p.LastAccessed != nil {
		add("last_accessed", *p.LastAccessed)
	}
	if p.Confidence != nil {
		add("confidence", *p.Confidence)
	}
	if p.ValidationCount != nil {
		add("validation_count", *p.ValidationCount)
	}
	if p.RelatedMemories != nil {
		add("related_memories", marshalJSON(p.RelatedMemories))
	}

	if len(sets) == 1 {
		return nil // nothing besides updated_at to change
	}

	args = append(args, id)
	query := fmt.Sprintf("UPDATE memory_index SET %s WHERE id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update memory %d: %w", id, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("memory %d not found", id)
	}
	return nil
}

// DeleteMemory removes a memory row and its causal edges (via cascade).
func (s *SQLiteMetadataStore) DeleteMemory(ctx context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, fmt.Errorf("metadata store is closed")
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM memory_index WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete memory %d: %w", id, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func scanMemory(row interface {
	Scan(dest ...any) error
}) (*Memory, error) {
	var m Memory
	var triggerPhrases, relatedMemories string
	var lastReview, lastAccessed sql.NullTime
	err := row.Scan(
		&m.ID, &m.SpecFolder, &m.FilePath, &m.Title, &m.ContentHash, &m.Content,
		&triggerPhrases, &m.ContextType, &m.ImportanceTier, &m.ImportanceWeight,
		&m.EmbeddingStatus, &m.FileMtimeNs, &m.Stability, &m.Difficulty,
		&lastReview, &m.ReviewCount, &m.AccessCount, &lastAccessed,
		&m.Confidence, &m.ValidationCount, &relatedMemories, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	m.TriggerPhrases = unmarshalStrings(triggerPhrases)
	m.RelatedMemories = unmarshalInt64s(relatedMemories)
	if lastReview.Valid {
		m.LastReview = lastReview.Time
	}
	if lastAccessed.Valid {
		m.LastAccessed = lastAccessed.Time
	}
	return &m, nil
}

const memoryColumns = `id, spec_folder, file_path, title, content_hash, content, trigger_phrases,
	context_type, importance_tier, importance_weight, embedding_status, file_mtime_ns,
	stability, difficulty, last_review, review_count, access_count, last_accessed,
	confidence, validation_count, related_memories, created_at, updated_at`

// GetMemory retrieves a memory by ID.
func (s *SQLiteMetadataStore) GetMemory(ctx context.Context, id int64) (*Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row := s.db.QueryRowContext(ctx, `SELECT `+memoryColumns+` FROM memory_index WHERE id = ?`, id)
	m, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

// GetMemoryByPath retrieves a memory by its source file path.
func (s *SQLiteMetadataStore) GetMemoryByPath(ctx context.Context, filePath string) (*Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row := s.db.QueryRowContext(ctx, `SELECT `+memoryColumns+` FROM memory_index WHERE file_path = ?`, filePath)
	m, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

// GetMemoriesByFolder returns every memory under a spec folder.
func (s *SQLiteMetadataStore) GetMemoriesByFolder(ctx context.Context, folder string) ([]*Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, `SELECT `+memoryColumns+` FROM memory_index WHERE spec_folder = ? ORDER BY id`, folder)
	if err != nil {
		return nil, fmt.Errorf("failed to query memories for folder %s: %w", folder, err)
	}
	defer rows.Close()

	var out []*Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ListMemoriesByTier returns every memory at a given importance tier,
// across all spec folders. Used to rebuild the constitutional-row cache
// retrieval pins into every include_constitutional query (C7).
func (s *SQLiteMetadataStore) ListMemoriesByTier(ctx context.Context, tier ImportanceTier) ([]*Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, `SELECT `+memoryColumns+` FROM memory_index WHERE importance_tier = ? ORDER BY id`, string(tier))
	if err != nil {
		return nil, fmt.Errorf("failed to query memories for tier %s: %w", tier, err)
	}
	defer rows.Close()

	var out []*Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// CountMemories returns the total number of indexed memories, for
// coverage-style statistics.
func (s *SQLiteMetadataStore) CountMemories(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memory_index`).Scan(&n)
	return n, err
}

// ListMemories returns a cursor-paginated page of memories, optionally
// filtered by spec folder. The cursor is the last-seen memory ID.
func (s *SQLiteMetadataStore) ListMemories(ctx context.Context, folder, cursor string, limit int) ([]*Memory, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = 50
	}

	var afterID int64
	if cursor != "" {
		if _, err := fmt.Sscanf(cursor, "%d", &afterID); err != nil {
			return nil, "", fmt.Errorf("invalid cursor %q: %w", cursor, err)
		}
	}

	query := `SELECT ` + memoryColumns + ` FROM memory_index WHERE id > ?`
	args := []any{afterID}
	if folder != "" {
		query += ` AND spec_folder = ?`
		args = append(args, folder)
	}
	query += ` ORDER BY id LIMIT ?`
	args = append(args, limit+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, "", fmt.Errorf("failed to list memories: %w", err)
	}
	defer rows.Close()

	var out []*Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, "", err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	nextCursor := ""
	if len(out) > limit {
		nextCursor = fmt.Sprintf("%d", out[limit-1].ID)
		out = out[:limit]
	}
	return out, nextCursor, nil
}

// UpdateEmbeddingStatus sets the embedding status for a single memory.
func (s *SQLiteMetadataStore) UpdateEmbeddingStatus(ctx context.Context, id int64, status EmbeddingStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`UPDATE memory_index SET embedding_status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		string(status), id)
	return err
}

// RecordAccess bumps access_count and last_accessed for retrieval hits.
func (s *SQLiteMetadataStore) RecordAccess(ctx context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`UPDATE memory_index SET access_count = access_count + 1, last_accessed = ? WHERE id = ?`,
		at, id)
	return err
}

// TriggerMap builds an in-memory phrase -> memory-id-list index used by the
// retrieval engine's exact/fuzzy trigger-phrase fast path.
func (s *SQLiteMetadataStore) TriggerMap(ctx context.Context) (map[string][]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, `SELECT id, trigger_phrases FROM memory_index WHERE trigger_phrases != '[]'`)
	if err != nil {
		return nil, fmt.Errorf("failed to query trigger phrases: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]int64)
	for rows.Next() {
		var id int64
		var raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, err
		}
		for _, phrase := range unmarshalStrings(raw) {
			key := strings.ToLower(strings.TrimSpace(phrase))
			out[key] = append(out[key], id)
		}
	}
	return out, rows.Err()
}

// InsertEdge inserts a typed causal edge, returning its ID.
func (s *SQLiteMetadataStore) InsertEdge(ctx context.Context, e *CausalEdge) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO causal_edges (source_id, target_id, relation, strength, evidence)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(source_id, target_id, relation) DO UPDATE SET strength = excluded.strength, evidence = excluded.evidence`,
		e.SourceID, e.TargetID, string(e.Relation), e.Strength, e.Evidence)
	if err != nil {
		return 0, fmt.Errorf("failed to insert causal edge %d->%d: %w", e.SourceID, e.TargetID, err)
	}
	return res.LastInsertId()
}

// DeleteEdge removes a causal edge by ID.
func (s *SQLiteMetadataStore) DeleteEdge(ctx context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `DELETE FROM causal_edges WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func scanEdges(rows *sql.Rows) ([]*CausalEdge, error) {
	var out []*CausalEdge
	for rows.Next() {
		var e CausalEdge
		if err := rows.Scan(&e.ID, &e.SourceID, &e.TargetID, &e.Relation, &e.Strength, &e.Evidence, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// GetEdgesBySource returns outgoing causal edges from a memory.
func (s *SQLiteMetadataStore) GetEdgesBySource(ctx context.Context, id int64) ([]*CausalEdge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, `SELECT id, source_id, target_id, relation, strength, evidence, created_at FROM causal_edges WHERE source_id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEdges(rows)
}

// GetEdgesByTarget returns incoming causal edges to a memory.
func (s *SQLiteMetadataStore) GetEdgesByTarget(ctx context.Context, id int64) ([]*CausalEdge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, `SELECT id, source_id, target_id, relation, strength, evidence, created_at FROM causal_edges WHERE target_id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEdges(rows)
}

// AllEdges returns every causal edge, used by bounded-BFS traversal and by
// `cogmemd doctor` integrity checks.
func (s *SQLiteMetadataStore) AllEdges(ctx context.Context) ([]*CausalEdge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, `SELECT id, source_id, target_id, relation, strength, evidence, created_at FROM causal_edges`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEdges(rows)
}

// GetWorkingMemory returns all attention entries for a session.
func (s *SQLiteMetadataStore) GetWorkingMemory(ctx context.Context, sessionID string) ([]*WorkingMemoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, memory_id, attention_score, last_turn_activated, last_decay_turn
		 FROM working_memory WHERE session_id = ? ORDER BY attention_score DESC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*WorkingMemoryEntry
	for rows.Next() {
		var e WorkingMemoryEntry
		if err := rows.Scan(&e.SessionID, &e.MemoryID, &e.AttentionScore, &e.LastTurnActivated, &e.LastDecayTurn); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// AllWorkingMemory returns every attention entry across all sessions, used by
// the checkpoint manager to snapshot working memory without a session filter.
func (s *SQLiteMetadataStore) AllWorkingMemory(ctx context.Context) ([]*WorkingMemoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, memory_id, attention_score, last_turn_activated, last_decay_turn FROM working_memory`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*WorkingMemoryEntry
	for rows.Next() {
		var e WorkingMemoryEntry
		if err := rows.Scan(&e.SessionID, &e.MemoryID, &e.AttentionScore, &e.LastTurnActivated, &e.LastDecayTurn); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// UpsertWorkingMemory writes a batch of attention entries transactionally.
func (s *SQLiteMetadataStore) UpsertWorkingMemory(ctx context.Context, entries []*WorkingMemoryEntry) error {
	if len(entries) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO working_memory (session_id, memory_id, attention_score, last_turn_activated, last_decay_turn)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(session_id, memory_id) DO UPDATE SET
			attention_score = excluded.attention_score,
			last_turn_activated = excluded.last_turn_activated,
			last_decay_turn = excluded.last_decay_turn`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, e.SessionID, e.MemoryID, e.AttentionScore, e.LastTurnActivated, e.LastDecayTurn); err != nil {
			return fmt.Errorf("failed to upsert working memory entry for session %s: %w", e.SessionID, err)
		}
	}
	return tx.Commit()
}

// PruneWorkingMemory removes entries for a session not present in keepMemoryIDs,
// the eviction step once activation falls beneath the attention floor.
func (s *SQLiteMetadataStore) PruneWorkingMemory(ctx context.Context, sessionID string, keepMemoryIDs []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(keepMemoryIDs) == 0 {
		_, err := s.db.ExecContext(ctx, `DELETE FROM working_memory WHERE session_id = ?`, sessionID)
		return err
	}

	placeholders := make([]string, len(keepMemoryIDs))
	args := make([]any, 0, len(keepMemoryIDs)+1)
	args = append(args, sessionID)
	for i, id := range keepMemoryIDs {
		placeholders[i] = "?"
		args = append(args, id)
	}
	query := fmt.Sprintf(`DELETE FROM working_memory WHERE session_id = ? AND memory_id NOT IN (%s)`, strings.Join(placeholders, ","))
	_, err := s.db.ExecContext(ctx, query, args...)
	return err
}

// InsertPreflight records a preflight epistemic self-assessment.
func (s *SQLiteMetadataStore) InsertPreflight(ctx context.Context, r *SessionLearning) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO session_learning (
			spec_folder, task_id, phase, session_id,
			pre_knowledge, pre_uncertainty, pre_context, knowledge_gaps
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.SpecFolder, r.TaskID, string(PhasePreflight), r.SessionID,
		r.PreKnowledge, r.PreUncertainty, r.PreContext, marshalJSON(r.KnowledgeGaps))
	if err != nil {
		return 0, fmt.Errorf("failed to insert preflight record for task %s: %w", r.TaskID, err)
	}
	return res.LastInsertId()
}

// GetSessionLearning fetches a single preflight/postflight record by its
// (spec_folder, task_id) key, returning (nil, nil) when no row matches.
func (s *SQLiteMetadataStore) GetSessionLearning(ctx context.Context, specFolder, taskID string) (*SessionLearning, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row := s.db.QueryRowContext(ctx, `
		SELECT id, spec_folder, task_id, phase, session_id, pre_knowledge, pre_uncertainty, pre_context,
			knowledge_gaps, post_knowledge, post_uncertainty, post_context, delta_knowledge,
			delta_uncertainty, delta_context, learning_index, gaps_closed, new_gaps_discovered,
			created_at, completed_at
		FROM session_learning WHERE spec_folder = ? AND task_id = ?`, specFolder, taskID)
	r, err := scanSessionLearning(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return r, err
}

// CompletePostflight finalizes a preflight row with postflight scores and
// derived deltas, returning the completed record.
func (s *SQLiteMetadataStore) CompletePostflight(ctx context.Context, specFolder, taskID string, patch *SessionLearning) (*SessionLearning, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE session_learning SET
			phase = ?, post_knowledge = ?, post_uncertainty = ?, post_context = ?,
			delta_knowledge = ?, delta_uncertainty = ?, delta_context = ?, learning_index = ?,
			gaps_closed = ?, new_gaps_discovered = ?, completed_at = CURRENT_TIMESTAMP
		WHERE spec_folder = ? AND task_id = ?`,
		string(PhaseComplete), patch.PostKnowledge, patch.PostUncertainty, patch.PostContext,
		patch.DeltaKnowledge, patch.DeltaUncertainty, patch.DeltaContext, patch.LearningIndex,
		marshalJSON(patch.GapsClosed), marshalJSON(patch.NewGapsDiscovered),
		specFolder, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to complete postflight for task %s: %w", taskID, err)
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, spec_folder, task_id, phase, session_id, pre_knowledge, pre_uncertainty, pre_context,
			knowledge_gaps, post_knowledge, post_uncertainty, post_context, delta_knowledge,
			delta_uncertainty, delta_context, learning_index, gaps_closed, new_gaps_discovered,
			created_at, completed_at
		FROM session_learning WHERE spec_folder = ? AND task_id = ?`, specFolder, taskID)
	return scanSessionLearning(row)
}

func scanSessionLearning(row interface{ Scan(dest ...any) error }) (*SessionLearning, error) {
	var r SessionLearning
	var knowledgeGaps, gapsClosed, newGaps string
	var completedAt sql.NullTime
	err := row.Scan(&r.ID, &r.SpecFolder, &r.TaskID, &r.Phase, &r.SessionID, &r.PreKnowledge,
		&r.PreUncertainty, &r.PreContext, &knowledgeGaps, &r.PostKnowledge, &r.PostUncertainty,
		&r.PostContext, &r.DeltaKnowledge, &r.DeltaUncertainty, &r.DeltaContext, &r.LearningIndex,
		&gapsClosed, &newGaps, &r.CreatedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	r.KnowledgeGaps = unmarshalStrings(knowledgeGaps)
	r.GapsClosed = unmarshalStrings(gapsClosed)
	r.NewGapsDiscovered = unmarshalStrings(newGaps)
	if completedAt.Valid {
		r.CompletedAt = completedAt.Time
	}
	return &r, nil
}

// GetLearningHistory returns session_learning rows for a spec folder, optionally
// scoped to a session and restricted to completed (postflight) rows.
func (s *SQLiteMetadataStore) GetLearningHistory(ctx context.Context, specFolder, sessionID string, onlyComplete bool) ([]*SessionLearning, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, spec_folder, task_id, phase, session_id, pre_knowledge, pre_uncertainty, pre_context,
		knowledge_gaps, post_knowledge, post_uncertainty, post_context, delta_knowledge,
		delta_uncertainty, delta_context, learning_index, gaps_closed, new_gaps_discovered,
		created_at, completed_at
		FROM session_learning WHERE spec_folder = ?`
	args := []any{specFolder}
	if sessionID != "" {
		query += ` AND session_id = ?`
		args = append(args, sessionID)
	}
	if onlyComplete {
		query += ` AND phase = ?`
		args = append(args, string(PhaseComplete))
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*SessionLearning
	for rows.Next() {
		r, err := scanSessionLearning(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SaveCheckpoint writes (or overwrites) a named checkpoint snapshot.
func (s *SQLiteMetadataStore) SaveCheckpoint(ctx context.Context, c *Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (name, spec_folder, metadata, payload)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET spec_folder = excluded.spec_folder, metadata = excluded.metadata, payload = excluded.payload, created_at = CURRENT_TIMESTAMP`,
		c.Name, c.SpecFolder, c.Metadata, c.Payload)
	return err
}

// GetCheckpoint retrieves a named checkpoint, or nil if it does not exist.
func (s *SQLiteMetadataStore) GetCheckpoint(ctx context.Context, name string) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var c Checkpoint
	err := s.db.QueryRowContext(ctx, `SELECT name, spec_folder, metadata, payload, created_at FROM checkpoints WHERE name = ?`, name).
		Scan(&c.Name, &c.SpecFolder, &c.Metadata, &c.Payload, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListCheckpoints returns checkpoints, most recent first, optionally scoped
// to a spec folder (an empty specFolder lists checkpoints across all folders).
func (s *SQLiteMetadataStore) ListCheckpoints(ctx context.Context, specFolder string, limit int) ([]*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT name, spec_folder, metadata, created_at FROM checkpoints`
	args := []any{}
	if specFolder != "" {
		query += ` WHERE spec_folder = ?`
		args = append(args, specFolder)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Checkpoint
	for rows.Next() {
		var c Checkpoint
		if err := rows.Scan(&c.Name, &c.SpecFolder, &c.Metadata, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

// DeleteCheckpoint removes a named checkpoint.
func (s *SQLiteMetadataStore) DeleteCheckpoint(ctx context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE name = ?`, name)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// AppendConflictLog records a prediction-error-gate decision for audit.
func (s *SQLiteMetadataStore) AppendConflictLog(ctx context.Context, e *ConflictLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memory_conflict_log (
			new_memory_hash, existing_memory_id, similarity_score, action,
			contradiction_detected, notes, spec_folder
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.NewMemoryHash, e.ExistingMemoryID, e.SimilarityScore, e.Action,
		e.ContradictionDetected, e.Notes, e.SpecFolder)
	return err
}

// RecentConflictLog returns the most recent conflict-log entries for a folder.
func (s *SQLiteMetadataStore) RecentConflictLog(ctx context.Context, specFolder string, limit int) ([]*ConflictLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, new_memory_hash, existing_memory_id, similarity_score, action,
			contradiction_detected, notes, spec_folder, created_at
		FROM memory_conflict_log WHERE spec_folder = ? ORDER BY created_at DESC LIMIT ?`,
		specFolder, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ConflictLogEntry
	for rows.Next() {
		var e ConflictLogEntry
		var existingID sql.NullInt64
		if err := rows.Scan(&e.ID, &e.NewMemoryHash, &existingID, &e.SimilarityScore, &e.Action,
			&e.ContradictionDetected, &e.Notes, &e.SpecFolder, &e.CreatedAt); err != nil {
			return nil, err
		}
		if existingID.Valid {
			v := existingID.Int64
			e.ExistingMemoryID = &v
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// GetState reads a config key/value pair.
func (s *SQLiteMetadataStore) GetState(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM config_state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// SetState writes a config key/value pair.
func (s *SQLiteMetadataStore) SetState(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO config_state(key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)
	return err
}

// VerifyIntegrity cross-checks memory_index against causal_edges, reporting
// (and optionally cleaning) edges or working-memory rows left dangling by a
// crash between writes. Vector/FTS cross-checks happen one layer up, where
// both indexes are in scope.
func (s *SQLiteMetadataStore) VerifyIntegrity(ctx context.Context, autoClean bool) (*IntegrityReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	report := &IntegrityReport{}

	rows, err := s.db.QueryContext(ctx, `
		SELECT ce.id FROM causal_edges ce
		LEFT JOIN memory_index s ON ce.source_id = s.id
		LEFT JOIN memory_index t ON ce.target_id = t.id
		WHERE s.id IS NULL OR t.id IS NULL`)
	if err != nil {
		return nil, fmt.Errorf("failed to check orphaned edges: %w", err)
	}
	var orphanIDs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		orphanIDs = append(orphanIDs, id)
	}
	rows.Close()
	report.OrphanedEdges = orphanIDs

	if autoClean && len(orphanIDs) > 0 {
		placeholders := make([]string, len(orphanIDs))
		args := make([]any, len(orphanIDs))
		for i, id := range orphanIDs {
			placeholders[i] = "?"
			args[i] = id
		}
		_, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM causal_edges WHERE id IN (%s)", strings.Join(placeholders, ",")), args...)
		if err != nil {
			return nil, fmt.Errorf("failed to clean orphaned edges: %w", err)
		}
		report.Cleaned = true
		slog.Info("metadata_integrity_cleaned", slog.Int("orphaned_edges", len(orphanIDs)))
	}

	return report, nil
}

// ClearPreparedStatements evicts cached prepared statements, used when the
// underlying schema changes shape (e.g. after a checkpoint restore).
func (s *SQLiteMetadataStore) ClearPreparedStatements() {
	s.stmtMu.Lock()
	defer s.stmtMu.Unlock()
	for _, stmt := range s.stmts {
		_ = stmt.Close()
	}
	s.stmts = make(map[string]*sql.Stmt)
}

// Close closes the underlying database connection.
func (s *SQLiteMetadataStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.ClearPreparedStatements()
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}
