package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/yourusername/vegalite-server/pkg/model"
	_ "modernc.org/sqlite" // Register SQLite driver
)

// ErrNotFound is returned when a conversion or artifact does not exist
var ErrNotFound = errors.New("not found")

// parseTimestamp parses a timestamp string from SQLite, handling multiple formats
// Formats supported:
// - "2006-01-02 15:04:05" (UTC, no timezone)
// - "2006-01-02 15:04:05 +0000 UTC" (UTC with explicit timezone)
// - RFC 3339
func parseTimestamp(s string) *time.Time {
	if s == "" {
		return nil
	}

	formats := []string{
		"2006-01-02 15:04:05",           // SQLite standard format (UTC assumed)
		"2006-01-02 15:04:05 -0700 MST", // With timezone offset and name
		"2006-01-02 15:04:05 -0700",     // With timezone offset only
		time.RFC3339,                    // ISO 8601
	}

	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return &t
		}
	}

	log.Printf("[STORE] WARNING: Failed to parse timestamp: %s", s)
	return nil
}

// Store keeps the conversion log and the artifact cache
type Store struct {
	db         *sql.DB
	writeQueue *writeQueue
}

// NewStore opens (or creates) the SQLite database at dbPath
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// WAL allows concurrent readers next to the single writer
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite only supports single writer
	db.SetMaxIdleConns(1)

	log.Println("[STORE] SQLite configured: WAL mode enabled, busy_timeout=5000ms, single writer connection")

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	store.writeQueue = newWriteQueue(store)
	log.Println("[STORE] Write queue initialized for serialized database writes")

	return store, nil
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS conversions (
			id TEXT PRIMARY KEY,
			format TEXT NOT NULL,
			width INTEGER NOT NULL,
			scale INTEGER NOT NULL DEFAULT 1,
			encrypted INTEGER NOT NULL DEFAULT 0,
			font TEXT,
			driver TEXT NOT NULL,
			status TEXT NOT NULL,
			error_text TEXT,
			bytes INTEGER NOT NULL DEFAULT 0,
			checksum TEXT,
			started_at DATETIME NOT NULL,
			finished_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_conversions_started_at ON conversions(started_at)`,
		`CREATE INDEX IF NOT EXISTS idx_conversions_status ON conversions(status)`,
		`CREATE TABLE IF NOT EXISTS artifacts (
			cache_key TEXT PRIMARY KEY,
			content_type TEXT NOT NULL,
			data BLOB NOT NULL,
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_artifacts_created_at ON artifacts(created_at)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return err
		}
	}
	return nil
}

// CreateConversion records a new conversion (queued for serialized execution)
func (s *Store) CreateConversion(c *model.Conversion) error {
	return s.writeQueue.enqueue(opCreateConversion, c)
}

func (s *Store) createConversionDirect(c *model.Conversion) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.StartedAt.IsZero() {
		c.StartedAt = time.Now().UTC()
	}
	if c.Status == "" {
		c.Status = model.StatusRunning
	}

	_, err := s.db.Exec(`
		INSERT INTO conversions (id, format, width, scale, encrypted, font, driver, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Format, c.Width, c.Scale, c.Encrypted, c.Font, c.Driver, c.Status, c.StartedAt.UTC(),
	)
	return err
}

// UpdateConversion stores the outcome of a conversion (queued for serialized execution)
func (s *Store) UpdateConversion(c *model.Conversion) error {
	return s.writeQueue.enqueue(opUpdateConversion, c)
}

func (s *Store) updateConversionDirect(c *model.Conversion) error {
	var finishedAt any
	if c.FinishedAt != nil {
		finishedAt = c.FinishedAt.UTC()
	}

	result, err := s.db.Exec(`
		UPDATE conversions SET
			status = ?, error_text = ?, bytes = ?, checksum = ?, finished_at = ?
		WHERE id = ?`,
		c.Status, c.ErrorText, c.Bytes, c.Checksum, finishedAt, c.ID,
	)
	if err != nil {
		return err
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("conversion %s: %w", c.ID, ErrNotFound)
	}
	return nil
}

const conversionColumns = `id, format, width, scale, encrypted, font, driver, status,
	error_text, bytes, checksum, started_at, finished_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversion(row rowScanner) (*model.Conversion, error) {
	c := &model.Conversion{}
	var font, errorText, checksum, finishedAt sql.NullString

	err := row.Scan(
		&c.ID, &c.Format, &c.Width, &c.Scale, &c.Encrypted, &font, &c.Driver, &c.Status,
		&errorText, &c.Bytes, &checksum, &c.StartedAt, &finishedAt,
	)
	if err != nil {
		return nil, err
	}

	// Convert nullable fields
	c.Font = font.String
	c.ErrorText = errorText.String
	c.Checksum = checksum.String
	if finishedAt.Valid {
		c.FinishedAt = parseTimestamp(finishedAt.String)
	}
	return c, nil
}

// GetConversion retrieves a conversion by ID
func (s *Store) GetConversion(id string) (*model.Conversion, error) {
	row := s.db.QueryRow(`SELECT `+conversionColumns+` FROM conversions WHERE id = ?`, id)
	c, err := scanConversion(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("conversion %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ListConversions returns the most recent conversions, newest first
func (s *Store) ListConversions(limit int) ([]*model.Conversion, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	rows, err := s.db.Query(`SELECT `+conversionColumns+` FROM conversions ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	conversions := make([]*model.Conversion, 0)
	for rows.Next() {
		c, err := scanConversion(rows)
		if err != nil {
			log.Printf("[STORE] ERROR: Failed to scan conversion row: %v", err)
			return nil, err
		}
		conversions = append(conversions, c)
	}
	return conversions, rows.Err()
}

// GetArtifact returns a cached rendering
func (s *Store) GetArtifact(key string) (*model.Artifact, error) {
	a := &model.Artifact{}
	err := s.db.QueryRow(`
		SELECT cache_key, content_type, data, created_at
		FROM artifacts WHERE cache_key = ?`, key,
	).Scan(&a.Key, &a.ContentType, &a.Data, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// PutArtifact stores or replaces a cached rendering (queued for serialized execution)
func (s *Store) PutArtifact(a *model.Artifact) error {
	return s.writeQueue.enqueue(opPutArtifact, a)
}

func (s *Store) putArtifactDirect(a *model.Artifact) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO artifacts (cache_key, content_type, data, created_at)
		VALUES (?, ?, ?, ?)`,
		a.Key, a.ContentType, a.Data, a.CreatedAt.UTC(),
	)
	return err
}

// PruneResult counts the rows removed by Prune
type PruneResult struct {
	Conversions int64
	Artifacts   int64
}

// Prune deletes conversions and artifacts older than before (queued for serialized execution)
func (s *Store) Prune(before time.Time) (PruneResult, error) {
	params := &pruneParams{before: before.UTC()}
	err := s.writeQueue.enqueue(opPrune, params)
	return params.result, err
}

func (s *Store) pruneDirect(params *pruneParams) error {
	res, err := s.db.Exec("DELETE FROM conversions WHERE started_at < ?", params.before)
	if err != nil {
		return fmt.Errorf("failed to prune conversions: %w", err)
	}
	params.result.Conversions, _ = res.RowsAffected()

	res, err = s.db.Exec("DELETE FROM artifacts WHERE created_at < ?", params.before)
	if err != nil {
		return fmt.Errorf("failed to prune artifacts: %w", err)
	}
	params.result.Artifacts, _ = res.RowsAffected()
	return nil
}

// CountConversions returns the number of logged conversions
func (s *Store) CountConversions() (int, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM conversions").Scan(&n)
	return n, err
}

// Ping checks the database connection
func (s *Store) Ping() error {
	return s.db.Ping()
}

// Close closes the database connection and shuts down the write queue
func (s *Store) Close() error {
	// Shutdown write queue first to ensure all pending writes complete
	if s.writeQueue != nil {
		s.writeQueue.shutdown()
	}
	return s.db.Close()
}
