package server

import (
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/sambeau/sorrel/pkg/script"

	// SQLite driver (pure Go, no CGO required)
	_ "modernc.org/sqlite"
)

// FaultLog keeps page faults in a SQLite database for dev mode.
type FaultLog struct {
	mu          sync.RWMutex
	db          *sql.DB
	path        string
	maxSize     int64 // Maximum database size in bytes (default 10MB)
	truncatePct int   // Percentage to delete when truncating (default 25)
}

// FaultEntry is one recorded fault.
type FaultEntry struct {
	ID        int64
	Route     string
	Kind      string
	Code      int
	Message   string
	Filename  string
	FromLine  int
	FromCol   int
	TillLine  int
	TillCol   int
	Timestamp time.Time
}

// FaultLogConfig holds configuration for the fault log.
type FaultLogConfig struct {
	Path        string // Database file path
	MaxSize     int64  // Max size in bytes (default 10MB)
	TruncatePct int    // Percentage to delete when truncating (default 25%)
}

// NewFaultLog opens the fault database.
// If path is empty, creates a database named "faults.db" in baseDir.
func NewFaultLog(baseDir string, cfg FaultLogConfig) (*FaultLog, error) {
	path := cfg.Path
	if path == "" {
		path = filepath.Join(baseDir, "faults.db")
	} else if !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating fault log directory: %w", err)
	}

	// WAL mode lets the listing read while requests write
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening fault log database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to fault log database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	fl := &FaultLog{
		db:          db,
		path:        path,
		maxSize:     cfg.MaxSize,
		truncatePct: cfg.TruncatePct,
	}
	if fl.maxSize == 0 {
		fl.maxSize = 10 * 1024 * 1024
	}
	if fl.truncatePct == 0 {
		fl.truncatePct = 25
	}

	if err := fl.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating fault log schema: %w", err)
	}
	return fl, nil
}

func (fl *FaultLog) createSchema() error {
	_, err := fl.db.Exec(`
		CREATE TABLE IF NOT EXISTS faults (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			route TEXT NOT NULL DEFAULT '',
			kind TEXT NOT NULL,
			code INTEGER NOT NULL,
			message TEXT NOT NULL,
			filename TEXT NOT NULL,
			from_line INTEGER NOT NULL,
			from_col INTEGER NOT NULL,
			till_line INTEGER NOT NULL,
			till_col INTEGER NOT NULL,
			timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
		);

		CREATE INDEX IF NOT EXISTS idx_faults_route ON faults(route);
		CREATE INDEX IF NOT EXISTS idx_faults_timestamp ON faults(timestamp);
	`)
	return err
}

// Record stores a fault raised while serving route.
func (fl *FaultLog) Record(route string, f script.RuntimeFault) error {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if err := fl.maybeAutoTruncate(); err != nil {
		fmt.Fprintf(os.Stderr, "[WARN] fault log truncation failed: %v\n", err)
	}

	_, err := fl.db.Exec(`
		INSERT INTO faults (route, kind, code, message, filename, from_line, from_col, till_line, till_col)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, route, f.Kind.String(), f.Code, f.Message, f.File,
		f.Span.Start.Line, f.Span.Start.Column, f.Span.End.Line, f.Span.End.Column)
	return err
}

// Recent returns the newest faults first, optionally filtered by route.
func (fl *FaultLog) Recent(route string, limit int) ([]FaultEntry, error) {
	fl.mu.RLock()
	defer fl.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}

	const columns = `id, route, kind, code, message, filename, from_line, from_col, till_line, till_col, timestamp`
	var rows *sql.Rows
	var err error
	if route == "" {
		rows, err = fl.db.Query(`SELECT `+columns+` FROM faults ORDER BY id DESC LIMIT ?`, limit)
	} else {
		rows, err = fl.db.Query(`SELECT `+columns+` FROM faults WHERE route = ? ORDER BY id DESC LIMIT ?`, route, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("querying faults: %w", err)
	}
	defer rows.Close()

	var entries []FaultEntry
	for rows.Next() {
		var e FaultEntry
		var ts string
		if err := rows.Scan(&e.ID, &e.Route, &e.Kind, &e.Code, &e.Message, &e.Filename,
			&e.FromLine, &e.FromCol, &e.TillLine, &e.TillCol, &ts); err != nil {
			return nil, fmt.Errorf("scanning fault: %w", err)
		}
		// Parse timestamp - try multiple formats SQLite might use
		for _, layout := range []string{
			"2006-01-02 15:04:05",
			"2006-01-02T15:04:05Z",
			time.RFC3339,
		} {
			if t, err := time.Parse(layout, ts); err == nil {
				e.Timestamp = t
				break
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Clear removes faults, optionally filtered by route.
func (fl *FaultLog) Clear(route string) error {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	var err error
	if route == "" {
		_, err = fl.db.Exec("DELETE FROM faults")
	} else {
		_, err = fl.db.Exec("DELETE FROM faults WHERE route = ?", route)
	}
	return err
}

// Count returns the number of faults, optionally filtered by route.
func (fl *FaultLog) Count(route string) (int, error) {
	fl.mu.RLock()
	defer fl.mu.RUnlock()

	var count int
	var err error
	if route == "" {
		err = fl.db.QueryRow("SELECT COUNT(*) FROM faults").Scan(&count)
	} else {
		err = fl.db.QueryRow("SELECT COUNT(*) FROM faults WHERE route = ?", route).Scan(&count)
	}
	return count, err
}

// maybeAutoTruncate deletes the oldest faults once the database exceeds maxSize.
// Must be called with lock held.
func (fl *FaultLog) maybeAutoTruncate() error {
	var size int64
	// Recent writes sit in the WAL until a checkpoint
	for _, p := range []string{fl.path, fl.path + "-wal"} {
		info, err := os.Stat(p)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}
		size += info.Size()
	}
	if size < fl.maxSize {
		return nil
	}

	var total int
	if err := fl.db.QueryRow("SELECT COUNT(*) FROM faults").Scan(&total); err != nil {
		return err
	}
	if total == 0 {
		return nil
	}

	deleteCount := (total * fl.truncatePct) / 100
	if deleteCount == 0 {
		deleteCount = 1
	}
	if _, err := fl.db.Exec(`
		DELETE FROM faults WHERE id IN (
			SELECT id FROM faults ORDER BY id ASC LIMIT ?
		)
	`, deleteCount); err != nil {
		return fmt.Errorf("truncating faults: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (fl *FaultLog) Close() error {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	return fl.db.Close()
}

// Path returns the path to the database file.
func (fl *FaultLog) Path() string {
	return fl.path
}

// faultsHandler lists recorded faults as plain text. DELETE clears them.
type faultsHandler struct {
	log *FaultLog
}

func newFaultsHandler(log *FaultLog) *faultsHandler {
	return &faultsHandler{log: log}
}

func (h *faultsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	route := r.URL.Query().Get("route")

	switch r.Method {
	case http.MethodDelete:
		if err := h.log.Clear(route); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodGet, http.MethodHead:
	default:
		w.Header().Set("Allow", "GET, HEAD, DELETE")
		http.Error(w, "405 Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := h.log.Recent(route, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if len(entries) == 0 {
		fmt.Fprintln(w, "No faults recorded.")
		return
	}
	for _, e := range entries {
		fmt.Fprintf(w, "%s %s [%s] Error code: %d\n  %s\n  %s %d,%d-%d,%d\n",
			e.Timestamp.Format(time.RFC3339), e.Route, e.Kind, e.Code, e.Message,
			e.Filename, e.FromLine, e.FromCol, e.TillLine, e.TillCol)
	}
}
