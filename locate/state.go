package locate

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DefaultHistorySize is the number of fixes FixTracker keeps
const DefaultHistorySize = 50

// FixRecord is a fix together with the image it came from
type FixRecord struct {
	ImagePath string `json:"imagePath"`
	Fix       Fix    `json:"fix"`
}

// FailureRecord is the most recent failed request
type FailureRecord struct {
	ImagePath string    `json:"imagePath"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// FixTracker holds the latest solution and a bounded fix history for the
// HTTP endpoints
type FixTracker struct {
	mu          sync.RWMutex
	solution    *Solution
	history     []FixRecord
	historySize int
	lastError   *FailureRecord
	cachePath   string // path to the last-fix cache file; empty disables persistence
}

// NewFixTracker creates a tracker without persistence
func NewFixTracker() *FixTracker {
	return &FixTracker{historySize: DefaultHistorySize}
}

// NewFixTrackerWithCache creates a tracker that persists the latest fix to
// cachePath. If the file exists, the cached fix seeds the history.
func NewFixTrackerWithCache(cachePath string) *FixTracker {
	ft := &FixTracker{historySize: DefaultHistorySize, cachePath: cachePath}
	if cachePath != "" {
		if rec, err := LoadFix(cachePath); err == nil {
			ft.history = append(ft.history, *rec)
		}
	}
	return ft
}

// Update records a successful solution
func (ft *FixTracker) Update(imagePath string, sol *Solution) {
	if sol == nil {
		return
	}
	rec := FixRecord{ImagePath: imagePath, Fix: sol.Fix}

	ft.mu.Lock()
	ft.solution = sol
	ft.history = append(ft.history, rec)
	if len(ft.history) > ft.historySize {
		ft.history = ft.history[len(ft.history)-ft.historySize:]
	}
	cachePath := ft.cachePath
	ft.mu.Unlock()

	if cachePath != "" {
		if err := SaveFix(&rec, cachePath); err != nil {
			log.Printf("warning: failed to save fix cache: %v", err)
		}
	}
}

// RecordError records a failed request
func (ft *FixTracker) RecordError(imagePath string, err error) {
	if err == nil {
		return
	}
	ft.mu.Lock()
	defer ft.mu.Unlock()
	ft.lastError = &FailureRecord{ImagePath: imagePath, Error: err.Error(), Timestamp: time.Now().UTC()}
}

// Last returns the most recent fix, including one loaded from the cache
func (ft *FixTracker) Last() (FixRecord, bool) {
	ft.mu.RLock()
	defer ft.mu.RUnlock()
	if len(ft.history) == 0 {
		return FixRecord{}, false
	}
	return ft.history[len(ft.history)-1], true
}

// Solution returns the latest in-memory solution. Cached fixes have none.
func (ft *FixTracker) Solution() *Solution {
	ft.mu.RLock()
	defer ft.mu.RUnlock()
	return ft.solution
}

// History returns the stored fixes, oldest first
func (ft *FixTracker) History() []FixRecord {
	ft.mu.RLock()
	defer ft.mu.RUnlock()
	out := make([]FixRecord, len(ft.history))
	copy(out, ft.history)
	return out
}

// LastError returns the most recent failure, if any
func (ft *FixTracker) LastError() (FailureRecord, bool) {
	ft.mu.RLock()
	defer ft.mu.RUnlock()
	if ft.lastError == nil {
		return FailureRecord{}, false
	}
	return *ft.lastError, true
}

// HasFix returns true if at least one fix is known
func (ft *FixTracker) HasFix() bool {
	ft.mu.RLock()
	defer ft.mu.RUnlock()
	return len(ft.history) > 0
}

// SaveFix writes a fix record to disk as JSON.
func SaveFix(rec *FixRecord, path string) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal fix: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write fix cache: %w", err)
	}
	return nil
}

// LoadFix reads a fix record from a JSON file on disk.
func LoadFix(path string) (*FixRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fix cache: %w", err)
	}
	var rec FixRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal fix cache: %w", err)
	}
	return &rec, nil
}
