// Package sessionlog appends one JSON-lines record per dispatch to the
// local state dir and aggregates local counters. Raw input never lands
// in the log unless the caller opted in; everything else stores only a
// hash.
package sessionlog

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"udos/internal/logging"
)

// Entry is one session-log record. The schema is stable; new fields are
// additive and omitempty.
type Entry struct {
	TimestampUTC string   `json:"timestamp_utc"`
	Caller       string   `json:"caller"`
	InputHash    string   `json:"input_hash"`
	Command      string   `json:"command,omitempty"`
	Route        string   `json:"route"`
	Status       string   `json:"status"`
	ElapsedMS    int64    `json:"elapsed_ms"`
	Failover     string   `json:"failover,omitempty"`
	Redactions   []string `json:"redactions"`
	// RawInput is populated only when the config or the request opted in.
	RawInput string `json:"raw_input,omitempty"`
}

// Summary holds local aggregates. No network export; counters reset with
// the process or on demand via recount.
type Summary struct {
	Total      int            `json:"total"`
	PerCommand map[string]int `json:"per_command"`
	PerRoute   map[string]int `json:"per_route"`
	PerStatus  map[string]int `json:"per_status"`
	Failovers  int            `json:"failovers"`
}

// Log is the single appender for the session log file. Concurrent
// dispatches serialize on the append point only; readers open the file
// independently.
type Log struct {
	path string

	mu       sync.Mutex
	file     *os.File
	counters Summary
}

// Open creates or appends to the log at path.
func Open(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open session log: %w", err)
	}
	l := &Log{path: path, file: f}
	l.counters = emptySummary()
	return l, nil
}

func emptySummary() Summary {
	return Summary{
		PerCommand: make(map[string]int),
		PerRoute:   make(map[string]int),
		PerStatus:  make(map[string]int),
	}
}

// Path returns the log file location.
func (l *Log) Path() string { return l.path }

// Record appends one entry. The timestamp is stamped here when absent so
// append order and timestamp order agree.
func (l *Log) Record(entry Entry) error {
	if entry.TimestampUTC == "" {
		entry.TimestampUTC = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if entry.Redactions == nil {
		entry.Redactions = []string{}
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal session entry: %w", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.file.Write(line); err != nil {
		logging.SessionError("append failed: %v", err)
		return fmt.Errorf("failed to append session entry: %w", err)
	}
	l.count(&entry)
	return nil
}

func (l *Log) count(entry *Entry) {
	l.counters.Total++
	if entry.Command != "" {
		l.counters.PerCommand[entry.Command]++
	}
	l.counters.PerRoute[entry.Route]++
	l.counters.PerStatus[entry.Status]++
	if entry.Failover != "" {
		l.counters.Failovers++
	}
}

// Summary returns a copy of the in-process counters.
func (l *Log) Summary() Summary {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := Summary{
		Total:      l.counters.Total,
		Failovers:  l.counters.Failovers,
		PerCommand: make(map[string]int, len(l.counters.PerCommand)),
		PerRoute:   make(map[string]int, len(l.counters.PerRoute)),
		PerStatus:  make(map[string]int, len(l.counters.PerStatus)),
	}
	for k, v := range l.counters.PerCommand {
		out.PerCommand[k] = v
	}
	for k, v := range l.counters.PerRoute {
		out.PerRoute[k] = v
	}
	for k, v := range l.counters.PerStatus {
		out.PerStatus[k] = v
	}
	return out
}

// Recount rebuilds counters from the file, for a process that reopened
// an existing log. Unparseable lines are skipped.
func (l *Log) Recount() error {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to open session log: %w", err)
	}
	defer f.Close()

	counters := emptySummary()
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var entry Entry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue
		}
		counters.Total++
		if entry.Command != "" {
			counters.PerCommand[entry.Command]++
		}
		counters.PerRoute[entry.Route]++
		counters.PerStatus[entry.Status]++
		if entry.Failover != "" {
			counters.Failovers++
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to scan session log: %w", err)
	}

	l.mu.Lock()
	l.counters = counters
	l.mu.Unlock()
	return nil
}

// Close flushes and closes the appender.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// HashInput returns the truncated SHA-256 of an input line: enough to
// correlate repeats without storing the text.
func HashInput(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])[:16]
}
