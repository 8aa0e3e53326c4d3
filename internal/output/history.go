package output

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/gofrs/flock"
	"github.com/oklog/ulid/v2"
)

// HistoryEntry is one line of the run history file.
type HistoryEntry struct {
	RunID          string           `json:"run_id"`
	StartedAt      time.Time        `json:"started_at"`
	APIURL         string           `json:"api_url"`
	Bots           int              `json:"bots"`
	Connected      int64            `json:"connected"`
	Failed         int64            `json:"failed"`
	Registered     int64            `json:"registered"`
	DurationMs     float64          `json:"duration_ms"`
	FailuresByKind map[string]int64 `json:"failures_by_kind,omitempty"`
}

// NewRunID returns a lexically sortable id for a run started at t.
func NewRunID(t time.Time) string {
	return ulid.MustNew(ulid.Timestamp(t), ulid.DefaultEntropy()).String()
}

// HistoryEntryFrom condenses a report into a history line.
func HistoryEntryFrom(r Report) HistoryEntry {
	return HistoryEntry{
		RunID:          r.RunID,
		StartedAt:      r.StartedAt,
		APIURL:         r.APIURL,
		Bots:           r.Requested,
		Connected:      r.Stats.Connected,
		Failed:         r.Stats.Failed,
		Registered:     r.Stats.Registered,
		DurationMs:     r.Stats.DurationMs,
		FailuresByKind: r.Stats.ByKind,
	}
}

func lockPath(path string) string {
	return path + ".lock"
}

// AppendHistory appends e as a JSON line to path. Concurrent runs writing
// the same file are serialized with an advisory lock next to it.
func AppendHistory(path string, e HistoryEntry) error {
	lock := flock.New(lockPath(path))
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("lock history: %w", err)
	}
	defer lock.Unlock()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	if err := json.NewEncoder(f).Encode(e); err != nil {
		f.Close()
		return fmt.Errorf("write history: %w", err)
	}
	return f.Close()
}

// ReadHistory returns every entry in path, oldest first. A missing file
// yields no entries.
func ReadHistory(path string) ([]HistoryEntry, error) {
	lock := flock.New(lockPath(path))
	if err := lock.RLock(); err != nil {
		return nil, fmt.Errorf("lock history: %w", err)
	}
	defer lock.Unlock()

	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	defer f.Close()

	var entries []HistoryEntry
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var e HistoryEntry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("history line %d: %w", line, err)
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	return entries, nil
}
