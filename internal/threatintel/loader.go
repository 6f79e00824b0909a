// Package threatintel loads the static list of known-bad URLs and checks
// message links against it.
package threatintel

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/mikey/mail-sentinel/internal/core"
	"go.uber.org/zap"
)

// ParseCSV reads a threat list with at least url and type columns.
// Column order is taken from the header row.
func ParseCSV(r io.Reader) ([]core.ThreatIntelEntry, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read threat list header: %w", err)
	}
	urlCol, typeCol := -1, -1
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))) {
		case "url":
			urlCol = i
		case "type":
			typeCol = i
		}
	}
	if urlCol < 0 || typeCol < 0 {
		return nil, errors.New("threat list must have url and type columns")
	}

	var entries []core.ThreatIntelEntry
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse threat list: %w", err)
		}
		if urlCol >= len(record) || typeCol >= len(record) {
			continue
		}
		u := strings.TrimSpace(record[urlCol])
		if u == "" {
			continue
		}
		entries = append(entries, core.ThreatIntelEntry{
			URL:      u,
			Category: parseCategory(record[typeCol]),
		})
	}
	return entries, nil
}

func parseCategory(s string) core.ThreatCategory {
	switch c := core.ThreatCategory(strings.ToLower(strings.TrimSpace(s))); c {
	case core.CategoryPhishing, core.CategoryDefacement, core.CategoryMalware:
		return c
	default:
		return core.CategoryOther
	}
}

// Database lazily loads the threat list once and keeps it in memory
type Database struct {
	path   string
	logger *zap.Logger

	mu        sync.RWMutex
	loaded    bool
	available bool
	entries   []core.ThreatIntelEntry
}

// NewDatabase creates a database backed by the CSV file at path
func NewDatabase(path string, logger *zap.Logger) *Database {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Database{path: path, logger: logger}
}

// NewStaticDatabase creates an already loaded database from entries
func NewStaticDatabase(entries []core.ThreatIntelEntry) *Database {
	return &Database{
		logger:    zap.NewNop(),
		loaded:    true,
		available: true,
		entries:   entries,
	}
}

// Entries returns the loaded list, loading it on first use.
// A missing or malformed file yields an empty list and available=false.
func (d *Database) Entries() (entries []core.ThreatIntelEntry, available bool) {
	d.mu.RLock()
	if d.loaded {
		entries, available = d.entries, d.available
		d.mu.RUnlock()
		return entries, available
	}
	d.mu.RUnlock()

	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.loaded {
		d.load()
	}
	return d.entries, d.available
}

// Reload forces the file to be read again on next use
func (d *Database) Reload() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.path != "" {
		d.loaded = false
	}
}

func (d *Database) load() {
	d.loaded = true
	d.entries = nil
	d.available = false

	f, err := os.Open(d.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			d.logger.Warn("Threat list not found, URL reputation disabled", zap.String("path", d.path))
		} else {
			d.logger.Error("Failed to open threat list", zap.String("path", d.path), zap.Error(err))
		}
		return
	}
	defer f.Close()

	entries, err := ParseCSV(f)
	if err != nil {
		d.logger.Error("Failed to parse threat list", zap.String("path", d.path), zap.Error(err))
		return
	}

	d.entries = entries
	d.available = true
	d.logger.Info("Loaded threat list", zap.String("path", d.path), zap.Int("entries", len(entries)))
}
