// Package store keeps recent error records in memory and mirrors every
// record and chat turn to append-only JSON-lines files.
package store

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"nycmg-backend/internal/apperr"
	"nycmg-backend/internal/models"
)

const (
	defaultMaxErrors     = 1000
	defaultRetentionDays = 7
	topFingerprintLimit  = 5
)

type Options struct {
	// Path of the errors JSON-lines file; empty disables the file sink.
	Path          string
	MaxErrors     int
	RetentionDays int
}

// ErrorStore is the in-memory list of recent error records, oldest first.
type ErrorStore struct {
	mu        sync.RWMutex
	records   []*models.ErrorRecord
	byID      map[uuid.UUID]*models.ErrorRecord
	maxErrors int
	retention time.Duration
	sink      *jsonLines
	now       func() time.Time
}

func NewErrorStore(opts Options) (*ErrorStore, error) {
	if opts.MaxErrors <= 0 {
		opts.MaxErrors = defaultMaxErrors
	}
	if opts.RetentionDays <= 0 {
		opts.RetentionDays = defaultRetentionDays
	}

	s := &ErrorStore{
		records:   make([]*models.ErrorRecord, 0, min(opts.MaxErrors, 128)),
		byID:      make(map[uuid.UUID]*models.ErrorRecord),
		maxErrors: opts.MaxErrors,
		retention: time.Duration(opts.RetentionDays) * 24 * time.Hour,
		now:       time.Now,
	}

	if opts.Path != "" {
		sink, err := openJSONLines(opts.Path)
		if err != nil {
			return nil, err
		}
		s.sink = sink
	}
	return s, nil
}

// Add appends rec, evicting the oldest record when the cap is reached.
// The record is kept in memory even if the file write fails.
func (s *ErrorStore) Add(rec *models.ErrorRecord) error {
	s.mu.Lock()
	if len(s.records) >= s.maxErrors {
		evicted := s.records[0]
		delete(s.byID, evicted.ID)
		s.records = s.records[1:]
	}
	s.records = append(s.records, rec)
	s.byID[rec.ID] = rec
	s.mu.Unlock()

	if s.sink != nil {
		return s.sink.append(rec)
	}
	return nil
}

// Replace swaps the stored record with the same ID for rec. It reports false
// when the record is no longer held.
func (s *ErrorStore) Replace(rec *models.ErrorRecord) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[rec.ID]; !ok {
		return false
	}
	for i, r := range s.records {
		if r.ID == rec.ID {
			s.records[i] = rec
			break
		}
	}
	s.byID[rec.ID] = rec
	return true
}

func (s *ErrorStore) Get(id uuid.UUID) (*models.ErrorRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.byID[id]
	return rec, ok
}

// Recent returns up to limit records, newest first.
func (s *ErrorStore) Recent(limit int) []*models.ErrorRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := len(s.records)
	if limit <= 0 || limit > total {
		limit = total
	}
	result := make([]*models.ErrorRecord, limit)
	for i := 0; i < limit; i++ {
		result[i] = s.records[total-1-i]
	}
	return result
}

func (s *ErrorStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Stats aggregates the records currently held.
func (s *ErrorStore) Stats() models.ErrorStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := models.ErrorStats{
		Total:      len(s.records),
		BySeverity: make(map[apperr.Severity]int, len(apperr.Severities)),
		ByKind:     make(map[apperr.Kind]int, len(apperr.Kinds)),
	}
	for _, sev := range apperr.Severities {
		stats.BySeverity[sev] = 0
	}

	since := s.now().Add(-24 * time.Hour)
	groups := make(map[string]*models.FingerprintCount)
	for _, rec := range s.records {
		stats.BySeverity[rec.Severity]++
		stats.ByKind[rec.Kind]++
		if rec.Timestamp.After(since) {
			stats.Last24h++
		}
		if rec.Fingerprint == "" {
			continue
		}
		g, ok := groups[rec.Fingerprint]
		if !ok {
			g = &models.FingerprintCount{Fingerprint: rec.Fingerprint, Kind: rec.Kind, Message: rec.Message}
			groups[rec.Fingerprint] = g
		}
		g.Count++
	}

	top := make([]models.FingerprintCount, 0, len(groups))
	for _, g := range groups {
		top = append(top, *g)
	}
	sort.Slice(top, func(i, j int) bool {
		if top[i].Count != top[j].Count {
			return top[i].Count > top[j].Count
		}
		return top[i].Fingerprint < top[j].Fingerprint
	})
	if len(top) > topFingerprintLimit {
		top = top[:topFingerprintLimit]
	}
	stats.TopFingerprints = top

	return stats
}

// Prune drops records older than the retention window and returns how many
// were removed.
func (s *ErrorStore) Prune() int {
	cutoff := s.now().Add(-s.retention)

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.records[:0]
	removed := 0
	for _, rec := range s.records {
		if rec.Timestamp.Before(cutoff) {
			delete(s.byID, rec.ID)
			removed++
			continue
		}
		kept = append(kept, rec)
	}
	for i := len(kept); i < len(s.records); i++ {
		s.records[i] = nil
	}
	s.records = kept
	return removed
}

func (s *ErrorStore) Close() error {
	if s.sink == nil {
		return nil
	}
	return s.sink.close()
}
