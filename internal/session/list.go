package session

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// SortOrder controls the ordering of ListSessions results.
type SortOrder string

const (
	SortAscending  SortOrder = "asc"
	SortDescending SortOrder = "desc"
)

// ListOptions parameterizes ListSessions (spec §4.2 listSessions).
type ListOptions struct {
	FromTime    time.Time
	ToTime      time.Time
	SortOrder   SortOrder
	Limit       int
	Concurrency int
}

// Summary is one entry in a ListSessions result: a session ID plus its
// metadata probe.
type Summary struct {
	SessionID string
	Metadata  Metadata
}

// ListSessions walks only the hour-directories whose timestamp overlaps
// [FromTime, ToTime], parses session IDs from filenames, and reads each
// session's metadata probe with bounded concurrency (spec §4.2
// listSessions).
func (r *Registry) ListSessions(ctx context.Context, opts ListOptions) ([]Summary, error) {
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 8
	}

	ids, err := r.discoverSessionIDs(opts.FromTime, opts.ToTime)
	if err != nil {
		return nil, err
	}

	results := make([]Summary, len(ids))
	errs := make([]error, len(ids))

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, id string) {
			defer wg.Done()
			defer func() { <-sem }()
			md, err := r.GetMetadata(ctx, id)
			if err != nil {
				errs[i] = err
				return
			}
			results[i] = Summary{SessionID: id, Metadata: md}
		}(i, id)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	sort.Slice(results, func(i, j int) bool {
		if opts.SortOrder == SortDescending {
			return results[i].SessionID > results[j].SessionID
		}
		return results[i].SessionID < results[j].SessionID
	})

	if opts.Limit > 0 && len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

// discoverSessionIDs walks only the hour-directories under baseDir whose
// YYYY/MM/DD/HH path overlaps [from, to], returning the session IDs found
// (spec §4.2 "walk only the hour-directories overlapping the date range").
func (r *Registry) discoverSessionIDs(from, to time.Time) ([]string, error) {
	var ids []string
	for hour := truncateToHour(from); !hour.After(to); hour = hour.Add(time.Hour) {
		dir := filepath.Join(
			r.baseDir,
			hour.Format("2006"),
			hour.Format("01"),
			hour.Format("02"),
			hour.Format("15"),
		)
		entries, err := os.ReadDir(dir)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			name := entry.Name()
			if !strings.HasSuffix(name, ".jsonl") {
				continue
			}
			id := strings.TrimSuffix(name, ".jsonl")
			t, err := parseSessionTime(id)
			if err != nil {
				continue
			}
			if t.Before(from) || t.After(to) {
				continue
			}
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func truncateToHour(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, time.UTC)
}
