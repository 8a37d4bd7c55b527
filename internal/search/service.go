package search

import (
	"context"
	"fmt"
	"sync"

	"chronicle/annotations/internal/logger"
)

// mirror is the secondary index the SQL index is copied into.
type mirror interface {
	Healthy() bool
	Search(q Query) ([]Result, int, error)
	IndexRecords(records []Record) error
	DeleteKeys(keys []string) error
}

// Service keeps the SQL index authoritative and mirrors it into
// Meilisearch when configured. Searches try Meilisearch first.
//
// Mirror updates run in the background, one document at a time in the
// order they were requested, so an older save never overwrites a newer one.
type Service struct {
	meili mirror
	sql   *SQLIndex
	log   *logger.Logger

	queueMu sync.Mutex
	tails   map[string]chan struct{}
	pending sync.WaitGroup
}

// NewService creates a search service. meili may be nil if Meilisearch is
// not configured.
func NewService(meili *Meili, sql *SQLIndex, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	s := &Service{sql: sql, log: log, tails: make(map[string]chan struct{})}
	if meili != nil {
		s.meili = meili
	}
	return s
}

func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meiliReady() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.log.Warn("meilisearch error, falling back to sql index", "error", err)
	}

	results, total, err := s.sql.Search(ctx, q)
	if err != nil {
		s.log.Error("sql index search failed", "error", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexDocument replaces the indexed annotations of a document. The SQL
// index is updated synchronously; Meilisearch is updated in the background.
func (s *Service) IndexDocument(ctx context.Context, documentID string, records []Record) error {
	previous, err := s.sql.Keys(ctx, documentID)
	if err != nil {
		return err
	}
	if err := s.sql.Replace(ctx, documentID, records); err != nil {
		return fmt.Errorf("index document %s: %w", documentID, err)
	}
	if !s.meiliReady() {
		return nil
	}

	current := make(map[string]struct{}, len(records))
	for _, r := range records {
		current[r.Key] = struct{}{}
	}
	var stale []string
	for _, key := range previous {
		if _, ok := current[key]; !ok {
			stale = append(stale, key)
		}
	}
	s.enqueue(documentID, func() {
		if err := s.meili.IndexRecords(records); err != nil {
			s.log.Warn("meilisearch index failed", "document", documentID, "error", err)
		}
		if err := s.meili.DeleteKeys(stale); err != nil {
			s.log.Warn("meilisearch delete failed", "document", documentID, "error", err)
		}
	})
	return nil
}

// enqueue runs fn after every update queued earlier for documentID.
func (s *Service) enqueue(documentID string, fn func()) {
	s.queueMu.Lock()
	prev := s.tails[documentID]
	done := make(chan struct{})
	s.tails[documentID] = done
	s.queueMu.Unlock()

	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		if prev != nil {
			<-prev
		}
		fn()
		close(done)
		s.queueMu.Lock()
		if s.tails[documentID] == done {
			delete(s.tails, documentID)
		}
		s.queueMu.Unlock()
	}()
}

// Wait blocks until every queued mirror update has run.
func (s *Service) Wait() {
	s.pending.Wait()
}

// ReindexAll pushes every record of the SQL index into Meilisearch.
func (s *Service) ReindexAll(ctx context.Context) (int, error) {
	if !s.meiliReady() {
		return 0, fmt.Errorf("meilisearch not available")
	}
	records, err := s.sql.LoadAll(ctx)
	if err != nil {
		return 0, err
	}
	if err := s.meili.IndexRecords(records); err != nil {
		return 0, fmt.Errorf("reindex: %w", err)
	}
	s.log.Info("search reindexed", "records", len(records))
	return len(records), nil
}

func (s *Service) meiliReady() bool {
	return s.meili != nil && s.meili.Healthy()
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
