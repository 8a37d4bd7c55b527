package search

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"

	"chronicle/annotations/internal/logger"
)

const (
	idxThreads     = "annotations_threads"
	idxSuggestions = "annotations_suggestions"
)

// Meili indexes annotation records in Meilisearch, one index per kind.
type Meili struct {
	client  meili.ServiceManager
	log     *logger.Logger
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures indexes. An
// unreachable server leaves the client unhealthy until the health loop
// sees it come back.
func NewMeili(url, apiKey string, log *logger.Logger) *Meili {
	if log == nil {
		log = logger.Nop()
	}
	m := &Meili{
		client: meili.New(url, meili.WithAPIKey(apiKey)),
		log:    log.With("component", "meilisearch"),
		done:   make(chan struct{}),
	}

	if _, err := m.client.Health(); err != nil {
		m.log.Warn("meilisearch unavailable", "url", url, "error", err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndexes()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndexes() {
	filterable := []string{"documentId", "fieldPath", "kind", "status"}
	searchable := []string{"title", "body", "author"}
	for _, uid := range []string{idxThreads, idxSuggestions} {
		if _, err := m.client.CreateIndex(&meili.IndexConfig{Uid: uid, PrimaryKey: "key"}); err != nil {
			m.log.Debug("create index (may already exist)", "index", uid, "error", err)
		}

		index := m.client.Index(uid)
		filterableInterface := make([]interface{}, len(filterable))
		for i, v := range filterable {
			filterableInterface[i] = v
		}
		if _, err := index.UpdateFilterableAttributes(&filterableInterface); err != nil {
			m.log.Warn("update filterable attributes", "index", uid, "error", err)
		}
		if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
			m.log.Warn("update searchable attributes", "index", uid, "error", err)
		}
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				m.log.Info("meilisearch recovered, reconfiguring indexes")
				m.configureIndexes()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

func (m *Meili) Search(q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	var queries []*meili.SearchRequest
	for _, target := range []struct {
		uid  string
		kind Kind
	}{
		{idxThreads, KindThread},
		{idxSuggestions, KindSuggestion},
	} {
		if q.Kind != "" && q.Kind != target.kind {
			continue
		}
		sr := &meili.SearchRequest{
			IndexUID:              target.uid,
			Query:                 q.Text,
			Limit:                 int64(q.limit()),
			Offset:                int64(q.offset()),
			AttributesToHighlight: []string{"*"},
			HighlightPreTag:       "<mark>",
			HighlightPostTag:      "</mark>",
		}
		if q.DocumentID != "" {
			sr.Filter = []string{fmt.Sprintf("documentId = %q", q.DocumentID)}
		}
		queries = append(queries, sr)
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{Queries: queries})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch multi-search: %w", err)
	}

	var results []Result
	total := 0
	for _, sr := range resp.Results {
		total += int(sr.EstimatedTotalHits)
		kind := indexKind(sr.IndexUID)
		for _, hit := range sr.Hits {
			results = append(results, hitToResult(hit, kind))
		}
	}
	return results, total, nil
}

// IndexRecords adds or replaces records, routed to their kind's index.
func (m *Meili) IndexRecords(records []Record) error {
	var threads, suggestions []Record
	for _, r := range records {
		if r.Kind == KindSuggestion {
			suggestions = append(suggestions, r)
		} else {
			threads = append(threads, r)
		}
	}
	if len(threads) > 0 {
		if _, err := m.client.Index(idxThreads).AddDocuments(threads, nil); err != nil {
			return fmt.Errorf("index threads: %w", err)
		}
	}
	if len(suggestions) > 0 {
		if _, err := m.client.Index(idxSuggestions).AddDocuments(suggestions, nil); err != nil {
			return fmt.Errorf("index suggestions: %w", err)
		}
	}
	return nil
}

// DeleteKeys removes records by key from both indexes.
func (m *Meili) DeleteKeys(keys []string) error {
	for _, key := range keys {
		for _, uid := range []string{idxThreads, idxSuggestions} {
			if _, err := m.client.Index(uid).DeleteDocument(key, nil); err != nil {
				return fmt.Errorf("delete %s from %s: %w", key, uid, err)
			}
		}
	}
	return nil
}

func indexKind(uid string) Kind {
	switch uid {
	case idxThreads:
		return KindThread
	case idxSuggestions:
		return KindSuggestion
	default:
		return ""
	}
}

func hitToResult(hit meili.Hit, kind Kind) Result {
	return Result{
		Kind:       kind,
		ID:         decodeString(hit, "recordId"),
		DocumentID: decodeString(hit, "documentId"),
		FieldPath:  decodeString(hit, "fieldPath"),
		Title:      firstNonBlank(decodeFormattedString(hit, "title"), decodeString(hit, "title")),
		Snippet:    firstNonBlank(decodeFormattedString(hit, "body"), decodeString(hit, "body")),
		Status:     decodeString(hit, "status"),
	}
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]string
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	return strings.TrimSpace(formatted[key])
}
