package search

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
	"go.uber.org/zap"
)

const (
	idxGroups     = "marginalia_groups"
	defaultLimit  = 20
	listPageLimit = 1000
)

// Meili implements Backend via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	logger  *zap.Logger
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the groups index. An
// unreachable server is not an error: the health loop keeps probing and the
// service falls back to in-process matching meanwhile.
func NewMeili(url, apiKey string, logger *zap.Logger) *Meili {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Meili{
		client: meili.New(url, meili.WithAPIKey(apiKey)),
		logger: logger.Named("meili"),
		done:   make(chan struct{}),
	}

	if _, err := m.client.Health(); err != nil {
		m.logger.Warn("meilisearch unavailable", zap.String("url", url), zap.Error(err))
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{Uid: idxGroups, PrimaryKey: "id"}); err != nil {
		m.logger.Debug("create index (may already exist)", zap.String("index", idxGroups), zap.Error(err))
	}

	index := m.client.Index(idxGroups)
	filterable := []interface{}{"conceptId"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		m.logger.Warn("update filterable attributes", zap.Error(err))
	}
	searchable := []string{"title", "description"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		m.logger.Warn("update searchable attributes", zap.Error(err))
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
				m.logger.Info("meilisearch recovered, reconfiguring index")
				m.configureIndex()
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

func conceptFilter(conceptID string) []string {
	return []string{fmt.Sprintf("conceptId = %q", conceptID)}
}

func (m *Meili) Search(q Query) ([]Hit, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}
	limit := int64(q.Limit)
	if limit <= 0 {
		limit = defaultLimit
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: []*meili.SearchRequest{{
			IndexUID:              idxGroups,
			Query:                 q.Text,
			Limit:                 limit,
			Filter:                conceptFilter(q.ConceptID),
			AttributesToHighlight: []string{"description"},
			HighlightPreTag:       "<mark>",
			HighlightPostTag:      "</mark>",
		}},
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch multi-search: %w", err)
	}

	var hits []Hit
	total := 0
	for _, sr := range resp.Results {
		total += int(sr.EstimatedTotalHits)
		for _, hit := range sr.Hits {
			hits = append(hits, Hit{
				GroupID:     decodeString(hit, "groupId"),
				Title:       decodeString(hit, "title"),
				Description: decodeString(hit, "description"),
				Snippet:     decodeFormattedString(hit, "description"),
			})
		}
	}
	return hits, total, nil
}

// ConceptGroupIDs lists the record ids currently indexed for a concept.
func (m *Meili) ConceptGroupIDs(conceptID string) ([]string, error) {
	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: []*meili.SearchRequest{{
			IndexUID:             idxGroups,
			Limit:                listPageLimit,
			Filter:               conceptFilter(conceptID),
			AttributesToRetrieve: []string{"id"},
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("list indexed groups: %w", err)
	}
	var ids []string
	for _, sr := range resp.Results {
		for _, hit := range sr.Hits {
			if id := decodeString(hit, "id"); id != "" {
				ids = append(ids, id)
			}
		}
	}
	return ids, nil
}

func (m *Meili) IndexGroups(records []GroupRecord) error {
	if len(records) == 0 {
		return nil
	}
	_, err := m.client.Index(idxGroups).AddDocuments(records, nil)
	return err
}

func (m *Meili) DeleteGroups(ids []string) error {
	index := m.client.Index(idxGroups)
	for _, id := range ids {
		if _, err := index.DeleteDocument(id, nil); err != nil {
			return fmt.Errorf("delete group %s: %w", id, err)
		}
	}
	return nil
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
	var formatted meili.Hit
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	return strings.TrimSpace(decodeString(formatted, key))
}
