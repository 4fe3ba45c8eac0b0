package search

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"thesisflow/api/internal/logging"

	meili "github.com/meilisearch/meilisearch-go"
)

const idxAdvisers = "thesisflow_advisers"

// Meili indexes advisers in Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili connects to Meilisearch and configures the adviser index. An
// unreachable server is not an error: the client reports unhealthy and keeps
// probing in the background.
func NewMeili(url, apiKey string) *Meili {
	m := &Meili{
		client: meili.New(url, meili.WithAPIKey(apiKey)),
		done:   make(chan struct{}),
	}
	if _, err := m.client.Health(); err != nil {
		lg := logging.Component("search")
		lg.Warn().Err(err).Str("url", url).Msg("meilisearch unavailable")
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}
	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{Uid: idxAdvisers, PrimaryKey: "id"}); err != nil {
		lg := logging.Component("search")
		lg.Debug().Err(err).Msg("create adviser index (may already exist)")
	}
	index := m.client.Index(idxAdvisers)
	filterable := []interface{}{"department"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		lg := logging.Component("search")
		lg.Warn().Err(err).Msg("update filterable attributes")
	}
	searchable := []string{"firstName", "lastName"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		lg := logging.Component("search")
		lg.Warn().Err(err).Msg("update searchable attributes")
	}
	sortable := []string{"lastName", "firstName"}
	if _, err := index.UpdateSortableAttributes(&sortable); err != nil {
		lg := logging.Component("search")
		lg.Warn().Err(err).Msg("update sortable attributes")
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
				lg := logging.Component("search")
				lg.Info().Msg("meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

func (m *Meili) Close() {
	close(m.done)
}

func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Search matches advisers by name, ordered by last name.
func (m *Meili) Search(q Query) ([]AdviserRecord, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}
	limit := int64(q.Limit)
	if limit <= 0 {
		limit = 20
	}
	req := &meili.SearchRequest{
		IndexUID: idxAdvisers,
		Query:    strings.TrimSpace(q.Text),
		Limit:    limit,
		Sort:     []string{"lastName:asc", "firstName:asc"},
	}
	if dept := strings.TrimSpace(q.Department); dept != "" {
		req.Filter = []string{departmentFilter(dept)}
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{Queries: []*meili.SearchRequest{req}})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch search: %w", err)
	}
	var (
		records []AdviserRecord
		total   int
	)
	for _, result := range resp.Results {
		total += int(result.EstimatedTotalHits)
		for _, hit := range result.Hits {
			records = append(records, AdviserRecord{
				ID:         decodeString(hit, "id"),
				Email:      decodeString(hit, "email"),
				FirstName:  decodeString(hit, "firstName"),
				LastName:   decodeString(hit, "lastName"),
				Department: decodeString(hit, "department"),
			})
		}
	}
	return records, total, nil
}

func (m *Meili) IndexAdvisers(records []AdviserRecord) error {
	if len(records) == 0 {
		return nil
	}
	_, err := m.client.Index(idxAdvisers).AddDocuments(records, nil)
	return err
}

func (m *Meili) DeleteAdviser(id string) error {
	_, err := m.client.Index(idxAdvisers).DeleteDocument(id, nil)
	return err
}

// departmentFilter builds a Meilisearch equality filter with the value quoted.
func departmentFilter(dept string) string {
	escaped := strings.ReplaceAll(dept, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `"`, `\"`)
	return `department = "` + escaped + `"`
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
