package search

import (
	"context"
	"strings"

	"thesisflow/api/internal/logging"
	"thesisflow/api/internal/store"
)

// Service tries Meilisearch first and falls back to the Record Store.
type Service struct {
	meili     *Meili
	directory Directory
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, directory Directory) *Service {
	return &Service{meili: meili, directory: directory}
}

func (s *Service) Search(ctx context.Context, q Query) Response {
	q.Text = strings.TrimSpace(q.Text)
	q.Department = strings.TrimSpace(q.Department)
	if s.meili != nil && s.meili.Healthy() {
		records, total, err := s.meili.Search(q)
		if err == nil {
			users := make([]store.User, 0, len(records))
			for _, r := range records {
				users = append(users, r.user())
			}
			return Response{Results: users, Total: total, Query: q.Text, Source: SourceMeili}
		}
		lg := logging.Component("search")
		lg.Warn().Err(err).Msg("meilisearch error, falling back to postgres")
	}

	users, err := s.directory.SearchAdvisers(ctx, q.Text, q.Department, q.Limit)
	if err != nil {
		lg := logging.Component("search")
		lg.Error().Err(err).Msg("adviser directory search")
		return Response{Results: []store.User{}, Query: q.Text, Source: SourcePostgres}
	}
	if users == nil {
		users = []store.User{}
	}
	return Response{Results: users, Total: len(users), Query: q.Text, Source: SourcePostgres}
}

// IndexUser keeps the index in line with a saved profile: advisers are
// upserted, anyone else is removed (fire-and-forget).
func (s *Service) IndexUser(u store.User) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		var err error
		if u.Role == "adviser" {
			err = s.meili.IndexAdvisers([]AdviserRecord{recordFromUser(u)})
		} else {
			err = s.meili.DeleteAdviser(u.ID)
		}
		if err != nil {
			lg := logging.Component("search")
			lg.Warn().Err(err).Str("user_id", u.ID).Msg("index user")
		}
	}()
}

// ReindexAll pushes every adviser from the Record Store into Meilisearch.
func (s *Service) ReindexAll(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	advisers, err := s.directory.ListAdvisers(ctx)
	if err != nil {
		lg := logging.Component("search")
		lg.Warn().Err(err).Msg("reindex load failed")
		return
	}
	records := make([]AdviserRecord, 0, len(advisers))
	for _, u := range advisers {
		records = append(records, recordFromUser(u))
	}
	if err := s.meili.IndexAdvisers(records); err != nil {
		lg := logging.Component("search")
		lg.Warn().Err(err).Msg("reindex advisers")
		return
	}
	lg := logging.Component("search")
	lg.Info().Int("advisers", len(records)).Msg("adviser index rebuilt")
}

func (s *Service) Close() {
	if s.meili != nil {
		s.meili.Close()
	}
}
