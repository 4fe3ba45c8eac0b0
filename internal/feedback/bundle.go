// Package feedback assembles the read side of a conversation: its drafts,
// the other participant, version history and the latest messages.
package feedback

import (
	"context"
	"fmt"
	"sync"
	"time"

	"thesisflow/api/internal/auth"
	"thesisflow/api/internal/metrics"
	"thesisflow/api/internal/store"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// DefaultTimeout bounds a bundle load when the caller passes no timeout.
const DefaultTimeout = 5 * time.Second

type Status string

const (
	StatusComplete Status = "complete"
	StatusPartial  Status = "partial"
	StatusTimedOut Status = "timed_out"
)

const (
	pipelineDrafts      = "drafts"
	pipelineParticipant = "participant"
	pipelineVersions    = "versions"
)

// Records is the read surface the aggregator needs.
type Records interface {
	ListDrafts(ctx context.Context, conversationID string) ([]store.Draft, error)
	ListParticipants(ctx context.Context, conversationID string) ([]store.Participant, error)
	GetUserByID(ctx context.Context, id string) (store.User, error)
	ListVersions(ctx context.Context, draftID string) ([]store.Version, error)
	ListMessages(ctx context.Context, versionID string) ([]store.ChatMessage, error)
	ListConversationsForUser(ctx context.Context, userID string) ([]store.ConversationSummary, error)
	DashboardCounts(ctx context.Context, userID string) (store.DashboardCounts, error)
}

// Bundle is everything the conversation view renders. Fields a pipeline
// could not load hold their neutral value: empty lists, empty map, nil user.
type Bundle struct {
	Drafts           []store.Draft              `json:"drafts"`
	OtherParticipant *store.User                `json:"otherParticipant"`
	VersionsByDraft  map[string][]store.Version `json:"versionsByDraft"`
	LatestMessages   []store.ChatMessage        `json:"latestMessages"`
	Status           Status                     `json:"status"`
	Degraded         bool                       `json:"degraded"`
}

func neutralBundle(status Status) Bundle {
	return Bundle{
		Drafts:          []store.Draft{},
		VersionsByDraft: map[string][]store.Version{},
		LatestMessages:  []store.ChatMessage{},
		Status:          status,
		Degraded:        status != StatusComplete,
	}
}

// TimedOut is the bundle returned when the load could not start before its
// deadline.
func TimedOut() Bundle {
	metrics.BundleLoadsTotal.WithLabelValues(string(StatusTimedOut)).Inc()
	return neutralBundle(StatusTimedOut)
}

type Aggregator struct {
	records Records
	timeout time.Duration
	fanOut  int
}

func NewAggregator(records Records, timeout time.Duration) *Aggregator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Aggregator{records: records, timeout: timeout, fanOut: 8}
}

// LoadConversationBundle never fails. A pipeline that errors contributes its
// neutral value; if the whole load does not finish within timeout every field
// is neutral and outstanding store calls are cancelled.
func (a *Aggregator) LoadConversationBundle(ctx context.Context, conversationID string, viewer auth.Identity, timeout time.Duration) Bundle {
	if timeout <= 0 {
		timeout = a.timeout
	}
	start := time.Now()
	logger := zerolog.Ctx(ctx).With().
		Str("component", "feedback").
		Str("conversation_id", conversationID).
		Logger()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		mu       sync.Mutex
		degraded []string
	)
	fail := func(pipeline string, err error) {
		mu.Lock()
		degraded = append(degraded, pipeline)
		mu.Unlock()
		metrics.BundlePipelineErrors.WithLabelValues(pipeline).Inc()
		logger.Warn().Err(err).Str("pipeline", pipeline).Msg("bundle pipeline degraded")
	}

	result := neutralBundle(StatusComplete)
	draftsReady := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		defer close(draftsReady)
		drafts, err := a.records.ListDrafts(ctx, conversationID)
		if err != nil {
			fail(pipelineDrafts, err)
			return
		}
		result.Drafts = nonNil(drafts)
	}()

	go func() {
		defer wg.Done()
		other, err := a.otherParticipant(ctx, conversationID, viewer.UserID)
		if err != nil {
			fail(pipelineParticipant, err)
			return
		}
		result.OtherParticipant = other
	}()

	go func() {
		defer wg.Done()
		select {
		case <-draftsReady:
		case <-ctx.Done():
			fail(pipelineVersions, ctx.Err())
			return
		}
		versions, latest, err := a.versionsAndMessages(ctx, result.Drafts)
		if err != nil {
			fail(pipelineVersions, err)
			return
		}
		result.VersionsByDraft = versions
		result.LatestMessages = latest
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}
	// Pipelines may still be running; result is only read once they all returned.
	timedOut := ctx.Err() != nil
	if !timedOut {
		<-done
	}

	var bundle Bundle
	switch {
	case timedOut:
		bundle = neutralBundle(StatusTimedOut)
		logger.Warn().Dur("timeout", timeout).Msg("bundle load timed out")
	case len(degraded) > 0:
		bundle = result
		bundle.Status = StatusPartial
		bundle.Degraded = true
	default:
		bundle = result
	}
	metrics.BundleLoadsTotal.WithLabelValues(string(bundle.Status)).Inc()
	metrics.BundleDuration.Observe(time.Since(start).Seconds())
	return bundle
}

func (a *Aggregator) otherParticipant(ctx context.Context, conversationID, viewerID string) (*store.User, error) {
	participants, err := a.records.ListParticipants(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	for _, p := range participants {
		if p.UserID == viewerID {
			continue
		}
		user, err := a.records.GetUserByID(ctx, p.UserID)
		if err != nil {
			return nil, fmt.Errorf("get user: %w", err)
		}
		return &user, nil
	}
	return nil, nil
}

// versionsAndMessages loads every draft's versions concurrently, then the
// messages of the newest version of the newest draft.
func (a *Aggregator) versionsAndMessages(ctx context.Context, drafts []store.Draft) (map[string][]store.Version, []store.ChatMessage, error) {
	lists := make([][]store.Version, len(drafts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.fanOut)
	for i, draft := range drafts {
		g.Go(func() error {
			versions, err := a.records.ListVersions(gctx, draft.ID)
			if err != nil {
				return fmt.Errorf("list versions for %s: %w", draft.ID, err)
			}
			lists[i] = nonNil(versions)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	byDraft := make(map[string][]store.Version, len(drafts))
	for i, draft := range drafts {
		byDraft[draft.ID] = lists[i]
	}
	if len(drafts) == 0 {
		return byDraft, []store.ChatMessage{}, nil
	}
	latestVersions := lists[len(lists)-1]
	if len(latestVersions) == 0 {
		return byDraft, []store.ChatMessage{}, nil
	}
	messages, err := a.records.ListMessages(ctx, latestVersions[len(latestVersions)-1].ID)
	if err != nil {
		return nil, nil, fmt.Errorf("list messages: %w", err)
	}
	return byDraft, nonNil(messages), nil
}

func (a *Aggregator) ListConversations(ctx context.Context, viewer auth.Identity) ([]store.ConversationSummary, error) {
	items, err := a.records.ListConversationsForUser(ctx, viewer.UserID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return nonNil(items), nil
}

func (a *Aggregator) Dashboard(ctx context.Context, viewer auth.Identity) (store.DashboardCounts, error) {
	counts, err := a.records.DashboardCounts(ctx, viewer.UserID)
	if err != nil {
		return store.DashboardCounts{}, fmt.Errorf("dashboard counts: %w", err)
	}
	return counts, nil
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
