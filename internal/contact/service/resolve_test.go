package service_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"identify/internal/contact/cache"
	"identify/internal/contact/metrics"
	"identify/internal/contact/models"
	"identify/internal/contact/service"
	"identify/internal/contact/store"
	dErrors "identify/pkg/domain-errors"
	"identify/pkg/platform/circuit"
	"identify/pkg/requestcontext"
)

// countingStore records how often the resolver reaches the store.
type countingStore struct {
	*store.InMemoryStore
	calls atomic.Int32
}

func (s *countingStore) FindMatching(ctx context.Context, email, phone string) ([]*models.Contact, error) {
	s.calls.Add(1)
	return s.InMemoryStore.FindMatching(ctx, email, phone)
}

func (s *countingStore) FindCluster(ctx context.Context, primaryID int64, candidates []int64) ([]*models.Contact, error) {
	s.calls.Add(1)
	return s.InMemoryStore.FindCluster(ctx, primaryID, candidates)
}

func (s *countingStore) Create(ctx context.Context, nc models.NewContact) (*models.Contact, error) {
	s.calls.Add(1)
	return s.InMemoryStore.Create(ctx, nc)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.ContactEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e models.ContactEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

type brokenCache struct{}

func (brokenCache) Get(context.Context, string) (string, bool, error) {
	return "", false, errors.New("dial tcp: connection refused")
}
func (brokenCache) Set(context.Context, string, string, time.Duration) error {
	return errors.New("dial tcp: connection refused")
}
func (brokenCache) Index(context.Context, int64, string, time.Duration) error {
	return errors.New("dial tcp: connection refused")
}
func (brokenCache) Invalidate(context.Context, int64) error {
	return errors.New("dial tcp: connection refused")
}

type ResolverSuite struct {
	suite.Suite
	ctx     context.Context
	clock   time.Time
	store   *countingStore
	cache   *cache.InMemoryCache
	metrics *metrics.Metrics
	events  *recordingPublisher
	logger  *slog.Logger
	svc     *service.Service
}

func TestResolverSuite(t *testing.T) {
	suite.Run(t, new(ResolverSuite))
}

func (s *ResolverSuite) SetupTest() {
	s.ctx = requestcontext.WithRequestID(context.Background(), "req-test")
	s.clock = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.store = &countingStore{InMemoryStore: store.NewInMemory(store.WithClock(s.tick))}
	s.cache = cache.NewInMemory(nil)
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.events = &recordingPublisher{}
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	s.svc = s.newService()
}

func (s *ResolverSuite) newService(opts ...service.Option) *service.Service {
	base := []service.Option{
		service.WithLocker(s.store.InMemoryStore),
		service.WithMetrics(s.metrics),
		service.WithPublisher(s.events),
		service.WithLogger(s.logger),
	}
	return service.New(s.store, s.cache, append(base, opts...)...)
}

// tick hands out strictly increasing creation times.
func (s *ResolverSuite) tick() time.Time {
	s.clock = s.clock.Add(time.Second)
	return s.clock
}

func (s *ResolverSuite) resolve(email, phone string) *models.IdentityView {
	view, err := s.svc.Resolve(s.ctx, email, phone)
	s.Require().NoError(err)
	return view
}

func (s *ResolverSuite) outcome(o models.Outcome) float64 {
	return testutil.ToFloat64(s.metrics.ResolveOutcomes.WithLabelValues(string(o)))
}

func ptr[T any](v T) *T { return &v }

func (s *ResolverSuite) TestNewIdentityCreatesPrimary() {
	view := s.resolve("a@x.com", "")

	s.Equal([]string{"a@x.com"}, view.Emails)
	s.Empty(view.PhoneNumbers)
	s.NotNil(view.PhoneNumbers)
	s.Empty(view.SecondaryContactIDs)
	s.NotNil(view.SecondaryContactIDs)

	all := s.store.All()
	s.Require().Len(all, 1)
	s.True(all[0].IsPrimary())
	s.Equal(all[0].ID, view.PrimaryContactID)
	s.Equal(1.0, s.outcome(models.OutcomeNewPrimary))

	s.Require().Len(s.events.events, 1)
	s.Equal(models.EventContactCreated, s.events.events[0].Type)
	s.Equal("req-test", s.events.events[0].RequestID)
}

func (s *ResolverSuite) TestExactRepeatIsServedFromCache() {
	first := s.resolve("a@x.com", "")
	callsAfterFirst := s.store.calls.Load()

	second := s.resolve("a@x.com", "")

	s.Equal(first, second)
	s.Equal(callsAfterFirst, s.store.calls.Load(), "cache hit must not touch the store")
	s.Equal(1.0, s.outcome(models.OutcomeCacheHit))
}

func (s *ResolverSuite) TestNewInformationMergesAsSecondary() {
	primary := s.resolve("a@x.com", "111")

	view := s.resolve("a@x.com", "222")

	s.Equal(primary.PrimaryContactID, view.PrimaryContactID)
	s.Equal([]string{"a@x.com"}, view.Emails)
	s.Equal([]string{"111", "222"}, view.PhoneNumbers)
	s.Require().Len(view.SecondaryContactIDs, 1)

	all := s.store.All()
	s.Require().Len(all, 2)
	s.Equal(models.PrecedenceSecondary, all[1].LinkPrecedence)
	s.Equal(primary.PrimaryContactID, *all[1].LinkedID)
	s.Equal(1.0, s.outcome(models.OutcomeNewSecondary))

	s.Require().Len(s.events.events, 2)
	s.Equal(primary.PrimaryContactID, s.events.events[1].PrimaryID)
}

func (s *ResolverSuite) TestCoveredRequestDoesNotMutate() {
	s.store.Seed(&models.Contact{
		ID:             1,
		Email:          ptr("a@x.com"),
		PhoneNumber:    ptr("111"),
		LinkPrecedence: models.PrecedencePrimary,
		CreatedAt:      s.tick(),
	})

	view := s.resolve("a@x.com", "111")

	s.Equal(int64(1), view.PrimaryContactID)
	s.Empty(view.SecondaryContactIDs)
	s.Equal(1, s.store.Count())
	s.Equal(1.0, s.outcome(models.OutcomeUnchanged))
	s.Empty(s.events.events)
}

func (s *ResolverSuite) TestPartialRequestAgainstClusterIsCovered() {
	s.resolve("a@x.com", "111")

	view := s.resolve("", "111")

	s.Equal([]string{"a@x.com"}, view.Emails)
	s.Equal(1, s.store.Count(), "absent email counts as already covered")
}

func (s *ResolverSuite) TestPrimaryFlaggedMatchWinsOverEarlierSecondary() {
	s.store.Seed(
		&models.Contact{ID: 1, Email: ptr("old@x.io"), LinkPrecedence: models.PrecedencePrimary, CreatedAt: s.tick()},
		&models.Contact{ID: 2, Email: ptr("a@x.com"), LinkPrecedence: models.PrecedenceSecondary, LinkedID: ptr(int64(1)), CreatedAt: s.tick()},
		&models.Contact{ID: 3, PhoneNumber: ptr("555"), LinkPrecedence: models.PrecedencePrimary, CreatedAt: s.tick()},
	)

	view := s.resolve("a@x.com", "555")

	s.Equal(int64(3), view.PrimaryContactID)
	s.NotContains(view.SecondaryContactIDs, int64(3))
	s.Equal(1.0, testutil.ToFloat64(s.metrics.ClusterConflicts))
}

func (s *ResolverSuite) TestSecondaryOnlyMatchAnchorsOnItsPrimary() {
	s.store.Seed(
		&models.Contact{ID: 2, Email: ptr("s@x.io"), LinkPrecedence: models.PrecedenceSecondary, LinkedID: ptr(int64(5)), CreatedAt: s.tick()},
		&models.Contact{ID: 5, Email: ptr("p@x.io"), PhoneNumber: ptr("900"), LinkPrecedence: models.PrecedencePrimary, CreatedAt: s.tick()},
	)

	view := s.resolve("s@x.io", "")

	s.Equal(int64(5), view.PrimaryContactID)
	s.Equal([]string{"p@x.io", "s@x.io"}, view.Emails, "primary email leads regardless of creation order")
	s.Equal([]string{"900"}, view.PhoneNumbers)
	s.Equal([]int64{2}, view.SecondaryContactIDs)
	s.Zero(testutil.ToFloat64(s.metrics.ClusterConflicts))
}

func (s *ResolverSuite) TestOrderingPutsPrimaryValuesFirst() {
	s.resolve("a@x.com", "111")
	s.resolve("b@x.com", "111")
	view := s.resolve("b@x.com", "222")

	s.Equal([]string{"a@x.com", "b@x.com"}, view.Emails)
	s.Equal([]string{"111", "222"}, view.PhoneNumbers)
	s.Len(view.SecondaryContactIDs, 2)
}

func (s *ResolverSuite) TestRepeatedCoveredResolutionIsIdempotent() {
	s.resolve("a@x.com", "111")
	merged := s.resolve("a@x.com", "222")
	want := len(merged.SecondaryContactIDs)

	pairs := [][2]string{{"a@x.com", ""}, {"", "111"}, {"", "222"}, {"a@x.com", "111"}, {"a@x.com", "222"}}
	for round := 0; round < 3; round++ {
		for _, p := range pairs {
			view := s.resolve(p[0], p[1])
			s.Len(view.SecondaryContactIDs, want, "pair %v round %d", p, round)
		}
	}
	s.Equal(2, s.store.Count())
}

func (s *ResolverSuite) TestMissingBothIdentifiersIsRejected() {
	view, err := s.svc.Resolve(s.ctx, "", "")

	s.Nil(view)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	s.Zero(s.store.calls.Load())
	s.Zero(s.cache.Len())
}

func (s *ResolverSuite) TestSoftDeletedContactsAreIgnored() {
	deletedAt := s.tick()
	s.store.Seed(&models.Contact{
		ID:             1,
		Email:          ptr("a@x.com"),
		LinkPrecedence: models.PrecedencePrimary,
		CreatedAt:      s.tick(),
		DeletedAt:      &deletedAt,
	})

	view := s.resolve("a@x.com", "")

	s.NotEqual(int64(1), view.PrimaryContactID)
	s.Equal(1.0, s.outcome(models.OutcomeNewPrimary))
}

func (s *ResolverSuite) TestSecondariesOfDeletedPrimaryStartNewCluster() {
	deletedAt := s.tick()
	s.store.Seed(
		&models.Contact{
			ID:             5,
			Email:          ptr("p@x.io"),
			LinkPrecedence: models.PrecedencePrimary,
			CreatedAt:      s.tick(),
			DeletedAt:      &deletedAt,
		},
		&models.Contact{
			ID:             6,
			Email:          ptr("s@x.io"),
			PhoneNumber:    ptr("111"),
			LinkPrecedence: models.PrecedenceSecondary,
			LinkedID:       ptr(int64(5)),
			CreatedAt:      s.tick(),
		},
	)

	view := s.resolve("s@x.io", "999")

	s.NotEqual(int64(6), view.PrimaryContactID, "a secondary never anchors a cluster")
	s.Equal([]string{"s@x.io"}, view.Emails)
	s.Equal([]string{"999"}, view.PhoneNumbers)
	s.Empty(view.SecondaryContactIDs)
	s.Equal(1.0, s.outcome(models.OutcomeNewPrimary))
	s.assertClustersFlat()

	again := s.resolve("s@x.io", "")
	s.Equal(view.PrimaryContactID, again.PrimaryContactID, "the new primary now anchors the match")
	s.assertClustersFlat()
}

// assertClustersFlat checks every live secondary links to a primary.
func (s *ResolverSuite) assertClustersFlat() {
	byID := map[int64]*models.Contact{}
	for _, c := range s.store.All() {
		byID[c.ID] = c
	}
	for _, c := range byID {
		if c.LinkedID == nil || c.DeletedAt != nil {
			continue
		}
		target, ok := byID[*c.LinkedID]
		s.Require().True(ok, "contact %d links to missing %d", c.ID, *c.LinkedID)
		s.True(target.IsPrimary(), "contact %d links to non-primary %d", c.ID, target.ID)
	}
}

func (s *ResolverSuite) TestPairsDifferingOnlyBySeparatorResolveSeparately() {
	first := s.resolve("a", "b:c")
	second := s.resolve("a:b", "c")

	s.NotEqual(first.PrimaryContactID, second.PrimaryContactID)
	s.Equal([]string{"a:b"}, second.Emails)
	s.Equal([]string{"c"}, second.PhoneNumbers)
	s.Equal(2, s.store.Count())
	s.Equal(2.0, s.outcome(models.OutcomeNewPrimary))
}

func (s *ResolverSuite) TestStaleVariantWithoutInvalidation() {
	s.resolve("a@x.com", "111")
	s.resolve("", "111")
	s.resolve("a@x.com", "222")

	view := s.resolve("", "111")

	s.Equal([]string{"111"}, view.PhoneNumbers, "cached variant stays until its ttl")
}

func (s *ResolverSuite) TestMergeInvalidatesClusterViews() {
	s.svc = s.newService(service.WithInvalidateOnMerge(true))
	s.resolve("a@x.com", "111")
	s.resolve("", "111")
	s.resolve("a@x.com", "222")

	view := s.resolve("", "111")

	s.Equal([]string{"111", "222"}, view.PhoneNumbers)
}

func (s *ResolverSuite) TestConcurrentNewIdentityYieldsOnePrimary() {
	const goroutines = 20
	var wg sync.WaitGroup
	var failures atomic.Int32

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			phone := ""
			if idx%2 == 1 {
				phone = "777"
			}
			if _, err := s.svc.Resolve(s.ctx, "race@x.io", phone); err != nil {
				failures.Add(1)
			}
		}(i)
	}
	wg.Wait()

	s.Zero(failures.Load())
	primaries := 0
	for _, c := range s.store.All() {
		if c.IsPrimary() {
			primaries++
		}
	}
	s.Equal(1, primaries)
	s.LessOrEqual(s.store.Count(), 2)
}

func (s *ResolverSuite) TestFailingCacheNeverFailsResolve() {
	cb := circuit.New("contact-cache", circuit.WithFailureThreshold(3))
	guarded := cache.NewBreaker(brokenCache{}, cb, s.logger)
	svc := service.New(s.store, guarded, service.WithMetrics(s.metrics), service.WithLogger(s.logger))

	for i := 0; i < 5; i++ {
		_, err := svc.Resolve(s.ctx, "a@x.com", "")
		s.Require().NoError(err)
	}

	s.True(cb.IsOpen())
	s.Equal(1, s.store.Count())
	s.Greater(testutil.ToFloat64(s.metrics.CacheErrors.WithLabelValues("get")), 0.0)
}

func (s *ResolverSuite) TestPublishFailureIsCountedNotReturned() {
	s.events.err = errors.New("broker not available")

	_, err := s.svc.Resolve(s.ctx, "a@x.com", "")

	s.Require().NoError(err)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.EventPublishFailures))
}
