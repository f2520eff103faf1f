package service

import (
	"context"
	"encoding/json"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"identify/internal/contact/cache"
	"identify/internal/contact/models"
	dErrors "identify/pkg/domain-errors"
	"identify/pkg/platform/strings"
	"identify/pkg/requestcontext"
)

type resolution struct {
	view    *models.IdentityView
	outcome models.Outcome
}

// Resolve returns the identity view for the pair, where "" means absent.
func (s *Service) Resolve(ctx context.Context, email, phone string) (*models.IdentityView, error) {
	if email == "" && phone == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "email or phoneNumber is required")
	}

	ctx, span := s.tracer.Start(ctx, "contact.Resolve")
	defer span.End()
	start := time.Now()
	defer func() { s.metrics.ObserveResolve(time.Since(start)) }()

	key := cache.ViewKey(email, phone)
	if view, ok := s.cachedView(ctx, key); ok {
		s.metrics.IncOutcome(string(models.OutcomeCacheHit))
		span.SetAttributes(
			attribute.Bool("contact.cache_hit", true),
			attribute.Int64("contact.primary_id", view.PrimaryContactID),
			attribute.String("contact.outcome", string(models.OutcomeCacheHit)),
		)
		return view, nil
	}

	v, err, _ := s.group.Do(key, func() (any, error) {
		return s.resolveMiss(ctx, key, email, phone)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	res := v.(*resolution)
	span.SetAttributes(
		attribute.Bool("contact.cache_hit", false),
		attribute.Int64("contact.primary_id", res.view.PrimaryContactID),
		attribute.String("contact.outcome", string(res.outcome)),
	)
	return cloneView(res.view), nil
}

func (s *Service) resolveMiss(ctx context.Context, key, email, phone string) (*resolution, error) {
	var (
		res     *resolution
		created []*models.Contact
	)
	err := s.runLocked(ctx, lockKeys(email, phone), func(ctx context.Context) error {
		var err error
		res, created, err = s.reconcile(ctx, email, phone)
		return err
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "contact reconciliation failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "contact store unavailable")
	}
	s.metrics.IncOutcome(string(res.outcome))

	for _, c := range created {
		s.publish(ctx, c)
	}
	if s.invalidateOnMerge && res.outcome == models.OutcomeNewSecondary {
		if err := s.cache.Invalidate(ctx, res.view.PrimaryContactID); err != nil {
			s.cacheFailed(ctx, "invalidate", err)
		}
	}
	s.storeView(ctx, key, res.view)
	return res, nil
}

func (s *Service) runLocked(ctx context.Context, keys []string, fn func(ctx context.Context) error) error {
	if s.locker == nil {
		return fn(ctx)
	}
	return s.locker.RunLocked(ctx, keys, fn)
}

// reconcile finds or extends the cluster for the pair. Returned contacts are
// the rows it inserted.
func (s *Service) reconcile(ctx context.Context, email, phone string) (*resolution, []*models.Contact, error) {
	matches, err := s.store.FindMatching(ctx, email, phone)
	if err != nil {
		return nil, nil, err
	}
	if len(matches) == 0 {
		return s.createPrimary(ctx, email, phone)
	}

	primaryID := selectPrimaryID(matches)
	s.detectConflicts(ctx, matches, primaryID)

	cluster, err := s.store.FindCluster(ctx, primaryID, linkedIDs(matches))
	if err != nil {
		return nil, nil, err
	}
	primary := findByID(cluster, primaryID)
	if primary == nil {
		// Every match hangs off a soft-deleted primary. Secondaries never
		// anchor a cluster, so the pair starts a new one.
		s.logger.WarnContext(ctx, "matched contacts reference a deleted primary",
			"request_id", requestcontext.RequestID(ctx),
			"deleted_primary_id", primaryID,
		)
		return s.createPrimary(ctx, email, phone)
	}

	emails := make([]string, 0, len(cluster)+1)
	phones := make([]string, 0, len(cluster)+1)
	secondaryIDs := make([]int64, 0, len(cluster))
	for _, c := range cluster {
		emails = append(emails, c.EmailValue())
		phones = append(phones, c.PhoneValue())
		if c.ID != primaryID {
			secondaryIDs = append(secondaryIDs, c.ID)
		}
	}

	outcome := models.OutcomeUnchanged
	var created []*models.Contact
	hasEmail := email == "" || slices.Contains(emails, email)
	hasPhone := phone == "" || slices.Contains(phones, phone)
	if !hasEmail || !hasPhone {
		nc, err := models.NewSecondary(email, phone, primaryID)
		if err != nil {
			return nil, nil, err
		}
		secondary, err := s.store.Create(ctx, nc)
		if err != nil {
			return nil, nil, err
		}
		emails = append(emails, secondary.EmailValue())
		phones = append(phones, secondary.PhoneValue())
		secondaryIDs = append(secondaryIDs, secondary.ID)
		created = append(created, secondary)
		outcome = models.OutcomeNewSecondary
	}

	view := &models.IdentityView{
		PrimaryContactID:    primaryID,
		Emails:              strings.LeadWith(primary.EmailValue(), emails),
		PhoneNumbers:        strings.LeadWith(primary.PhoneValue(), phones),
		SecondaryContactIDs: secondaryIDs,
	}
	return &resolution{view: view, outcome: outcome}, created, nil
}

func (s *Service) createPrimary(ctx context.Context, email, phone string) (*resolution, []*models.Contact, error) {
	nc, err := models.NewPrimary(email, phone)
	if err != nil {
		return nil, nil, err
	}
	c, err := s.store.Create(ctx, nc)
	if err != nil {
		return nil, nil, err
	}
	view := &models.IdentityView{
		PrimaryContactID:    c.ID,
		Emails:              strings.Dedupe([]string{c.EmailValue()}),
		PhoneNumbers:        strings.Dedupe([]string{c.PhoneValue()}),
		SecondaryContactIDs: []int64{},
	}
	return &resolution{view: view, outcome: models.OutcomeNewPrimary}, []*models.Contact{c}, nil
}

// selectPrimaryID picks the first primary among matches. When every match is
// a secondary, the earliest match's linked_id anchors the cluster rather than
// the match itself, which keeps every cluster one level deep.
func selectPrimaryID(matches []*models.Contact) int64 {
	for _, m := range matches {
		if m.IsPrimary() {
			return m.ID
		}
	}
	if first := matches[0]; first.LinkedID != nil {
		return *first.LinkedID
	}
	return matches[0].ID
}

// detectConflicts reports matches anchored on a different primary. The
// request bridges two clusters; they are left unmerged.
func (s *Service) detectConflicts(ctx context.Context, matches []*models.Contact, primaryID int64) {
	var others []int64
	for _, m := range matches {
		root := m.ID
		if !m.IsPrimary() && m.LinkedID != nil {
			root = *m.LinkedID
		}
		if root != primaryID && !slices.Contains(others, root) {
			others = append(others, root)
		}
	}
	if len(others) == 0 {
		return
	}
	s.metrics.IncClusterConflict()
	s.logger.WarnContext(ctx, "request spans multiple contact clusters",
		"request_id", requestcontext.RequestID(ctx),
		"primary_id", primaryID,
		"other_primary_ids", others,
	)
}

func (s *Service) cachedView(ctx context.Context, key string) (*models.IdentityView, bool) {
	raw, found, err := s.cache.Get(ctx, key)
	if err != nil {
		s.cacheFailed(ctx, "get", err)
		return nil, false
	}
	if !found {
		return nil, false
	}
	var view models.IdentityView
	if err := json.Unmarshal([]byte(raw), &view); err != nil {
		s.cacheFailed(ctx, "decode", err)
		return nil, false
	}
	return &view, true
}

func (s *Service) storeView(ctx context.Context, key string, view *models.IdentityView) {
	raw, err := json.Marshal(view)
	if err != nil {
		s.cacheFailed(ctx, "encode", err)
		return
	}
	if err := s.cache.Set(ctx, key, string(raw), s.ttl); err != nil {
		s.cacheFailed(ctx, "set", err)
		return
	}
	if s.invalidateOnMerge {
		if err := s.cache.Index(ctx, view.PrimaryContactID, key, s.ttl); err != nil {
			s.cacheFailed(ctx, "index", err)
		}
	}
}

func (s *Service) cacheFailed(ctx context.Context, op string, err error) {
	s.metrics.IncCacheError(op)
	s.logger.WarnContext(ctx, "contact cache operation failed",
		"request_id", requestcontext.RequestID(ctx),
		"op", op,
		"error", err,
	)
}

func (s *Service) publish(ctx context.Context, c *models.Contact) {
	if s.publisher == nil {
		return
	}
	event := models.NewContactCreatedEvent(c, requestcontext.RequestID(ctx))
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.metrics.IncPublishFailure()
		s.logger.WarnContext(ctx, "contact event publish failed",
			"request_id", event.RequestID,
			"contact_id", c.ID,
			"error", err,
		)
	}
}

// lockKeys names the identifiers a call may claim, in sorted order.
func lockKeys(email, phone string) []string {
	keys := make([]string, 0, 2)
	if email != "" {
		keys = append(keys, "email:"+email)
	}
	if phone != "" {
		keys = append(keys, "phone:"+phone)
	}
	slices.Sort(keys)
	return keys
}

func linkedIDs(matches []*models.Contact) []int64 {
	ids := make([]int64, 0, len(matches))
	for _, m := range matches {
		if m.LinkedID != nil && !slices.Contains(ids, *m.LinkedID) {
			ids = append(ids, *m.LinkedID)
		}
	}
	return ids
}

func findByID(cs []*models.Contact, id int64) *models.Contact {
	for _, c := range cs {
		if c.ID == id {
			return c
		}
	}
	return nil
}

func cloneView(v *models.IdentityView) *models.IdentityView {
	return &models.IdentityView{
		PrimaryContactID:    v.PrimaryContactID,
		Emails:              slices.Clone(v.Emails),
		PhoneNumbers:        slices.Clone(v.PhoneNumbers),
		SecondaryContactIDs: slices.Clone(v.SecondaryContactIDs),
	}
}
