package scouting

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cbodonnell/starminers/pkg/auth"
	"github.com/cbodonnell/starminers/pkg/keylock"
	"github.com/cbodonnell/starminers/pkg/log"
	"github.com/cbodonnell/starminers/pkg/metrics"
	"github.com/cbodonnell/starminers/pkg/queue"
	"github.com/cbodonnell/starminers/pkg/repositories"
	"github.com/cbodonnell/starminers/pkg/stars"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
)

const (
	MsgScoutRemoved  = "Successfully removed from whitelist and data cleared"
	MsgScoutNotFound = "No such key found in the whitelist"
)

// SightingEvent is queued whenever a request changed the stored sightings.
type SightingEvent struct {
	Reason  string
	Changed int
	At      int64
}

// SubmitResult counts what each entry of an accepted batch did to the store.
type SubmitResult struct {
	Inserted     int
	Narrowed     int
	Unchanged    int
	Contradicted int
}

func (r SubmitResult) changed() int {
	return r.Inserted + r.Narrowed
}

// WhitelistRequest is the body of the whitelist admin operations.
type WhitelistRequest struct {
	Password *string `json:"password" validate:"required"`
}

// Service ties the resolver, the store and the live feed queue together.
type Service struct {
	repo     repositories.Repository
	resolver *auth.Resolver
	locks    *keylock.KeyLock
	events   queue.Queue[SightingEvent]
	validate *validator.Validate
	now      func() time.Time
}

type NewServiceOptions struct {
	Repository repositories.Repository
	Resolver   *auth.Resolver
	// Events receives a SightingEvent per change. Optional.
	Events queue.Queue[SightingEvent]
	// Now defaults to time.Now
	Now func() time.Time
}

func NewService(opts NewServiceOptions) *Service {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		repo:     opts.Repository,
		resolver: opts.Resolver,
		locks:    keylock.New(),
		events:   opts.Events,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		now:      now,
	}
}

// Mode returns the auth mode the service runs in.
func (s *Service) Mode() auth.Mode {
	return s.resolver.Mode()
}

// Submit validates a report batch and merges every entry into the
// credential's sightings. Nothing is written unless the whole batch is valid.
func (s *Service) Submit(ctx context.Context, credential string, body []byte) (SubmitResult, error) {
	var result SubmitResult

	// Held across the membership check so a concurrent RemoveScout either
	// runs first and revokes, or waits until the batch is written.
	unlock := s.locks.Lock(credential)
	defer unlock()

	if err := s.resolver.RequireSubmitter(credential); err != nil {
		metrics.Submissions.WithLabelValues("unauthorized").Inc()
		return result, err
	}

	now := s.now().Unix()
	sightings, err := stars.ParseReport(body, now)
	if err != nil {
		metrics.Submissions.WithLabelValues("invalid").Inc()
		var dv *stars.DataValidationError
		if errors.As(err, &dv) {
			log.Warn("Rejected report batch: %s", dv.Reason)
		}
		return result, err
	}
	if len(sightings) == 0 {
		metrics.Submissions.WithLabelValues("ping").Inc()
		return result, nil
	}

	for _, sighting := range sightings {
		outcome, err := s.repo.MergeSighting(ctx, credential, sighting)
		if err != nil {
			metrics.Submissions.WithLabelValues("error").Inc()
			return result, fmt.Errorf("failed to merge sighting: %w", err)
		}
		metrics.MergeOutcomes.WithLabelValues(outcome.String()).Inc()
		switch outcome {
		case stars.MergeInserted:
			result.Inserted++
		case stars.MergeNarrowed:
			result.Narrowed++
		case stars.MergeUnchanged:
			result.Unchanged++
		case stars.MergeContradiction:
			result.Contradicted++
			log.Debug("Dropped contradicting report for world %d location %d", sighting.World, sighting.Location)
		}
	}
	metrics.Submissions.WithLabelValues("accepted").Inc()

	if changed := result.changed(); changed > 0 {
		s.publish(SightingEvent{Reason: "submit", Changed: changed, At: now})
	}
	return result, nil
}

// ReadOwn returns the credential's own active sightings.
func (s *Service) ReadOwn(ctx context.Context, credential string) ([]stars.Sighting, error) {
	if err := s.resolver.RequireKey(credential); err != nil {
		return nil, err
	}
	lowest, highest := stars.ViewRange(s.now().Unix())
	sightings, err := s.repo.ListOwnSightings(ctx, credential, lowest, highest)
	if err != nil {
		return nil, fmt.Errorf("failed to read own sightings: %w", err)
	}
	metrics.ViewReads.WithLabelValues("own").Inc()
	return sightings, nil
}

// ReadGlobalMerged returns every active sighting merged by location and world.
func (s *Service) ReadGlobalMerged(ctx context.Context, credential string) ([]stars.Sighting, error) {
	if err := s.resolver.RequireKey(credential); err != nil {
		return nil, err
	}
	return s.globalMerged(ctx)
}

func (s *Service) globalMerged(ctx context.Context) ([]stars.Sighting, error) {
	lowest, highest := stars.ViewRange(s.now().Unix())
	sightings, err := s.repo.ListMergedSightings(ctx, lowest, highest)
	if err != nil {
		return nil, fmt.Errorf("failed to read merged sightings: %w", err)
	}
	metrics.ViewReads.WithLabelValues("merged").Inc()
	return sightings, nil
}

// Snapshot returns the global merged view without a credential check. It
// feeds the live broadcast, whose subscribers were checked on connect.
func (s *Service) Snapshot(ctx context.Context) ([]stars.Sighting, error) {
	return s.globalMerged(ctx)
}

// ReadAudit returns every active row with its owner. Owners that are
// currently masters are replaced by stars.MasterLabel.
func (s *Service) ReadAudit(ctx context.Context, master string) ([]stars.AuditSighting, error) {
	if err := s.resolver.RequireMaster(master); err != nil {
		return nil, err
	}
	snap := s.resolver.Registry().Snapshot()
	lowest, highest := stars.ViewRange(s.now().Unix())
	rows, err := s.repo.ListAllSightings(ctx, lowest, highest)
	if err != nil {
		return nil, fmt.Errorf("failed to read audit sightings: %w", err)
	}

	audit := make([]stars.AuditSighting, 0, len(rows))
	for _, row := range rows {
		audit = append(audit, stars.AuditSighting{
			Sighting: row.Sighting,
			Password: auth.Label(snap, row.Owner),
		})
	}
	metrics.ViewReads.WithLabelValues("audit").Inc()
	return audit, nil
}

// ListScouts returns the scout credentials that are not also masters.
func (s *Service) ListScouts(ctx context.Context, master string) ([]string, error) {
	if err := s.resolver.RequireMaster(master); err != nil {
		return nil, err
	}
	return s.resolver.Registry().Snapshot().Scouts(), nil
}

// AddScout whitelists the password in body.
func (s *Service) AddScout(ctx context.Context, master string, body []byte) error {
	if err := s.resolver.RequireMaster(master); err != nil {
		return err
	}
	password, err := s.parseWhitelistRequest(body)
	if err != nil {
		return err
	}
	if err := s.resolver.Registry().AddScout(ctx, password); err != nil {
		return err
	}
	metrics.WhitelistChanges.WithLabelValues("add").Inc()
	log.Info("Added scout credential")
	return nil
}

// RemoveScout removes the password in body from the scout whitelist along
// with all of its sightings. It returns the text shown to the caller.
func (s *Service) RemoveScout(ctx context.Context, master string, body []byte) (string, error) {
	if err := s.resolver.RequireMaster(master); err != nil {
		return "", err
	}
	password, err := s.parseWhitelistRequest(body)
	if err != nil {
		return "", err
	}

	unlock := s.locks.Lock(password)
	defer unlock()

	removed, err := s.resolver.Registry().RemoveScout(ctx, password)
	if err != nil {
		return "", err
	}
	if !removed {
		return MsgScoutNotFound, nil
	}
	metrics.WhitelistChanges.WithLabelValues("remove").Inc()
	log.Info("Removed scout credential")
	s.publish(SightingEvent{Reason: "remove_scout", At: s.now().Unix()})
	return MsgScoutRemoved, nil
}

func (s *Service) parseWhitelistRequest(body []byte) (string, error) {
	var req WhitelistRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return "", &stars.DataValidationError{Reason: fmt.Sprintf("malformed whitelist body: %v", err)}
	}
	if err := s.validate.Struct(req); err != nil {
		return "", &stars.DataValidationError{Reason: fmt.Sprintf("invalid whitelist body: %v", err)}
	}
	password := strings.TrimSpace(*req.Password)
	if err := s.validate.Var(password, "required"); err != nil {
		return "", &stars.DataValidationError{Reason: "blank whitelist password"}
	}
	return password, nil
}

func (s *Service) publish(event SightingEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.Enqueue(event); err != nil {
		log.Debug("Skipped sighting event: %v", err)
	}
}
