// Package service provides the core business service that implements
// the dependencies required by the HTTP API.
package service

import (
	"bytes"
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/okian/mapthewalls/internal/adapters/cache"
	"github.com/okian/mapthewalls/internal/adapters/imaging"
	"github.com/okian/mapthewalls/internal/adapters/objectstore"
	"github.com/okian/mapthewalls/internal/adapters/repository"
	"github.com/okian/mapthewalls/internal/domain/aggregate"
	"github.com/okian/mapthewalls/internal/domain/model"
	"github.com/okian/mapthewalls/internal/domain/types"
	"github.com/okian/mapthewalls/internal/janitor"
	"github.com/okian/mapthewalls/pkg/logger"
	"github.com/okian/mapthewalls/pkg/metrics"
)

// SummaryCache holds computed vote summaries by spot id.
// *cache.Cache is the production implementation.
type SummaryCache interface {
	Enabled() bool
	Get(ctx context.Context, spotID string) (model.VoteSummary, bool, error)
	Set(ctx context.Context, spotID string, s model.VoteSummary) error
	Invalidate(ctx context.Context, spotID string) error
	Ping(ctx context.Context) error
}

// Service implements the API dependencies for spots, votes and photos.
type Service struct {
	mu sync.RWMutex

	// Core components
	store   repository.Store
	cache   SummaryCache
	bucket  objectstore.Bucket
	images  *imaging.Processor
	janitor *janitor.Janitor

	// Configuration
	adminToken      string
	photoBudget     int
	listLimit       int
	janitorSchedule string
	now             func() time.Time

	// State
	started   bool
	startedAt time.Time

	// invalidations counts summary invalidations. A scan only fills the
	// cache if none happened while it ran.
	invalidations atomic.Uint64

	logger logger.Logger
}

// New constructs a new Service with in-memory defaults.
func New(opts ...Option) *Service {
	s := &Service{
		store:           repository.NewMemStore(),
		cache:           cache.NewWithClient(nil),
		bucket:          objectstore.NewMemBucket("http://localhost:9080/photos"),
		photoBudget:     imaging.DefaultBudget,
		listLimit:       500,
		janitorSchedule: "@every 10m",
		now:             time.Now,
		logger:          nil, // replaced in Start when unset
	}

	for _, opt := range opts {
		opt(s)
	}

	s.images = imaging.New(imaging.WithBudget(s.photoBudget))
	return s
}

func (s *Service) log() logger.Logger {
	if s.logger == nil {
		return logger.Nop()
	}
	return s.logger
}

// Start launches the photo janitor.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get()
	}

	s.janitor = janitor.New(s.store, s.bucket,
		janitor.WithSchedule(s.janitorSchedule),
		janitor.WithLogger(s.logger.Named("janitor")))
	if err := s.janitor.Start(ctx); err != nil {
		return err
	}

	s.started = true
	s.startedAt = s.now()
	s.logger.Info(ctx, "map the walls service started",
		logger.Bool("cache", s.cache.Enabled()),
		logger.Bool("admin", s.adminToken != ""),
		logger.Int("listLimit", s.listLimit),
		logger.String("photoBudget", humanize.IBytes(uint64(s.photoBudget))),
	)
	return nil
}

// Stop gracefully shuts down the service and releases its stores.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	ctx := context.Background()
	s.logger.Info(ctx, "stopping map the walls service...")

	if s.janitor != nil {
		s.janitor.Stop()
	}
	if c, ok := s.cache.(interface{ Close() error }); ok {
		if err := c.Close(); err != nil {
			s.logger.Warn(ctx, "close cache", logger.Error(err))
		}
	}
	if err := s.store.Close(); err != nil {
		s.logger.Warn(ctx, "close store", logger.Error(err))
	}
	if c, ok := s.bucket.(interface{ Close() error }); ok {
		_ = c.Close()
	}

	s.started = false
	s.logger.Info(ctx, "map the walls service stopped")
}

// Started reports whether Start has run.
func (s *Service) Started() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started
}

// Authorize checks an admin bearer token.
func (s *Service) Authorize(token string) error {
	if s.adminToken == "" {
		return ErrAdminDisabled
	}
	if token == "" {
		return ErrUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.adminToken)) != 1 {
		return ErrForbidden
	}
	return nil
}

// CreateSpot validates and stores a new spot.
func (s *Service) CreateSpot(ctx context.Context, in model.NewSpot) (model.Spot, error) {
	in, err := in.Normalize()
	if err != nil {
		return model.Spot{}, err
	}
	sp := in.Spot(uuid.NewString(), s.now())
	if err := s.store.CreateSpot(ctx, sp); err != nil {
		return model.Spot{}, err
	}
	metrics.RecordSpotCreated()
	s.log().Info(ctx, "spot created", logger.String("spot_id", sp.ID))
	return sp, nil
}

// GetSpot returns a spot with its vote summary.
func (s *Service) GetSpot(ctx context.Context, id string) (types.SpotView, error) {
	sp, err := s.store.GetSpot(ctx, id)
	if err != nil {
		return types.SpotView{}, err
	}
	return types.SpotView{Spot: sp, Summary: s.LoadVoteSummary(ctx, id)}, nil
}

// ListSpots returns the newest spots. Non-positive or oversized limits are
// clamped to the configured cap.
func (s *Service) ListSpots(ctx context.Context, limit int) ([]model.Spot, error) {
	if limit <= 0 || limit > s.listLimit {
		limit = s.listLimit
	}
	return s.store.ListSpots(ctx, limit)
}

// UpdateSpot applies an admin edit. Callers authorize first.
func (s *Service) UpdateSpot(ctx context.Context, id string, p model.SpotPatch) (model.Spot, error) {
	p, err := p.Normalize()
	if err != nil {
		return model.Spot{}, err
	}
	sp, err := s.store.UpdateSpot(ctx, id, p)
	if err != nil {
		return model.Spot{}, err
	}
	s.log().Info(ctx, "spot updated", logger.String("spot_id", id))
	return sp, nil
}

// DeleteSpot removes the spot and its votes, then removes its photo on a
// best-effort basis. A failed photo removal is queued for the janitor.
func (s *Service) DeleteSpot(ctx context.Context, id string) (model.Spot, error) {
	sp, err := s.store.DeleteSpot(ctx, id)
	if err != nil {
		return model.Spot{}, err
	}
	metrics.RecordSpotDeleted()
	s.invalidate(ctx, id)

	if sp.PhotoPath != "" {
		err := s.bucket.Delete(ctx, sp.PhotoPath)
		if err != nil && !errors.Is(err, objectstore.ErrNotFound) {
			metrics.RecordPhotoDeleteFailure()
			s.log().Warn(ctx, "photo delete failed, queued for retry",
				logger.String("spot_id", id), logger.String("path", sp.PhotoPath), logger.Error(err))
			if qErr := s.store.QueuePhotoDeletion(ctx, sp.PhotoPath); qErr != nil {
				s.log().Error(ctx, "queue photo deletion", logger.String("path", sp.PhotoPath), logger.Error(qErr))
			}
		}
	}
	s.log().Info(ctx, "spot deleted", logger.String("spot_id", id))
	return sp, nil
}

// UpsertVote writes the caller's vote row and drops the cached summary.
func (s *Service) UpsertVote(ctx context.Context, voterID string, in model.VoteInput) (model.VoteRow, error) {
	if err := model.ValidateVoterID(voterID); err != nil {
		return model.VoteRow{}, err
	}
	if err := in.Validate(); err != nil {
		return model.VoteRow{}, err
	}
	row, err := s.store.UpsertVote(ctx, voterID, in)
	if err != nil {
		return model.VoteRow{}, err
	}
	for _, f := range in.Fields() {
		metrics.RecordVoteWrite(f)
	}
	s.invalidate(ctx, in.SpotID)
	return row, nil
}

// LoadVoteSummary returns the summary of all vote rows for a spot. It never
// fails: a read error is logged and the empty summary returned.
func (s *Service) LoadVoteSummary(ctx context.Context, spotID string) model.VoteSummary {
	if sum, ok, err := s.cache.Get(ctx, spotID); err != nil {
		s.log().Warn(ctx, "summary cache read failed", logger.String("spot_id", spotID), logger.Error(err))
	} else if ok {
		metrics.RecordSummaryCacheHit()
		return sum
	}
	metrics.RecordSummaryCacheMiss()

	epoch := s.invalidations.Load()
	rows, err := s.store.ListVotes(ctx, spotID)
	if err != nil {
		metrics.RecordSummaryDegraded()
		s.log().Error(ctx, "vote summary degraded", logger.String("spot_id", spotID), logger.Error(err))
		return aggregate.Empty()
	}
	metrics.RecordSummaryScanRows(len(rows))

	sum := aggregate.Summarize(rows)
	if s.invalidations.Load() != epoch {
		// a write landed mid-scan; the rows may predate it
		return sum
	}
	if err := s.cache.Set(ctx, spotID, sum); err != nil {
		s.log().Warn(ctx, "summary cache write failed", logger.String("spot_id", spotID), logger.Error(err))
	}
	return sum
}

// LoadMyVote returns the caller's row, or nulls when there is none.
func (s *Service) LoadMyVote(ctx context.Context, spotID, voterID string) (model.MyVote, error) {
	if err := model.ValidateVoterID(voterID); err != nil {
		return model.MyVote{}, err
	}
	row, err := s.store.GetVote(ctx, spotID, voterID)
	if errors.Is(err, repository.ErrNotFound) {
		return model.MyVote{}, nil
	}
	if err != nil {
		return model.MyVote{}, err
	}
	return model.MyVote{Rating: row.Rating, Verdict: row.Verdict}, nil
}

// UploadPhoto compresses data and stores it in the bucket.
func (s *Service) UploadPhoto(ctx context.Context, data []byte) (types.PhotoUpload, error) {
	res, err := s.images.Process(data)
	if err != nil {
		return types.PhotoUpload{}, err
	}
	key := objectstore.NewKey(s.now(), res.Ext)
	if err := s.bucket.Put(ctx, key, bytes.NewReader(res.Data), res.ContentType); err != nil {
		return types.PhotoUpload{}, fmt.Errorf("store photo: %w", err)
	}
	metrics.RecordPhotoUploaded(len(res.Data))
	s.log().Info(ctx, "photo stored",
		logger.String("path", key),
		logger.String("from", res.OriginalType),
		logger.String("size", humanize.Bytes(uint64(len(res.Data)))))

	return types.PhotoUpload{
		URL:         s.bucket.PublicURL(key),
		Path:        key,
		ContentType: res.ContentType,
		Bytes:       len(res.Data),
		Size:        humanize.Bytes(uint64(len(res.Data))),
		GPS:         res.GPS,
	}, nil
}

// Ping checks the store and the cache.
func (s *Service) Ping(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if err := s.cache.Ping(ctx); err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	return nil
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats(ctx context.Context) types.Stats {
	s.mu.RLock()
	startedAt := s.startedAt
	s.mu.RUnlock()

	st := types.Stats{
		CacheEnabled: s.cache.Enabled(),
		AdminEnabled: s.adminToken != "",
	}
	if !startedAt.IsZero() {
		st.Uptime = strings.TrimSpace(humanize.RelTime(startedAt, s.now(), "", ""))
	}
	if n, err := s.store.CountSpots(ctx); err == nil {
		st.Spots = n
	}
	if pending, err := s.store.PendingPhotoDeletions(ctx, 10_000); err == nil {
		st.PendingPhotoDeletions = len(pending)
		metrics.UpdatePhotoDeletionsPending(len(pending))
	}
	return st
}

func (s *Service) invalidate(ctx context.Context, spotID string) {
	s.invalidations.Add(1)
	if err := s.cache.Invalidate(ctx, spotID); err != nil {
		s.log().Warn(ctx, "summary cache invalidate failed", logger.String("spot_id", spotID), logger.Error(err))
	}
}
