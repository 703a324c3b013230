package promotion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/giadungplus/opscore/internal/domain/integration"
	"github.com/giadungplus/opscore/internal/domain/order"
	"github.com/giadungplus/opscore/internal/domain/promotion"
	"github.com/giadungplus/opscore/internal/infrastructure/cache"
	"github.com/giadungplus/opscore/internal/infrastructure/sapo"
	"github.com/giadungplus/opscore/internal/infrastructure/telemetry"
)

// ErrRefreshInProgress is returned when a refresh is requested while another is running
var ErrRefreshInProgress = errors.New("promotion: catalogue refresh already in progress")

// CatalogAPI is the part of the Sapo Core facade the service reads programs, variants and orders from
type CatalogAPI interface {
	ListAllPromotionPrograms(ctx context.Context, status string, pageSize int) ([]promotion.Program, error)
	GetProgramConditions(ctx context.Context, programID int64) ([]promotion.ConditionItem, error)
	GetVariant(ctx context.Context, variantID int64) (*sapo.Variant, error)
	GetOrder(ctx context.Context, orderID int64) (*order.Order, error)
}

// CatalogStore persists the catalogue between refreshes
type CatalogStore interface {
	Save(programs []promotion.Program, cachedAt time.Time) error
	Load() (*cache.PromotionSnapshot, error)
}

// RefreshResult describes one catalogue refresh
type RefreshResult struct {
	CachedAt        time.Time `json:"cached_at"`
	Programs        int       `json:"programs"`
	SkippedPrograms int       `json:"skipped_programs"`
	Variants        int       `json:"variants"`
	MissingVariants int       `json:"missing_variants"`
}

// Catalogue is the set of programs the gift applier works from
type Catalogue struct {
	CachedAt time.Time           `json:"cached_at"`
	Programs []promotion.Program `json:"promotions"`
}

// Service owns the in-process promotion catalogue: it refreshes it from Sapo,
// loads it from the cache file and applies it to orders
type Service struct {
	api      CatalogAPI
	store    CatalogStore
	pageSize int
	metrics  *telemetry.OpsMetrics
	logger   *zap.Logger
	now      func() time.Time

	refreshMu sync.Mutex
	mu        sync.RWMutex
	catalogue *Catalogue
}

// Option configures a Service
type Option func(*Service)

// WithMetrics records refresh outcomes
func WithMetrics(metrics *telemetry.OpsMetrics) Option {
	return func(s *Service) {
		s.metrics = metrics
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a promotion service
func NewService(api CatalogAPI, store CatalogStore, pageSize int, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		api:      api,
		store:    store,
		pageSize: pageSize,
		logger:   logger.Named("promotion"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Refresh fetches the active programs and their conditions, enriches gift
// lines from one lookup per distinct variant, writes the cache file and
// swaps the in-process catalogue
func (s *Service) Refresh(ctx context.Context) (*RefreshResult, error) {
	if !s.refreshMu.TryLock() {
		return nil, ErrRefreshInProgress
	}
	defer s.refreshMu.Unlock()

	ctx, span := telemetry.StartSpan(ctx, "promotion.refresh")
	defer span.End()

	result, catalogue, err := s.fetch(ctx)
	if err != nil {
		telemetry.RecordError(span, err)
		s.metrics.RecordPromotionRefresh(ctx, "error")
		s.logger.Error("Promotion refresh failed", zap.Error(err))
		return nil, err
	}
	if err := s.store.Save(catalogue.Programs, catalogue.CachedAt); err != nil {
		telemetry.RecordError(span, err)
		s.metrics.RecordPromotionRefresh(ctx, "error")
		return nil, fmt.Errorf("save promotion cache: %w", err)
	}

	s.mu.Lock()
	s.catalogue = catalogue
	s.mu.Unlock()

	s.metrics.RecordPromotionRefresh(ctx, "success")
	s.logger.Info("Promotion catalogue refreshed",
		zap.Int("programs", result.Programs),
		zap.Int("skipped_programs", result.SkippedPrograms),
		zap.Int("variants", result.Variants),
		zap.Int("missing_variants", result.MissingVariants),
	)
	return result, nil
}

func (s *Service) fetch(ctx context.Context) (*RefreshResult, *Catalogue, error) {
	listed, err := s.api.ListAllPromotionPrograms(ctx, promotion.StatusActive, s.pageSize)
	if err != nil {
		return nil, nil, fmt.Errorf("list promotion programs: %w", err)
	}

	result := &RefreshResult{CachedAt: s.now()}
	programs := make([]promotion.Program, 0, len(listed))
	for _, p := range listed {
		items, err := s.api.GetProgramConditions(ctx, p.ID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
			s.logger.Warn("Skipping program without conditions", zap.Int64("program_id", p.ID), zap.Error(err))
			result.SkippedPrograms++
			continue
		}
		p.ConditionItems = items
		if err := p.Validate(); err != nil {
			s.logger.Warn("Skipping malformed promotion program", zap.Int64("program_id", p.ID), zap.Error(err))
			result.SkippedPrograms++
			continue
		}
		programs = append(programs, p)
	}

	variants, missing := s.lookupVariants(ctx, programs)
	for i := range programs {
		enrichGifts(&programs[i], variants)
	}

	result.Programs = len(programs)
	result.Variants = len(variants)
	result.MissingVariants = missing
	return result, &Catalogue{CachedAt: result.CachedAt, Programs: programs}, nil
}

// lookupVariants fetches each distinct gift variant once. Failed lookups are
// counted and left out; their gift lines keep empty enrichment fields.
func (s *Service) lookupVariants(ctx context.Context, programs []promotion.Program) (map[int64]*sapo.Variant, int) {
	variants := make(map[int64]*sapo.Variant)
	missing := 0
	seen := make(map[int64]struct{})
	for i := range programs {
		for _, id := range programs[i].GiftVariantIDs() {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}

			v, err := s.api.GetVariant(ctx, id)
			if err != nil {
				s.logger.Warn("Gift variant lookup failed", zap.Int64("variant_id", id), zap.Error(err))
				missing++
				continue
			}
			variants[id] = v
		}
	}
	return variants, missing
}

func enrichGifts(p *promotion.Program, variants map[int64]*sapo.Variant) {
	for i := range p.ConditionItems {
		gifts := p.ConditionItems[i].Gifts
		for j := range gifts {
			v, ok := variants[gifts[j].VariantID]
			if !ok {
				continue
			}
			gifts[j].SKU = v.SKU
			gifts[j].Unit = v.Unit
			gifts[j].Opt1 = v.Opt1
			if gifts[j].Name == "" {
				gifts[j].Name = v.Name
			}
		}
	}
}

// Load replaces the in-process catalogue with the cache file contents.
// Fails with ErrPromotionDataInvalid when the file cannot be parsed.
func (s *Service) Load(ctx context.Context) (*Catalogue, error) {
	snapshot, err := s.store.Load()
	if err != nil {
		return nil, err
	}
	catalogue := &Catalogue{CachedAt: snapshot.CachedAt, Programs: snapshot.Programs}

	s.mu.Lock()
	s.catalogue = catalogue
	s.mu.Unlock()

	s.logger.Info("Promotion catalogue loaded",
		zap.Int("programs", len(snapshot.Programs)),
		zap.Int("skipped_programs", snapshot.Skipped),
		zap.Time("cached_at", snapshot.CachedAt),
	)
	return catalogue, nil
}

// Catalogue returns the in-process catalogue, loading the cache file on first use
func (s *Service) Catalogue(ctx context.Context) (*Catalogue, error) {
	s.mu.RLock()
	c := s.catalogue
	s.mu.RUnlock()
	if c != nil {
		return c, nil
	}
	return s.Load(ctx)
}

// Apply replaces o's gifts with those the catalogue grants now
func (s *Service) Apply(ctx context.Context, o *order.Order) error {
	c, err := s.Catalogue(ctx)
	if err != nil {
		return err
	}
	promotion.Apply(o, c.Programs, s.now())
	return nil
}

// ApplyToOrder loads a Core order and attaches its gifts
func (s *Service) ApplyToOrder(ctx context.Context, orderID int64) (*order.Order, error) {
	c, err := s.Catalogue(ctx)
	if err != nil {
		return nil, err
	}
	o, err := s.api.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	promotion.Apply(o, c.Programs, s.now())
	if len(o.Gifts) > 0 {
		s.logger.Debug("Gifts applied", zap.Int64("order_id", o.ID), zap.Int("gifts", len(o.Gifts)))
	}
	return o, nil
}

// IsDataInvalid reports whether err means the catalogue must be refreshed
func IsDataInvalid(err error) bool {
	return errors.Is(err, integration.ErrPromotionDataInvalid)
}
