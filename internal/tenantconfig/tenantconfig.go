// Package tenantconfig implements the Tenant Config Store: an in-process,
// TTL-cached map of per-tenant search weights, reranker toggle, and
// guardrail thresholds/templates. The cache is the
// authoritative read path; an optional repository.TenantRepository backs
// a durable snapshot so configuration survives a process restart.
package tenantconfig

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/knoguchi/rag/internal/pipeline"
	"github.com/knoguchi/rag/internal/repository"
)

// DefaultTTL is the default cache entry lifetime.
const DefaultTTL = 10 * time.Minute

// DefaultCapacity bounds the number of distinct tenants cached at once.
const DefaultCapacity = 1024

type cacheEntry struct {
	config    repository.TenantConfig
	expiresAt time.Time
}

// Store is the process-wide tenant configuration cache. Reads return
// immutable value copies; writes validate then atomically replace the
// cache entry.
type Store struct {
	mu          sync.RWMutex
	cache       *lru.Cache[string, cacheEntry]
	ttl         time.Duration
	repo        repository.TenantRepository
	subscribers []chan string
	subMu       sync.Mutex
}

// New builds a Store. repo may be nil, in which case configuration is
// in-process only and does not survive a restart.
func New(repo repository.TenantRepository, ttl time.Duration, capacity int) (*Store, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	cache, err := lru.New[string, cacheEntry](capacity)
	if err != nil {
		return nil, fmt.Errorf("creating tenant config cache: %w", err)
	}
	return &Store{cache: cache, ttl: ttl, repo: repo}, nil
}

// Get returns tenantID's configuration, loading it lazily on first
// reference (from the durable repository if present, else a default
// config with tenantID spliced in) and caching the result with TTL.
func (s *Store) Get(ctx context.Context, tenantID string) (repository.TenantConfig, error) {
	s.mu.RLock()
	entry, ok := s.cache.Get(tenantID)
	s.mu.RUnlock()
	if ok && time.Now().Before(entry.expiresAt) {
		return entry.config, nil
	}

	cfg, err := s.load(ctx, tenantID)
	if err != nil {
		return repository.TenantConfig{}, err
	}

	s.put(tenantID, cfg)
	return cfg, nil
}

func (s *Store) load(ctx context.Context, tenantID string) (repository.TenantConfig, error) {
	if s.repo != nil {
		if id, err := uuid.Parse(tenantID); err == nil {
			tenant, err := s.repo.GetByID(ctx, id)
			switch {
			case err == nil:
				return tenant.Config, nil
			case errors.Is(err, repository.ErrNotFound):
				// fall through to default
			default:
				return repository.TenantConfig{}, fmt.Errorf("loading tenant config: %w", err)
			}
		}
	}
	return DefaultConfig(tenantID), nil
}

func (s *Store) put(tenantID string, cfg repository.TenantConfig) {
	s.mu.Lock()
	s.cache.Add(tenantID, cacheEntry{config: cfg, expiresAt: time.Now().Add(s.ttl)})
	s.mu.Unlock()
}

// Update validates cfg, persists it (if a durable repository is
// configured), invalidates and replaces the cache entry, and notifies
// subscribers of the change.
func (s *Store) Update(ctx context.Context, cfg repository.TenantConfig) error {
	if err := Validate(cfg); err != nil {
		return err
	}

	if s.repo != nil {
		if id, err := uuid.Parse(cfg.TenantID); err == nil {
			tenant, err := s.repo.GetByID(ctx, id)
			switch {
			case err == nil:
				tenant.Config = cfg
				tenant.UpdatedAt = time.Now()
				if err := s.repo.Update(ctx, tenant); err != nil {
					return fmt.Errorf("persisting tenant config: %w", err)
				}
			case errors.Is(err, repository.ErrNotFound):
				tenant = &repository.Tenant{ID: id, Config: cfg, CreatedAt: time.Now(), UpdatedAt: time.Now()}
				if err := s.repo.Create(ctx, tenant); err != nil {
					return fmt.Errorf("persisting tenant config: %w", err)
				}
			default:
				return fmt.Errorf("loading tenant before update: %w", err)
			}
		}
	}

	s.put(cfg.TenantID, cfg)
	s.notify(cfg.TenantID)
	return nil
}

// Reset restores tenantID to its default configuration.
func (s *Store) Reset(ctx context.Context, tenantID string) (repository.TenantConfig, error) {
	cfg := DefaultConfig(tenantID)
	if err := s.Update(ctx, cfg); err != nil {
		return repository.TenantConfig{}, err
	}
	return cfg, nil
}

// Subscribe returns a channel that receives a tenantID every time that
// tenant's configuration changes via Update/Reset. The channel is
// buffered; slow subscribers may miss notifications under sustained load
// rather than block writers.
func (s *Store) Subscribe() <-chan string {
	ch := make(chan string, 16)
	s.subMu.Lock()
	s.subscribers = append(s.subscribers, ch)
	s.subMu.Unlock()
	return ch
}

func (s *Store) notify(tenantID string) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- tenantID:
		default:
		}
	}
}

// Validate checks a tenant config before it is stored. Returns
// pipeline.ErrConfigInvalid wrapped with the specific violation.
func Validate(cfg repository.TenantConfig) error {
	weightSum := cfg.VectorWeight + cfg.KeywordWeight
	if weightSum < 0.8 || weightSum > 1.2 {
		return fmt.Errorf("%w: vectorWeight+keywordWeight=%v must be in [0.8, 1.2]", pipeline.ErrConfigInvalid, weightSum)
	}
	if cfg.RRFK < 1 {
		return fmt.Errorf("%w: rrfK=%d must be >= 1", pipeline.ErrConfigInvalid, cfg.RRFK)
	}

	if err := validateThreshold(cfg.Guardrail.Threshold); err != nil {
		return err
	}

	for _, t := range cfg.Guardrail.IDKTemplates {
		if t.ID == "" || t.ReasonCode == "" || t.Template == "" {
			return fmt.Errorf("%w: every IDK template needs id, reasonCode, and template", pipeline.ErrConfigInvalid)
		}
	}

	return nil
}

func validateThreshold(th repository.GuardrailThreshold) error {
	fields := map[string]float64{
		"minConfidence": th.MinConfidence,
		"minTopScore":   th.MinTopScore,
		"minMeanScore":  th.MinMeanScore,
		"maxStdDev":     th.MaxStdDev,
	}
	for name, v := range fields {
		if v < 0 || v > 1 {
			return fmt.Errorf("%w: %s=%v must be in [0,1]", pipeline.ErrConfigInvalid, name, v)
		}
	}
	if th.MinResultCount < 0 || th.MinResultCount > 100 {
		return fmt.Errorf("%w: minResultCount=%d must be in [0,100]", pipeline.ErrConfigInvalid, th.MinResultCount)
	}
	return nil
}
