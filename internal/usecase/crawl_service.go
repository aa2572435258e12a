package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/alabenkhlifa/automobile-tn-scrapper/internal/domain"
)

// CrawlServiceConfig holds configuration for the crawl service
type CrawlServiceConfig struct {
	// DefaultPartitions are crawled when a request names none
	DefaultPartitions []string
	// RunTTL is how long finished runs stay queryable
	RunTTL time.Duration
}

// CrawlRequest asks for a crawl of the named partitions
type CrawlRequest struct {
	Partitions []string `json:"partitions"`
}

// CrawlService starts crawl runs and keeps their results in the cache
type CrawlService struct {
	orchestrator *Orchestrator
	profiles     domain.ProfileProvider
	cache        domain.CacheRepository
	history      *HistoryService
	config       CrawlServiceConfig
	now          func() time.Time
	log          logrus.FieldLogger

	running sync.WaitGroup
}

// NewCrawlService creates a crawl service. history may be nil.
func NewCrawlService(
	orchestrator *Orchestrator,
	profiles domain.ProfileProvider,
	cache domain.CacheRepository,
	history *HistoryService,
	config CrawlServiceConfig,
	log logrus.FieldLogger,
) *CrawlService {
	if config.RunTTL == 0 {
		config.RunTTL = 24 * time.Hour
	}
	return &CrawlService{
		orchestrator: orchestrator,
		profiles:     profiles,
		cache:        cache,
		history:      history,
		config:       config,
		now:          time.Now,
		log:          log,
	}
}

// Start validates the request, stores a pending run and crawls in the
// background. The returned run carries the id to poll.
func (s *CrawlService) Start(ctx context.Context, request CrawlRequest) (*domain.RunResult, error) {
	partitions, err := s.partitions(request)
	if err != nil {
		return nil, err
	}

	run := &domain.RunResult{ID: newRunID(), Status: domain.RunPending, StartedAt: s.now()}
	if err := s.store(ctx, run); err != nil {
		return nil, err
	}

	s.running.Add(1)
	go func() {
		defer s.running.Done()
		bg := context.WithoutCancel(ctx)
		if _, err := s.execute(bg, run.ID, partitions); err != nil {
			s.log.WithError(err).WithField("run", run.ID).Error("[CRAWL] run failed")
		}
	}()
	return run, nil
}

// Run crawls synchronously and returns the finished run
func (s *CrawlService) Run(ctx context.Context, request CrawlRequest) (*domain.RunResult, error) {
	partitions, err := s.partitions(request)
	if err != nil {
		return nil, err
	}
	return s.execute(ctx, newRunID(), partitions)
}

// Wait blocks until all background runs have finished
func (s *CrawlService) Wait() {
	s.running.Wait()
}

// Get returns a run by id
func (s *CrawlService) Get(ctx context.Context, id string) (*domain.RunResult, error) {
	data, err := s.cache.Get(ctx, runKey(id))
	if errors.Is(err, domain.ErrCacheMiss) {
		return nil, domain.ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load run: %w", err)
	}
	var run domain.RunResult
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("decode run: %w", err)
	}
	return &run, nil
}

// Records returns the cleaned records of one partition of a run
func (s *CrawlService) Records(ctx context.Context, id, partition string) ([]*domain.Record, error) {
	run, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	for _, p := range run.Partitions {
		if p.Partition == partition {
			return p.Records, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrUnknownPartition, partition)
}

func (s *CrawlService) execute(ctx context.Context, id string, partitions []string) (*domain.RunResult, error) {
	log := s.log.WithField("run", id)
	log.WithField("partitions", partitions).Info("[CRAWL] run started")

	running := &domain.RunResult{ID: id, Status: domain.RunRunning, StartedAt: s.now()}
	if err := s.store(ctx, running); err != nil {
		return nil, err
	}

	result := s.orchestrator.Run(ctx, partitions)
	result.ID = id
	result.StartedAt = running.StartedAt

	if s.history != nil {
		for _, p := range result.Partitions {
			if _, _, err := s.history.Record(ctx, p); err != nil {
				log.WithError(err).WithField("partition", p.Partition).Warn("[CRAWL] history not recorded")
			}
		}
	}

	log.WithFields(logrus.Fields{
		"records":      result.RecordCount(),
		"attempted":    result.Totals.Attempted,
		"rate_limited": result.Totals.RateLimited,
	}).Infof("[CRAWL] run finished: %s", result.Advice)

	if err := s.store(ctx, &result); err != nil {
		return &result, err
	}
	return &result, nil
}

func (s *CrawlService) partitions(request CrawlRequest) ([]string, error) {
	partitions := request.Partitions
	if len(partitions) == 0 {
		partitions = s.config.DefaultPartitions
	}
	if len(partitions) == 0 {
		return nil, fmt.Errorf("%w: no partitions", domain.ErrInvalidRequest)
	}

	seen := make(map[string]bool, len(partitions))
	out := make([]string, 0, len(partitions))
	for _, p := range partitions {
		if seen[p] {
			continue
		}
		if _, err := s.profiles.Profile(p); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
		}
		seen[p] = true
		out = append(out, p)
	}
	return out, nil
}

func (s *CrawlService) store(ctx context.Context, run *domain.RunResult) error {
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("encode run: %w", err)
	}
	if err := s.cache.Set(ctx, runKey(run.ID), data, s.config.RunTTL); err != nil {
		return fmt.Errorf("store run: %w", err)
	}
	return nil
}

func runKey(id string) string {
	return "run:" + id
}

func newRunID() string {
	return uuid.Must(uuid.NewV7()).String()
}
