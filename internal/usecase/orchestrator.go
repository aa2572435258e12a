package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/alabenkhlifa/automobile-tn-scrapper/internal/domain"
)

// OrchestratorConfig holds configuration for the partition orchestrator
type OrchestratorConfig struct {
	// DetailPages enables the detail merge for strategies that are not card-only
	DetailPages bool
	Now         func() time.Time
}

// Orchestrator drives partitions end to end: enumerate, merge, clean, hand
// the result to the sink. Partitions run concurrently and share nothing but
// the gate's global admission pool.
type Orchestrator struct {
	gate       domain.FetchGate
	profiles   domain.ProfileProvider
	enumerator Enumerator
	merger     *DetailMerger
	cleaner    *CleaningPipeline
	sink       domain.RecordSink
	config     OrchestratorConfig
	log        logrus.FieldLogger
}

// NewOrchestrator creates an orchestrator. sink may be nil.
func NewOrchestrator(
	gate domain.FetchGate,
	profiles domain.ProfileProvider,
	enumerator Enumerator,
	merger *DetailMerger,
	cleaner *CleaningPipeline,
	sink domain.RecordSink,
	config OrchestratorConfig,
	log logrus.FieldLogger,
) *Orchestrator {
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Orchestrator{
		gate:       gate,
		profiles:   profiles,
		enumerator: enumerator,
		merger:     merger,
		cleaner:    cleaner,
		sink:       sink,
		config:     config,
		log:        log,
	}
}

// Run runs every partition concurrently. A failing partition yields an empty
// result carrying its error; it never stops the others.
func (o *Orchestrator) Run(ctx context.Context, partitions []string) domain.RunResult {
	run := domain.RunResult{
		Status:     domain.RunRunning,
		StartedAt:  o.config.Now(),
		Partitions: make([]domain.PartitionResult, len(partitions)),
	}

	var wg sync.WaitGroup
	for i, name := range partitions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			run.Partitions[i] = o.RunPartition(ctx, name)
		}()
	}
	wg.Wait()

	for _, p := range run.Partitions {
		run.Totals.Add(p.Stats)
	}
	run.Advice = run.Totals.Advice()
	run.FinishedAt = o.config.Now()
	run.Status = domain.RunCompleted
	return run
}

// RunPartition crawls one partition with fresh rate-limit and circuit state
func (o *Orchestrator) RunPartition(ctx context.Context, name string) domain.PartitionResult {
	result := domain.PartitionResult{Partition: name, StartedAt: o.config.Now(), Records: []*domain.Record{}}
	log := o.log.WithField("partition", name)

	profile, err := o.profiles.Profile(name)
	if err != nil {
		log.WithError(err).Error("[ORCH] no site profile")
		result.Error = err.Error()
		result.FinishedAt = o.config.Now()
		return result
	}
	partition := domain.Partition{Name: name, Profile: profile}
	fetcher := o.gate.Partition(name, profile.AcceptLanguage())

	log.Infof("[ORCH] enumerating with %s strategy", o.enumerator.Name())
	enum := Drain(ctx, o.enumerator.Sequence(partition, fetcher, Cursor{}))
	cards := uniqueCards(enum.Cards)
	result.CardsCollected = len(cards)

	var records []*domain.Record
	if o.enumerator.CardOnly() || !o.config.DetailPages {
		records = o.merger.PromoteAll(cards)
	} else {
		log.Infof("[ORCH] collected %d cards, fetching details", len(cards))
		records = o.merger.MergeAll(ctx, fetcher, partition, cards)
	}
	for _, r := range records {
		if r.DetailMerged {
			result.DetailsMerged++
		}
	}

	result.Records, result.Stages = o.cleaner.Run(name, records)
	result.Stats = fetcher.Stats()
	result.RateLimited = enum.RateLimited || fetcher.CircuitOpen()
	result.FinishedAt = o.config.Now()

	log.WithFields(logrus.Fields{
		"cards":        result.CardsCollected,
		"merged":       result.DetailsMerged,
		"records":      len(result.Records),
		"rate_limited": result.RateLimited,
	}).Info("[ORCH] partition finished")

	if o.sink != nil {
		if err := o.sink.Write(ctx, result); err != nil {
			log.WithError(err).Error("[ORCH] sink write failed")
			result.SinkErrors = sinkErrors(err)
		}
	}
	return result
}

// uniqueCards keeps the first card per key across units
func uniqueCards(cards []domain.Card) []domain.Card {
	seen := make(map[string]bool, len(cards))
	out := make([]domain.Card, 0, len(cards))
	for _, c := range cards {
		if seen[c.Key] {
			continue
		}
		seen[c.Key] = true
		out = append(out, c)
	}
	return out
}

// sinkErrors flattens a joined sink error into one message per sink
func sinkErrors(err error) []string {
	var joined interface{ Unwrap() []error }
	if errors.As(err, &joined) {
		var out []string
		for _, e := range joined.Unwrap() {
			out = append(out, e.Error())
		}
		return out
	}
	return []string{fmt.Sprint(err)}
}
