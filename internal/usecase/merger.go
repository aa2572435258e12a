package usecase

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/alabenkhlifa/automobile-tn-scrapper/internal/domain"
)

// DefaultMergeWorkers bounds the goroutines MergeAll keeps alive. The gate's
// admission pool still bounds the requests in flight.
const DefaultMergeWorkers = 16

// DetailMerger enriches cards with their detail pages
type DetailMerger struct {
	parser  domain.MarkupParser
	workers int
	now     func() time.Time
	log     logrus.FieldLogger
}

// NewDetailMerger creates a merger. A non-positive workers value uses DefaultMergeWorkers.
func NewDetailMerger(parser domain.MarkupParser, workers int, log logrus.FieldLogger) *DetailMerger {
	if workers <= 0 {
		workers = DefaultMergeWorkers
	}
	return &DetailMerger{parser: parser, workers: workers, now: time.Now, log: log}
}

// Merge fetches the card's detail page and merges it into a record. Any fetch
// failure degrades the record to exactly the card's fields; it is never dropped.
func (m *DetailMerger) Merge(ctx context.Context, fetcher domain.Fetcher, partition domain.Partition, card domain.Card) *domain.Record {
	record := domain.NewRecordFromCard(card, m.now())
	if card.URL == "" {
		return record
	}

	outcome := fetcher.Fetch(ctx, domain.NewFetchRequest(partition.Name, card.URL))
	if !outcome.OK() {
		m.log.WithFields(logrus.Fields{
			"partition": partition.Name,
			"key":       card.Key,
			"outcome":   outcome.Kind.String(),
		}).Debug("[MERGE] detail fetch failed, keeping card fields")
		return record
	}

	doc, err := m.parser.Parse(outcome.Body)
	if err != nil {
		m.log.WithError(err).WithField("key", card.Key).Debug("[MERGE] detail page not parsable")
		return record
	}

	m.apply(record, partition.Profile, doc)
	record.DetailMerged = true
	return record
}

// apply merges detail sources in priority order on top of the card's fields:
// structured data, labeled specs, the seller section, then free text
func (m *DetailMerger) apply(record *domain.Record, profile domain.SiteProfile, doc domain.Document) {
	attrs := record.Attrs

	for _, obj := range doc.StructuredData() {
		attrs.Merge(profile.ParseStructured(obj))
	}
	for _, pair := range doc.LabeledPairs() {
		if field, ok := profile.Lookup(pair.Label); ok {
			attrs.Merge(profile.Parse(field, pair.Value))
		}
	}
	if selector := profile.SellerSelector(); selector != "" {
		if section, ok := doc.First(selector); ok {
			attrs.Merge(profile.ParseSeller(section))
		}
	}
	attrs.Merge(profile.ParseText(doc.Text(), attrs))
	attrs.Merge(profile.Defaults())

	for _, item := range doc.ListItems(profile.FeatureContainer()) {
		if group := profile.ClassifyFeature(item); group != "" {
			record.AddFeature(group, item)
		}
	}
}

// MergeAll merges every card concurrently. Records keep the order of cards.
func (m *DetailMerger) MergeAll(ctx context.Context, fetcher domain.Fetcher, partition domain.Partition, cards []domain.Card) []*domain.Record {
	records := make([]*domain.Record, len(cards))

	var g errgroup.Group
	g.SetLimit(m.workers)
	for i, card := range cards {
		g.Go(func() error {
			records[i] = m.Merge(ctx, fetcher, partition, card)
			return nil
		})
	}
	_ = g.Wait()
	return records
}

// PromoteAll turns cards into records without fetching detail pages
func (m *DetailMerger) PromoteAll(cards []domain.Card) []*domain.Record {
	records := make([]*domain.Record, len(cards))
	now := m.now()
	for i, card := range cards {
		records[i] = domain.NewRecordFromCard(card, now)
	}
	return records
}
