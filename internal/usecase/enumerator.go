package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/alabenkhlifa/automobile-tn-scrapper/internal/domain"
)

// Enumeration strategies
const (
	StrategyPaginated = "paginated"
	StrategyTaxonomy  = "taxonomy"
)

// EnumeratorConfig bounds the search space of one partition
type EnumeratorConfig struct {
	// Makes restricts the search to these makes (slugs or labels). Empty means all.
	Makes []string
	// MaxListings caps the cards collected per make search in paginated mode
	MaxListings int
	// MaxPages caps the pages requested per make search. Zero means no cap.
	MaxPages int
	// PerPairLimit caps the cards taken from each (make, model) search in taxonomy mode
	PerPairLimit int
	Condition    string
	MinPrice     int
	MaxPrice     int
	// CatalogTTL is how long taxonomy catalogs stay cached
	CatalogTTL time.Duration
}

// DefaultEnumeratorConfig returns the defaults used by the crawl command
func DefaultEnumeratorConfig() EnumeratorConfig {
	return EnumeratorConfig{
		MaxListings:  200,
		MaxPages:     20,
		PerPairLimit: 20,
		Condition:    "all",
		CatalogTTL:   24 * time.Hour,
	}
}

// Cursor is the position of the next unit of a sequence. A sequence started
// from a cursor resumes at that unit.
type Cursor struct {
	Category    string `json:"category,omitempty"`
	Subcategory string `json:"subcategory,omitempty"`
	Page        int    `json:"page,omitempty"`
	Done        bool   `json:"done,omitempty"`
}

// Unit is one search-space unit: a fetched page and the new cards it yielded
type Unit struct {
	URL     string
	Query   domain.SearchQuery
	Outcome domain.OutcomeKind
	Cards   []domain.Card
}

// Sequence is a lazy sequence of units. Next fetches the next unit and reports
// false once the sequence is exhausted.
type Sequence interface {
	Next(ctx context.Context) (Unit, bool)
	Cursor() Cursor
	RateLimited() bool
}

// Enumerator produces the search-space sequence of a partition
type Enumerator interface {
	Name() string
	Sequence(partition domain.Partition, fetcher domain.Fetcher, from Cursor) Sequence
	// CardOnly reports whether cards found by this strategy skip the detail merge
	CardOnly() bool
}

// Enumeration is the drained result of a sequence
type Enumeration struct {
	Cards       []domain.Card
	Units       int
	RateLimited bool
	Cursor      Cursor
}

// Drain runs seq to exhaustion and collects its cards
func Drain(ctx context.Context, seq Sequence) Enumeration {
	var out Enumeration
	for {
		unit, ok := seq.Next(ctx)
		if !ok {
			break
		}
		out.Units++
		out.Cards = append(out.Cards, unit.Cards...)
	}
	out.RateLimited = seq.RateLimited()
	out.Cursor = seq.Cursor()
	return out
}

// NewEnumerator selects a strategy by name
func NewEnumerator(strategy string, extractor *CardExtractor, parser domain.MarkupParser, cache domain.CacheRepository, cfg EnumeratorConfig, log logrus.FieldLogger) (Enumerator, error) {
	switch strategy {
	case "", StrategyPaginated:
		return NewPaginatedEnumerator(extractor, cfg, log), nil
	case StrategyTaxonomy:
		return NewTaxonomyEnumerator(extractor, parser, cache, cfg, log), nil
	default:
		return nil, fmt.Errorf("%w: unknown enumeration strategy %q", domain.ErrInvalidRequest, strategy)
	}
}

func (cfg EnumeratorConfig) query(q domain.SearchQuery) domain.SearchQuery {
	if cfg.Condition != "all" {
		q.Condition = cfg.Condition
	}
	q.MinPrice = cfg.MinPrice
	q.MaxPrice = cfg.MaxPrice
	return q
}

// PaginatedEnumerator requests page 1, 2, 3... of each make's results
type PaginatedEnumerator struct {
	extractor *CardExtractor
	cfg       EnumeratorConfig
	log       logrus.FieldLogger
}

// NewPaginatedEnumerator creates the paginated-scan strategy
func NewPaginatedEnumerator(extractor *CardExtractor, cfg EnumeratorConfig, log logrus.FieldLogger) *PaginatedEnumerator {
	return &PaginatedEnumerator{extractor: extractor, cfg: cfg, log: log}
}

// Name returns the strategy name
func (e *PaginatedEnumerator) Name() string { return StrategyPaginated }

// CardOnly is false: paginated cards are merged with their detail pages
func (e *PaginatedEnumerator) CardOnly() bool { return false }

// Sequence starts the scan at from, or at the first make when from is empty
func (e *PaginatedEnumerator) Sequence(partition domain.Partition, fetcher domain.Fetcher, from Cursor) Sequence {
	makes := e.cfg.Makes
	if len(makes) == 0 {
		makes = []string{""}
	}
	seq := &paginatedSequence{
		enum:      e,
		partition: partition,
		fetcher:   fetcher,
		makes:     makes,
		page:      1,
		seen:      make(map[string]bool),
		done:      from.Done,
	}
	if from.Category != "" {
		for i, m := range makes {
			if strings.EqualFold(m, from.Category) {
				seq.makeIdx = i
				break
			}
		}
	}
	if from.Page > 1 {
		seq.page = from.Page
	}
	return seq
}

type paginatedSequence struct {
	enum      *PaginatedEnumerator
	partition domain.Partition
	fetcher   domain.Fetcher

	makes     []string
	makeIdx   int
	page      int
	collected int
	seen      map[string]bool

	done        bool
	rateLimited bool
}

func (s *paginatedSequence) Next(ctx context.Context) (Unit, bool) {
	cfg := s.enum.cfg
	for !s.done {
		switch {
		case s.makeIdx >= len(s.makes), ctx.Err() != nil:
			s.done = true
			continue
		case cfg.MaxListings > 0 && s.collected >= cfg.MaxListings,
			cfg.MaxPages > 0 && s.page > cfg.MaxPages:
			s.nextMake()
			continue
		}

		q := cfg.query(domain.SearchQuery{Make: s.makes[s.makeIdx], Page: s.page})
		unit := Unit{URL: s.partition.Profile.SearchURL(q), Query: q}
		outcome := s.fetcher.Fetch(ctx, domain.NewFetchRequest(s.partition.Name, unit.URL))
		unit.Outcome = outcome.Kind

		log := s.enum.log.WithFields(logrus.Fields{"partition": s.partition.Name, "make": q.Make, "page": q.Page})
		if outcome.Kind == domain.OutcomeRateLimited {
			log.Warn("[ENUM] rate limited, stopping pagination")
			s.rateLimited = true
			s.done = true
			return unit, true
		}
		if !outcome.OK() {
			log.WithError(outcome.Err()).Warn("[ENUM] page fetch failed")
			s.nextMake()
			return unit, true
		}

		unit.Cards = s.fresh(s.enum.extractor.Extract(s.partition, outcome.Body))
		log.Infof("[ENUM] %d new listings (total: %d)", len(unit.Cards), s.collected)
		if len(unit.Cards) == 0 {
			s.nextMake()
		} else {
			s.page++
		}
		return unit, true
	}
	return Unit{}, false
}

// fresh keeps the cards not seen earlier in this make search, up to the cap
func (s *paginatedSequence) fresh(cards []domain.Card) []domain.Card {
	limit := s.enum.cfg.MaxListings
	out := make([]domain.Card, 0, len(cards))
	for _, c := range cards {
		if limit > 0 && s.collected >= limit {
			break
		}
		if s.seen[c.Key] {
			continue
		}
		s.seen[c.Key] = true
		s.collected++
		out = append(out, c)
	}
	return out
}

func (s *paginatedSequence) nextMake() {
	s.makeIdx++
	s.page = 1
	s.collected = 0
}

func (s *paginatedSequence) Cursor() Cursor {
	if s.done || s.makeIdx >= len(s.makes) {
		return Cursor{Done: true}
	}
	return Cursor{Category: s.makes[s.makeIdx], Page: s.page}
}

func (s *paginatedSequence) RateLimited() bool { return s.rateLimited }

// TaxonomyEnumerator walks the make catalog, then each make's model catalog,
// and issues one bounded search per (make, model) pair
type TaxonomyEnumerator struct {
	extractor *CardExtractor
	parser    domain.MarkupParser
	cache     domain.CacheRepository
	cfg       EnumeratorConfig
	log       logrus.FieldLogger
}

// NewTaxonomyEnumerator creates the taxonomy strategy. cache may be nil.
func NewTaxonomyEnumerator(extractor *CardExtractor, parser domain.MarkupParser, cache domain.CacheRepository, cfg EnumeratorConfig, log logrus.FieldLogger) *TaxonomyEnumerator {
	return &TaxonomyEnumerator{extractor: extractor, parser: parser, cache: cache, cfg: cfg, log: log}
}

// Name returns the strategy name
func (e *TaxonomyEnumerator) Name() string { return StrategyTaxonomy }

// CardOnly is true: pair searches trade detail for breadth
func (e *TaxonomyEnumerator) CardOnly() bool { return true }

// Sequence starts the walk at from, or at the first make when from is empty
func (e *TaxonomyEnumerator) Sequence(partition domain.Partition, fetcher domain.Fetcher, from Cursor) Sequence {
	return &taxonomySequence{
		enum:      e,
		partition: partition,
		fetcher:   fetcher,
		from:      from,
		seen:      make(map[string]bool),
		done:      from.Done,
	}
}

type taxonomySequence struct {
	enum      *TaxonomyEnumerator
	partition domain.Partition
	fetcher   domain.Fetcher
	from      Cursor

	loaded   bool
	makes    []domain.CatalogEntry
	makeIdx  int
	models   []domain.CatalogEntry
	modelIdx int
	seen     map[string]bool

	done        bool
	rateLimited bool
}

func (s *taxonomySequence) Next(ctx context.Context) (Unit, bool) {
	if !s.loaded {
		s.loaded = true
		s.loadMakes(ctx)
	}

	for !s.done {
		if s.makeIdx >= len(s.makes) || ctx.Err() != nil {
			s.done = true
			break
		}
		if s.models == nil {
			if !s.loadModels(ctx) {
				break
			}
			continue
		}
		if s.modelIdx >= len(s.models) {
			s.makeIdx++
			s.models, s.modelIdx = nil, 0
			continue
		}
		return s.search(ctx), true
	}
	return Unit{}, false
}

func (s *taxonomySequence) search(ctx context.Context) Unit {
	category, subcategory := s.makes[s.makeIdx], s.models[s.modelIdx]
	s.modelIdx++

	q := s.enum.cfg.query(domain.SearchQuery{Category: category, Subcategory: subcategory, Page: 1})
	unit := Unit{URL: s.partition.Profile.SearchURL(q), Query: q}
	outcome := s.fetcher.Fetch(ctx, domain.NewFetchRequest(s.partition.Name, unit.URL))
	unit.Outcome = outcome.Kind

	log := s.enum.log.WithFields(logrus.Fields{"partition": s.partition.Name, "make": category.Slug, "model": subcategory.Label})
	switch {
	case outcome.Kind == domain.OutcomeRateLimited:
		log.Warn("[ENUM] rate limited, stopping taxonomy walk")
		s.rateLimited = true
		s.done = true
		return unit
	case !outcome.OK():
		log.WithError(outcome.Err()).Debug("[ENUM] pair search failed")
		return unit
	}

	cards := s.enum.extractor.Extract(s.partition, outcome.Body)
	if limit := s.enum.cfg.PerPairLimit; limit > 0 && len(cards) > limit {
		cards = cards[:limit]
	}
	for _, c := range cards {
		if s.seen[c.Key] {
			continue
		}
		s.seen[c.Key] = true
		unit.Cards = append(unit.Cards, c)
	}
	if len(unit.Cards) > 0 {
		log.Infof("[ENUM] %d listings", len(unit.Cards))
	}
	return unit
}

func (s *taxonomySequence) loadMakes(ctx context.Context) {
	profile := s.partition.Profile
	url := profile.CatalogURL()
	if url == "" {
		s.done = true
		return
	}
	entries, outcome := s.enum.catalog(ctx, s.partition, s.fetcher, url, profile.Categories)
	if outcome == domain.OutcomeRateLimited {
		s.rateLimited = true
	}
	s.makes = filterMakes(entries, s.enum.cfg.Makes)
	if len(s.makes) == 0 {
		s.enum.log.WithField("partition", s.partition.Name).Warn("[ENUM] no makes discovered")
		s.done = true
		return
	}

	if s.from.Category != "" {
		for i, m := range s.makes {
			if m.Slug == s.from.Category {
				s.makeIdx = i
				return
			}
		}
	}
	s.from = Cursor{}
}

// loadModels reads the model catalog of the current make. It reports false
// when the walk has to stop.
func (s *taxonomySequence) loadModels(ctx context.Context) bool {
	profile := s.partition.Profile
	category := s.makes[s.makeIdx]
	url := profile.SubcatalogURL(category)

	var models []domain.CatalogEntry
	if url != "" {
		var outcome domain.OutcomeKind
		models, outcome = s.enum.catalog(ctx, s.partition, s.fetcher, url, func(doc domain.Document) []domain.CatalogEntry {
			return profile.Subcategories(doc, category)
		})
		if outcome == domain.OutcomeRateLimited {
			s.enum.log.WithField("partition", s.partition.Name).Warn("[ENUM] rate limited while reading models")
			s.rateLimited = true
			s.done = true
			return false
		}
	}
	if models == nil {
		models = []domain.CatalogEntry{}
	}
	s.models = models

	if s.from.Category == category.Slug && s.from.Subcategory != "" {
		for i, m := range models {
			if m.Slug == s.from.Subcategory {
				s.modelIdx = i
				break
			}
		}
	}
	s.from = Cursor{}
	return true
}

func (s *taxonomySequence) Cursor() Cursor {
	if s.done {
		return Cursor{Done: true}
	}
	if !s.loaded {
		return s.from
	}
	if s.makeIdx >= len(s.makes) {
		return Cursor{Done: true}
	}
	c := Cursor{Category: s.makes[s.makeIdx].Slug}
	if s.models != nil && s.modelIdx < len(s.models) {
		c.Subcategory = s.models[s.modelIdx].Slug
	}
	return c
}

func (s *taxonomySequence) RateLimited() bool { return s.rateLimited }

// catalog reads a catalog page through the cache. Only non-empty catalogs are cached.
func (e *TaxonomyEnumerator) catalog(ctx context.Context, partition domain.Partition, fetcher domain.Fetcher, url string, read func(domain.Document) []domain.CatalogEntry) ([]domain.CatalogEntry, domain.OutcomeKind) {
	key := "catalog:" + partition.Name + ":" + url
	if e.cache != nil {
		if data, err := e.cache.Get(ctx, key); err == nil {
			var entries []domain.CatalogEntry
			if err := json.Unmarshal(data, &entries); err == nil {
				return entries, domain.OutcomeSuccess
			}
		}
	}

	outcome := fetcher.Fetch(ctx, domain.NewFetchRequest(partition.Name, url))
	if !outcome.OK() {
		e.log.WithFields(logrus.Fields{"partition": partition.Name, "url": url}).
			WithError(outcome.Err()).Warn("[ENUM] catalog fetch failed")
		return nil, outcome.Kind
	}
	doc, err := e.parser.Parse(outcome.Body)
	if err != nil {
		return nil, outcome.Kind
	}
	entries := read(doc)

	if e.cache != nil && len(entries) > 0 {
		if data, err := json.Marshal(entries); err == nil {
			if err := e.cache.Set(ctx, key, data, e.cfg.CatalogTTL); err != nil {
				e.log.WithError(err).Debug("[ENUM] catalog cache write failed")
			}
		}
	}
	return entries, outcome.Kind
}

// filterMakes keeps the catalog entries whose slug or label matches one of makes
func filterMakes(entries []domain.CatalogEntry, makes []string) []domain.CatalogEntry {
	if len(makes) == 0 {
		return entries
	}
	wanted := make(map[string]bool, len(makes))
	for _, m := range makes {
		wanted[strings.ToLower(strings.TrimSpace(m))] = true
	}
	var out []domain.CatalogEntry
	for _, e := range entries {
		if wanted[strings.ToLower(e.Slug)] || wanted[strings.ToLower(e.Label)] {
			out = append(out, e)
		}
	}
	return out
}
