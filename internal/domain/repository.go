package domain

import (
	"context"
	"net/http"
	"time"
)

// Fetcher executes fetches for one partition through the fetch gate
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest) FetchOutcome
}

// PartitionFetcher is a Fetcher bound to one partition's rate-limit and
// circuit state
type PartitionFetcher interface {
	Fetcher
	Stats() FetchStats
	CircuitOpen() bool
}

// FetchGate hands out partition-bound fetchers. Every call starts from fresh
// partition state; partitions never share it.
type FetchGate interface {
	Partition(name, acceptLanguage string) PartitionFetcher
}

// Transport is the network fetch collaborator: GET a URL and return status and
// body, following redirects. Errors are transport-level failures only.
type Transport interface {
	Get(ctx context.Context, url string, headers http.Header) (status int, body []byte, err error)
}

// LabeledPair is one key/value pair from a labeled specification region
type LabeledPair struct {
	Label string
	Value string
}

// Item is one repeating item container on a listing page
type Item interface {
	Attr(name string) string
	Link() string
	Heading() string
	LabeledPairs() []LabeledPair
	Text() string
	TextOf(selector string) string
	Count(selector string) int
}

// Document is a parsed page exposing the structural queries the core needs
type Document interface {
	Items(selector string) []Item
	First(selector string) (Item, bool)
	LabeledPairs() []LabeledPair
	StructuredData() []map[string]any
	EmbeddedJSON(id string) (map[string]any, bool)
	ListItems(containerPattern string) []string
	Text() string
}

// MarkupParser is the markup-parsing collaborator
type MarkupParser interface {
	Parse(body []byte) (Document, error)
}

// AttributeRule maps a structured attribute on an item container to a field.
// Values optionally translates coded attribute values (e.g. "d" -> "diesel").
type AttributeRule struct {
	Attr      string            `yaml:"attr"`
	Field     Field             `yaml:"field"`
	Values    map[string]string `yaml:"values,omitempty"`
	Transform string            `yaml:"transform,omitempty"`
}

// SelectorRule reads a field from the text of a nested element, or from the
// number of matching elements when Count is set.
type SelectorRule struct {
	Selector string `yaml:"selector"`
	Field    Field  `yaml:"field"`
	Count    bool   `yaml:"count,omitempty"`
}

// FieldMapper is the per-partition field-mapping collaborator: localized labels
// to canonical fields and value-parsing rules.
type FieldMapper interface {
	AttributeRules() []AttributeRule
	SelectorRules() []SelectorRule
	Lookup(label string) (Field, bool)
	Parse(field Field, raw string) Attributes
	ParseAttribute(rule AttributeRule, raw string) Attributes
	ParseText(text string, known Attributes) Attributes
	ParseStructured(obj map[string]any) Attributes
	ParseSeller(section Item) Attributes
	SellerSelector() string
	Defaults() Attributes
	CleanHeading(raw, make, model string) string
	ClassifyFeature(name string) FeatureGroup
	FeatureContainer() string
}

// Identity is the resolved identity of an item: a stable key, its detail URL
// and any fields encoded in the URL itself.
type Identity struct {
	Key   string
	URL   string
	Attrs Attributes
}

// CatalogEntry is one taxonomy node (a make or a model)
type CatalogEntry struct {
	Label string `json:"label"`
	Value string `json:"value"`
	Slug  string `json:"slug"`
}

// SearchQuery selects one search-results page
type SearchQuery struct {
	Make        string
	Category    CatalogEntry
	Subcategory CatalogEntry
	Page        int
	Condition   string
	MinPrice    int
	MaxPrice    int
}

// SearchSpace builds the URLs of a partition's search space
type SearchSpace interface {
	SearchURL(q SearchQuery) string
	CatalogURL() string
	SubcatalogURL(category CatalogEntry) string
	ResolveIdentity(href, guid string) (Identity, bool)
	ItemSelector() string
	IdentityAttr() string
	AcceptLanguage() string
}

// CatalogReader reads taxonomy catalogs from catalog pages
type CatalogReader interface {
	Categories(doc Document) []CatalogEntry
	Subcategories(doc Document, category CatalogEntry) []CatalogEntry
}

// SiteProfile bundles everything site-specific for one partition
type SiteProfile interface {
	FieldMapper
	SearchSpace
	CatalogReader
	Name() string
}

// ProfileProvider resolves the site profile for a partition
type ProfileProvider interface {
	Profile(partition string) (SiteProfile, error)
}

// RecordSink is the output collaborator. It receives a finished partition's
// immutable record set plus statistics.
type RecordSink interface {
	Name() string
	Write(ctx context.Context, result PartitionResult) error
	Close() error
}

// CacheRepository defines the interface for caching operations
type CacheRepository interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// SnapshotStore persists the last record set per partition for history diffs
type SnapshotStore interface {
	Load(ctx context.Context, partition string) (*Snapshot, error)
	Save(ctx context.Context, snapshot Snapshot) error
	Close() error
}

// HistoryRepository persists the history file
type HistoryRepository interface {
	Load(ctx context.Context) (*History, error)
	Save(ctx context.Context, history *History) error
}
