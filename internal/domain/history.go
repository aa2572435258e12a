package domain

import "time"

// Snapshot is the stored record set of a partition from a previous run
type Snapshot struct {
	Partition string    `json:"partition"`
	ScrapedAt time.Time `json:"scrapedAt"`
	Records   []*Record `json:"records"`
}

// RecordSummary is the lightweight view of a record kept in history entries
type RecordSummary struct {
	Key      string `json:"key"`
	FullName string `json:"fullName"`
	Make     string `json:"make"`
	Model    string `json:"model"`
	Price    string `json:"price,omitempty"`
	FuelType string `json:"fuelType,omitempty"`
	URL      string `json:"url"`
}

// PriceChange describes a price move of a record present in both runs
type PriceChange struct {
	Key       string  `json:"key"`
	FullName  string  `json:"fullName"`
	Make      string  `json:"make"`
	Model     string  `json:"model"`
	OldPrice  float64 `json:"oldPrice"`
	NewPrice  float64 `json:"newPrice"`
	Change    float64 `json:"change"`
	ChangePct float64 `json:"changePct"`
}

// FieldChange describes a tracked field that changed between runs
type FieldChange struct {
	Key      string `json:"key"`
	FullName string `json:"fullName"`
	Field    Field  `json:"field"`
	OldValue string `json:"oldValue"`
	NewValue string `json:"newValue"`
}

// MakeModel identifies a make|model pair
type MakeModel struct {
	Make  string `json:"make"`
	Model string `json:"model"`
}

// HistorySummary counts the changes of one history entry
type HistorySummary struct {
	TotalBefore    int `json:"totalBefore"`
	TotalAfter     int `json:"totalAfter"`
	MakesAdded     int `json:"makesAdded"`
	MakesRemoved   int `json:"makesRemoved"`
	ModelsAdded    int `json:"modelsAdded"`
	ModelsRemoved  int `json:"modelsRemoved"`
	RecordsAdded   int `json:"recordsAdded"`
	RecordsRemoved int `json:"recordsRemoved"`
	PriceChanges   int `json:"priceChanges"`
	PriceDrops     int `json:"priceDrops"`
	PriceIncreases int `json:"priceIncreases"`
	FieldChanges   int `json:"fieldChanges"`
}

// HistoryChanges lists the changes of one history entry
type HistoryChanges struct {
	MakesAdded     []string        `json:"makesAdded"`
	MakesRemoved   []string        `json:"makesRemoved"`
	ModelsAdded    []MakeModel     `json:"modelsAdded"`
	ModelsRemoved  []MakeModel     `json:"modelsRemoved"`
	RecordsAdded   []RecordSummary `json:"recordsAdded"`
	RecordsRemoved []RecordSummary `json:"recordsRemoved"`
	PriceChanges   []PriceChange   `json:"priceChanges"`
	FieldChanges   []FieldChange   `json:"fieldChanges"`
}

// HistoryEntry is one day's diff for a partition
type HistoryEntry struct {
	Date           string         `json:"date"`
	Partition      string         `json:"partition"`
	PreviousScrape time.Time      `json:"previousScrape"`
	CurrentScrape  time.Time      `json:"currentScrape"`
	Summary        HistorySummary `json:"summary"`
	Changes        HistoryChanges `json:"changes"`
}

// History is the persisted list of entries, newest first
type History struct {
	Entries []HistoryEntry `json:"entries"`
}
