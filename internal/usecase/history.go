package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/alabenkhlifa/automobile-tn-scrapper/internal/domain"
)

// DefaultTrackedFields are compared between runs for records present in both
var DefaultTrackedFields = []domain.Field{
	domain.FieldFuelType,
	domain.FieldEngineCC,
	domain.FieldPowerKW,
	domain.FieldPowerHP,
	domain.FieldFiscalPower,
	domain.FieldTransmission,
	domain.FieldGears,
	domain.FieldDrivetrain,
	domain.FieldBodyType,
	domain.FieldDoors,
	domain.FieldSeats,
	domain.FieldCO2Emissions,
	domain.FieldConsumptionCombined,
	domain.FieldMileage,
	domain.FieldCondition,
	domain.FieldSellerType,
}

// HistoryService diffs each partition's result against the previous snapshot
// and keeps one history entry per partition and day
type HistoryService struct {
	snapshots domain.SnapshotStore
	history   domain.HistoryRepository
	tracked   []domain.Field
	now       func() time.Time
	log       logrus.FieldLogger
}

// NewHistoryService creates a history service. A nil tracked list uses DefaultTrackedFields.
func NewHistoryService(snapshots domain.SnapshotStore, history domain.HistoryRepository, tracked []domain.Field, log logrus.FieldLogger) *HistoryService {
	if tracked == nil {
		tracked = DefaultTrackedFields
	}
	return &HistoryService{snapshots: snapshots, history: history, tracked: tracked, now: time.Now, log: log}
}

// Record diffs result against the stored snapshot, stores result as the new
// snapshot and appends the entry to the history. It reports false when the
// result was already recorded or carries no records.
func (s *HistoryService) Record(ctx context.Context, result domain.PartitionResult) (domain.HistoryEntry, bool, error) {
	if len(result.Records) == 0 {
		return domain.HistoryEntry{}, false, nil
	}
	current := domain.Snapshot{Partition: result.Partition, ScrapedAt: result.StartedAt, Records: result.Records}

	previous, err := s.snapshots.Load(ctx, result.Partition)
	if err != nil && !errors.Is(err, domain.ErrSnapshotMissing) {
		return domain.HistoryEntry{}, false, fmt.Errorf("load snapshot: %w", err)
	}
	if previous != nil && previous.ScrapedAt.Equal(current.ScrapedAt) {
		return domain.HistoryEntry{}, false, nil
	}

	entry := Diff(previous, current, s.tracked)
	entry.Date = s.now().UTC().Format("2006-01-02")

	history, err := s.history.Load(ctx)
	if err != nil {
		return domain.HistoryEntry{}, false, fmt.Errorf("load history: %w", err)
	}
	AppendEntry(history, entry)
	if err := s.history.Save(ctx, history); err != nil {
		return domain.HistoryEntry{}, false, fmt.Errorf("save history: %w", err)
	}
	if err := s.snapshots.Save(ctx, current); err != nil {
		return domain.HistoryEntry{}, false, fmt.Errorf("save snapshot: %w", err)
	}

	sum := entry.Summary
	s.log.WithField("partition", result.Partition).Infof(
		"[HISTORY] %d -> %d records, +%d -%d, %d price changes (%d down, %d up), %d field changes",
		sum.TotalBefore, sum.TotalAfter, sum.RecordsAdded, sum.RecordsRemoved,
		sum.PriceChanges, sum.PriceDrops, sum.PriceIncreases, sum.FieldChanges,
	)
	return entry, true, nil
}

// Entries returns the stored history entries, newest first. A non-empty
// partition keeps only that partition's entries; limit <= 0 keeps all.
func (s *HistoryService) Entries(ctx context.Context, partition string, limit int) ([]domain.HistoryEntry, error) {
	history, err := s.history.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	entries := make([]domain.HistoryEntry, 0, len(history.Entries))
	for _, e := range history.Entries {
		if partition != "" && e.Partition != partition {
			continue
		}
		entries = append(entries, e)
		if limit > 0 && len(entries) == limit {
			break
		}
	}
	return entries, nil
}

// AppendEntry replaces any entry of the same partition and date, then keeps
// the entries newest first
func AppendEntry(history *domain.History, entry domain.HistoryEntry) {
	kept := history.Entries[:0]
	for _, e := range history.Entries {
		if e.Date == entry.Date && e.Partition == entry.Partition {
			continue
		}
		kept = append(kept, e)
	}
	history.Entries = append(kept, entry)
	sort.SliceStable(history.Entries, func(i, j int) bool {
		a, b := history.Entries[i], history.Entries[j]
		if a.Date != b.Date {
			return a.Date > b.Date
		}
		return a.Partition < b.Partition
	})
}

// Diff compares two snapshots of a partition. previous may be nil.
func Diff(previous *domain.Snapshot, current domain.Snapshot, tracked []domain.Field) domain.HistoryEntry {
	entry := domain.HistoryEntry{Partition: current.Partition, CurrentScrape: current.ScrapedAt}
	prev := map[string]*domain.Record{}
	if previous != nil {
		entry.PreviousScrape = previous.ScrapedAt
		prev = byKey(previous.Records)
	}
	curr := byKey(current.Records)

	changes := domain.HistoryChanges{
		MakesAdded:     []string{},
		MakesRemoved:   []string{},
		ModelsAdded:    []domain.MakeModel{},
		ModelsRemoved:  []domain.MakeModel{},
		RecordsAdded:   []domain.RecordSummary{},
		RecordsRemoved: []domain.RecordSummary{},
		PriceChanges:   []domain.PriceChange{},
		FieldChanges:   []domain.FieldChange{},
	}

	for _, key := range sortedKeys(curr) {
		r := curr[key]
		old, ok := prev[key]
		if !ok {
			changes.RecordsAdded = append(changes.RecordsAdded, summarize(r))
			continue
		}
		if pc, ok := priceChange(old, r); ok {
			changes.PriceChanges = append(changes.PriceChanges, pc)
		}
		for _, f := range tracked {
			ov, nv := old.Attrs.Text(f), r.Attrs.Text(f)
			if ov != nv {
				changes.FieldChanges = append(changes.FieldChanges, domain.FieldChange{
					Key: key, FullName: r.Attrs.Text(domain.FieldFullName), Field: f, OldValue: ov, NewValue: nv,
				})
			}
		}
	}
	for _, key := range sortedKeys(prev) {
		if _, ok := curr[key]; !ok {
			changes.RecordsRemoved = append(changes.RecordsRemoved, summarize(prev[key]))
		}
	}
	sort.SliceStable(changes.PriceChanges, func(i, j int) bool {
		return math.Abs(changes.PriceChanges[i].Change) > math.Abs(changes.PriceChanges[j].Change)
	})

	prevMakes, prevModels := makesAndModels(prev)
	currMakes, currModels := makesAndModels(curr)
	changes.MakesAdded = append(changes.MakesAdded, missing(currMakes, prevMakes)...)
	changes.MakesRemoved = append(changes.MakesRemoved, missing(prevMakes, currMakes)...)
	for _, k := range missing(currModels, prevModels) {
		changes.ModelsAdded = append(changes.ModelsAdded, currModels[k])
	}
	for _, k := range missing(prevModels, currModels) {
		changes.ModelsRemoved = append(changes.ModelsRemoved, prevModels[k])
	}

	entry.Changes = changes
	entry.Summary = domain.HistorySummary{
		TotalBefore:    len(prev),
		TotalAfter:     len(curr),
		MakesAdded:     len(changes.MakesAdded),
		MakesRemoved:   len(changes.MakesRemoved),
		ModelsAdded:    len(changes.ModelsAdded),
		ModelsRemoved:  len(changes.ModelsRemoved),
		RecordsAdded:   len(changes.RecordsAdded),
		RecordsRemoved: len(changes.RecordsRemoved),
		PriceChanges:   len(changes.PriceChanges),
		FieldChanges:   len(changes.FieldChanges),
	}
	for _, pc := range changes.PriceChanges {
		if pc.Change < 0 {
			entry.Summary.PriceDrops++
		} else {
			entry.Summary.PriceIncreases++
		}
	}
	return entry
}

func priceChange(old, r *domain.Record) (domain.PriceChange, bool) {
	op, okOld := old.Attrs.Number(domain.FieldPrice)
	np, okNew := r.Attrs.Number(domain.FieldPrice)
	if !okOld || !okNew || op == 0 || np == 0 || op == np {
		return domain.PriceChange{}, false
	}
	delta := np - op
	return domain.PriceChange{
		Key:       r.Key,
		FullName:  r.Attrs.Text(domain.FieldFullName),
		Make:      r.Attrs.Text(domain.FieldMake),
		Model:     r.Attrs.Text(domain.FieldModel),
		OldPrice:  op,
		NewPrice:  np,
		Change:    delta,
		ChangePct: math.Round(delta/op*10000) / 100,
	}, true
}

func summarize(r *domain.Record) domain.RecordSummary {
	return domain.RecordSummary{
		Key:      r.Key,
		FullName: r.Attrs.Text(domain.FieldFullName),
		Make:     r.Attrs.Text(domain.FieldMake),
		Model:    r.Attrs.Text(domain.FieldModel),
		Price:    r.Attrs.Text(domain.FieldPrice),
		FuelType: r.Attrs.Text(domain.FieldFuelType),
		URL:      r.URL,
	}
}

func byKey(records []*domain.Record) map[string]*domain.Record {
	out := make(map[string]*domain.Record, len(records))
	for _, r := range records {
		if _, dup := out[r.Key]; !dup {
			out[r.Key] = r
		}
	}
	return out
}

func makesAndModels(records map[string]*domain.Record) (map[string]string, map[string]domain.MakeModel) {
	makes := map[string]string{}
	models := map[string]domain.MakeModel{}
	for _, r := range records {
		mk, md := r.Attrs.Text(domain.FieldMake), r.Attrs.Text(domain.FieldModel)
		makes[mk] = mk
		models[mk+"|"+md] = domain.MakeModel{Make: mk, Model: md}
	}
	return makes, models
}

// missing returns the sorted keys of a that are absent from b
func missing[V any](a, b map[string]V) []string {
	var out []string
	for k := range a {
		if _, ok := b[k]; !ok {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
