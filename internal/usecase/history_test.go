package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alabenkhlifa/automobile-tn-scrapper/internal/domain"
	"github.com/alabenkhlifa/automobile-tn-scrapper/internal/logging"
)

func pricedCar(key, brand, model string, price int) *domain.Record {
	return newRecord(key, map[domain.Field]any{
		domain.FieldMake:     brand,
		domain.FieldModel:    model,
		domain.FieldFullName: brand + " " + model,
		domain.FieldPrice:    price,
		domain.FieldMileage:  50000,
		domain.FieldFuelType: "diesel",
	})
}

func TestDiff_FirstRunAddsEverything(t *testing.T) {
	current := domain.Snapshot{Partition: "de", Records: []*domain.Record{
		pricedCar("a", "BMW", "320", 20000),
		pricedCar("b", "Audi", "A4", 25000),
	}}

	entry := Diff(nil, current, DefaultTrackedFields)

	if entry.Summary.TotalBefore != 0 || entry.Summary.TotalAfter != 2 {
		t.Errorf("Expected 0 -> 2, got %d -> %d", entry.Summary.TotalBefore, entry.Summary.TotalAfter)
	}
	if entry.Summary.RecordsAdded != 2 {
		t.Errorf("Expected 2 added records, got %d", entry.Summary.RecordsAdded)
	}
	if got := entry.Changes.MakesAdded; len(got) != 2 || got[0] != "Audi" || got[1] != "BMW" {
		t.Errorf("Expected sorted makes [Audi BMW], got %v", got)
	}
	if entry.Changes.PriceChanges == nil || entry.Changes.RecordsRemoved == nil {
		t.Error("Expected empty change lists, not nil")
	}
}

func TestDiff_PriceChangesSortedByMagnitude(t *testing.T) {
	previous := &domain.Snapshot{Partition: "de", Records: []*domain.Record{
		pricedCar("a", "BMW", "320", 10000),
		pricedCar("b", "BMW", "X1", 20000),
		pricedCar("c", "Audi", "A4", 15000),
	}}
	current := domain.Snapshot{Partition: "de", Records: []*domain.Record{
		pricedCar("a", "BMW", "320", 10500),
		pricedCar("b", "BMW", "X1", 18000),
		pricedCar("c", "Audi", "A4", 15000),
	}}

	entry := Diff(previous, current, DefaultTrackedFields)

	changes := entry.Changes.PriceChanges
	if len(changes) != 2 {
		t.Fatalf("Expected 2 price changes, got %d", len(changes))
	}
	if changes[0].Key != "b" || changes[0].Change != -2000 || changes[0].ChangePct != -10 {
		t.Errorf("Expected b first with -2000 (-10%%), got %+v", changes[0])
	}
	if changes[1].Key != "a" || changes[1].ChangePct != 5 {
		t.Errorf("Expected a second with +5%%, got %+v", changes[1])
	}
	if entry.Summary.PriceDrops != 1 || entry.Summary.PriceIncreases != 1 {
		t.Errorf("Expected 1 drop and 1 increase, got %d/%d", entry.Summary.PriceDrops, entry.Summary.PriceIncreases)
	}
	if entry.Summary.RecordsAdded != 0 || entry.Summary.RecordsRemoved != 0 {
		t.Errorf("Expected no added or removed records, got %+v", entry.Summary)
	}
}

func TestDiff_RemovedRecordsAndModels(t *testing.T) {
	previous := &domain.Snapshot{Partition: "de", Records: []*domain.Record{
		pricedCar("a", "BMW", "320", 10000),
		pricedCar("b", "Audi", "A4", 15000),
	}}
	current := domain.Snapshot{Partition: "de", Records: []*domain.Record{
		pricedCar("a", "BMW", "320", 10000),
		pricedCar("c", "BMW", "X1", 30000),
	}}

	entry := Diff(previous, current, DefaultTrackedFields)

	if len(entry.Changes.RecordsRemoved) != 1 || entry.Changes.RecordsRemoved[0].Key != "b" {
		t.Errorf("Expected b removed, got %+v", entry.Changes.RecordsRemoved)
	}
	if len(entry.Changes.MakesRemoved) != 1 || entry.Changes.MakesRemoved[0] != "Audi" {
		t.Errorf("Expected Audi removed, got %v", entry.Changes.MakesRemoved)
	}
	want := domain.MakeModel{Make: "BMW", Model: "X1"}
	if len(entry.Changes.ModelsAdded) != 1 || entry.Changes.ModelsAdded[0] != want {
		t.Errorf("Expected BMW X1 added, got %v", entry.Changes.ModelsAdded)
	}
}

func TestDiff_TrackedFieldChanges(t *testing.T) {
	old := pricedCar("a", "BMW", "320", 10000)
	updated := pricedCar("a", "BMW", "320", 10000)
	updated.Attrs[domain.FieldMileage] = domain.NumberValue(52000)
	updated.Attrs[domain.FieldColorExterior] = domain.TextValue("Rot")

	entry := Diff(
		&domain.Snapshot{Partition: "de", Records: []*domain.Record{old}},
		domain.Snapshot{Partition: "de", Records: []*domain.Record{updated}},
		[]domain.Field{domain.FieldMileage},
	)

	if len(entry.Changes.FieldChanges) != 1 {
		t.Fatalf("Expected 1 field change, got %+v", entry.Changes.FieldChanges)
	}
	fc := entry.Changes.FieldChanges[0]
	if fc.Field != domain.FieldMileage || fc.OldValue != "50000" || fc.NewValue != "52000" {
		t.Errorf("Unexpected field change %+v", fc)
	}
}

func TestAppendEntry_ReplacesSameDayAndSortsNewestFirst(t *testing.T) {
	history := &domain.History{Entries: []domain.HistoryEntry{
		{Date: "2025-05-30", Partition: "de"},
		{Date: "2025-05-31", Partition: "tn"},
		{Date: "2025-05-31", Partition: "de", Summary: domain.HistorySummary{TotalAfter: 1}},
	}}

	AppendEntry(history, domain.HistoryEntry{Date: "2025-05-31", Partition: "de", Summary: domain.HistorySummary{TotalAfter: 9}})
	AppendEntry(history, domain.HistoryEntry{Date: "2025-06-01", Partition: "fr"})

	want := []string{"2025-06-01/fr", "2025-05-31/de", "2025-05-31/tn", "2025-05-30/de"}
	if len(history.Entries) != len(want) {
		t.Fatalf("Expected %d entries, got %d", len(want), len(history.Entries))
	}
	for i, e := range history.Entries {
		if got := e.Date + "/" + e.Partition; got != want[i] {
			t.Errorf("Entry %d: expected %s, got %s", i, want[i], got)
		}
	}
	if history.Entries[1].Summary.TotalAfter != 9 {
		t.Errorf("Expected replaced entry, got %+v", history.Entries[1].Summary)
	}
}

func newHistoryService() (*HistoryService, *MockSnapshotStore, *MockHistoryRepository) {
	snapshots := NewMockSnapshotStore()
	repo := NewMockHistoryRepository()
	svc := NewHistoryService(snapshots, repo, nil, logging.Discard())
	svc.now = cleaningNow
	return svc, snapshots, repo
}

func TestHistoryService_RecordStoresEntryAndSnapshot(t *testing.T) {
	svc, snapshots, repo := newHistoryService()
	startedAt := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	result := domain.PartitionResult{
		Partition: "de",
		StartedAt: startedAt,
		Records:   []*domain.Record{pricedCar("a", "BMW", "320", 10000)},
	}

	entry, recorded, err := svc.Record(context.Background(), result)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !recorded {
		t.Fatal("Expected entry recorded")
	}
	if entry.Date != "2025-06-01" || entry.Partition != "de" {
		t.Errorf("Unexpected entry %s/%s", entry.Date, entry.Partition)
	}
	if repo.saves != 1 || len(repo.history.Entries) != 1 {
		t.Errorf("Expected one saved history entry, got %d saves", repo.saves)
	}
	snap, err := snapshots.Load(context.Background(), "de")
	if err != nil {
		t.Fatalf("Expected snapshot stored: %v", err)
	}
	if !snap.ScrapedAt.Equal(startedAt) || len(snap.Records) != 1 {
		t.Errorf("Unexpected snapshot %+v", snap)
	}
}

func TestHistoryService_SkipsAlreadyRecordedResult(t *testing.T) {
	svc, _, repo := newHistoryService()
	result := domain.PartitionResult{
		Partition: "de",
		StartedAt: time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC),
		Records:   []*domain.Record{pricedCar("a", "BMW", "320", 10000)},
	}

	if _, recorded, _ := svc.Record(context.Background(), result); !recorded {
		t.Fatal("Expected first result recorded")
	}
	if _, recorded, _ := svc.Record(context.Background(), result); recorded {
		t.Error("Expected same scrape to be skipped")
	}
	if repo.saves != 1 {
		t.Errorf("Expected 1 save, got %d", repo.saves)
	}
}

func TestHistoryService_SkipsEmptyResult(t *testing.T) {
	svc, _, repo := newHistoryService()

	_, recorded, err := svc.Record(context.Background(), domain.PartitionResult{Partition: "de", Records: []*domain.Record{}})
	if err != nil || recorded {
		t.Errorf("Expected silent skip, got recorded=%v err=%v", recorded, err)
	}
	if repo.saves != 0 {
		t.Errorf("Expected no save, got %d", repo.saves)
	}
}

func TestHistoryService_SnapshotLoadError(t *testing.T) {
	svc, snapshots, _ := newHistoryService()
	snapshots.loadErr = errors.New("disk gone")

	_, _, err := svc.Record(context.Background(), domain.PartitionResult{
		Partition: "de",
		Records:   []*domain.Record{pricedCar("a", "BMW", "320", 10000)},
	})
	if err == nil {
		t.Error("Expected error, got nil")
	}
}

func TestHistoryService_EntriesFiltersAndLimits(t *testing.T) {
	svc, _, repo := newHistoryService()
	repo.history = domain.History{Entries: []domain.HistoryEntry{
		{Date: "2025-06-03", Partition: "de"},
		{Date: "2025-06-03", Partition: "tn"},
		{Date: "2025-06-02", Partition: "de"},
		{Date: "2025-06-01", Partition: "de"},
	}}

	all, err := svc.Entries(context.Background(), "", 0)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(all) != 4 {
		t.Errorf("Expected 4 entries, got %d", len(all))
	}

	de, _ := svc.Entries(context.Background(), "de", 2)
	if len(de) != 2 {
		t.Fatalf("Expected 2 de entries, got %d", len(de))
	}
	if de[0].Date != "2025-06-03" || de[1].Date != "2025-06-02" {
		t.Errorf("Expected newest de entries first, got %s and %s", de[0].Date, de[1].Date)
	}
}
