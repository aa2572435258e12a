package usecase

import (
	"context"
	"testing"

	"github.com/alabenkhlifa/automobile-tn-scrapper/internal/domain"
	"github.com/alabenkhlifa/automobile-tn-scrapper/internal/infrastructure/markup"
	"github.com/alabenkhlifa/automobile-tn-scrapper/internal/logging"
)

func newMerger() *DetailMerger {
	return NewDetailMerger(markup.NewParser(), 4, logging.Discard())
}

func listingCards(t *testing.T) (domain.Partition, []domain.Card) {
	t.Helper()
	partition := loadPartition(t, "de")
	cards := newExtractor().Extract(partition, readFixture(t, "listing_de.html"))
	if len(cards) != 2 {
		t.Fatalf("Expected 2 listing cards, got %d", len(cards))
	}
	return partition, cards
}

func TestDetailMerger_MergesDetailPage(t *testing.T) {
	partition, cards := listingCards(t)
	card := cards[0]
	fetcher := NewMockFetcher().Page(card.URL, readFixture(t, "detail_de.html"))

	record := newMerger().Merge(context.Background(), fetcher, partition, card)

	if !record.DetailMerged {
		t.Fatal("Expected record to be detail merged")
	}
	if record.Key != card.Key || record.URL != card.URL {
		t.Errorf("Expected identity %s/%s, got %s/%s", card.Key, card.URL, record.Key, record.URL)
	}

	tests := []struct {
		field domain.Field
		want  string
	}{
		{domain.FieldPrice, "18900"},
		{domain.FieldMileage, "64000"},
		{domain.FieldFullName, "BMW 320 d Touring"},
		{domain.FieldSellerName, "Autohaus Süd"},
		{domain.FieldVariant, "d Touring Sport Line"},
		{domain.FieldBodyType, "Kombi"},
		{domain.FieldDoors, "5"},
		{domain.FieldSeats, "5"},
		{domain.FieldColorExterior, "Schwarz"},
		{domain.FieldEngineCC, "1995"},
		{domain.FieldPreviousOwners, "2"},
		{domain.FieldDrivetrain, "RWD"},
		{domain.FieldConsumptionCombined, "5.1"},
		{domain.FieldCO2Emissions, "134"},
		{domain.FieldEmissionClass, "Euro 6d"},
		{domain.FieldColorInterior, "Beige"},
		{domain.FieldVATDeductible, "true"},
	}
	for _, tt := range tests {
		if got := record.Attrs.Text(tt.field); got != tt.want {
			t.Errorf("Field %s: expected %q, got %q", tt.field, tt.want, got)
		}
	}

	if got := record.Features[domain.FeatureSafety]; len(got) != 2 {
		t.Errorf("Expected 2 safety features, got %v", got)
	}
	if got := record.Features[domain.FeatureComfort]; len(got) != 1 || got[0] != "Sitzheizung" {
		t.Errorf("Expected comfort feature Sitzheizung, got %v", got)
	}
	if got := record.Features[domain.FeatureGeneral]; len(got) != 1 {
		t.Errorf("Expected 1 general feature, got %v", got)
	}
}

func TestDetailMerger_FailureKeepsExactlyCardFields(t *testing.T) {
	failures := map[string]domain.FetchOutcome{
		"blocked":      domain.Blocked(403),
		"rate limited": domain.RateLimited(429),
		"not found":    domain.NotFound(),
		"transient":    domain.TransientError(context.DeadlineExceeded),
	}

	for name, outcome := range failures {
		t.Run(name, func(t *testing.T) {
			card := domain.NewCard("de")
			card.Key = "A/1"
			card.URL = "https://www.autoscout24.de/angebote/a-1"
			card.Attrs[domain.FieldPrice] = domain.NumberValue(20000)
			card.Attrs[domain.FieldMileage] = domain.NumberValue(50000)
			fetcher := NewMockFetcher().Outcome(card.URL, outcome)

			record := newMerger().Merge(context.Background(), fetcher, loadPartition(t, "de"), card)

			if record == nil {
				t.Fatal("Expected a record, got nil")
			}
			if record.DetailMerged {
				t.Error("Expected record not to be detail merged")
			}
			fields := record.Attrs.Fields()
			if len(fields) != 2 {
				t.Errorf("Expected exactly the card's 2 fields, got %v", fields)
			}
			if v, _ := record.Attrs.Number(domain.FieldPrice); v != 20000 {
				t.Errorf("Expected price 20000, got %v", v)
			}
			if v, _ := record.Attrs.Number(domain.FieldMileage); v != 50000 {
				t.Errorf("Expected mileage 50000, got %v", v)
			}
		})
	}
}

func TestDetailMerger_DoesNotMutateCard(t *testing.T) {
	partition, cards := listingCards(t)
	card := cards[1]
	before := len(card.Attrs)
	fetcher := NewMockFetcher().Page(card.URL, readFixture(t, "detail_de.html"))

	newMerger().Merge(context.Background(), fetcher, partition, card)

	if len(card.Attrs) != before {
		t.Errorf("Expected card to keep %d fields, got %d", before, len(card.Attrs))
	}
}

func TestDetailMerger_MergeAllKeepsOrder(t *testing.T) {
	partition, cards := listingCards(t)
	fetcher := NewMockFetcher().
		Page(cards[0].URL, readFixture(t, "detail_de.html")).
		Outcome(cards[1].URL, domain.Blocked(403))

	records := newMerger().MergeAll(context.Background(), fetcher, partition, cards)

	if len(records) != len(cards) {
		t.Fatalf("Expected %d records, got %d", len(cards), len(records))
	}
	for i := range cards {
		if records[i].Key != cards[i].Key {
			t.Errorf("Record %d: expected key %s, got %s", i, cards[i].Key, records[i].Key)
		}
	}
	if !records[0].DetailMerged || records[1].DetailMerged {
		t.Errorf("Expected only the first record merged, got %v/%v", records[0].DetailMerged, records[1].DetailMerged)
	}
	if len(fetcher.Calls()) != 2 {
		t.Errorf("Expected 2 detail fetches, got %d", len(fetcher.Calls()))
	}
}

func TestDetailMerger_CardWithoutURLIsNotFetched(t *testing.T) {
	card := domain.NewCard("de")
	card.Key = "x"
	fetcher := NewMockFetcher()

	record := newMerger().Merge(context.Background(), fetcher, loadPartition(t, "de"), card)

	if record.Key != "x" {
		t.Errorf("Expected key x, got %s", record.Key)
	}
	if len(fetcher.Calls()) != 0 {
		t.Errorf("Expected no fetch, got %v", fetcher.Calls())
	}
}

func TestDetailMerger_PromoteAll(t *testing.T) {
	_, cards := listingCards(t)
	records := newMerger().PromoteAll(cards)

	for i, r := range records {
		if r.DetailMerged {
			t.Errorf("Record %d: expected card-only record", i)
		}
		if len(r.Attrs) != len(cards[i].Attrs) {
			t.Errorf("Record %d: expected %d fields, got %d", i, len(cards[i].Attrs), len(r.Attrs))
		}
	}
}
