package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alabenkhlifa/automobile-tn-scrapper/internal/domain"
)

func testSnapshot(partition string) domain.Snapshot {
	return domain.Snapshot{
		Partition: partition,
		ScrapedAt: time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC),
		Records: []*domain.Record{{
			Key:       "84512",
			URL:       "https://www.automobile.tn/fr/occasion/peugeot/208/84512",
			Partition: partition,
			Attrs: domain.Attributes{
				domain.FieldMake:  domain.TextValue("Peugeot"),
				domain.FieldPrice: domain.NumberValue(42500),
			},
		}},
	}
}

func TestSnapshotStore_SaveAndLoad(t *testing.T) {
	store, err := OpenSnapshotStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	_, err = store.Load(ctx, "tn")
	assert.ErrorIs(t, err, domain.ErrSnapshotMissing)

	require.NoError(t, store.Save(ctx, testSnapshot("tn")))
	require.NoError(t, store.Save(ctx, testSnapshot("de")))

	got, err := store.Load(ctx, "tn")
	require.NoError(t, err)
	assert.True(t, got.ScrapedAt.Equal(testSnapshot("tn").ScrapedAt))
	require.Len(t, got.Records, 1)
	assert.Equal(t, "42500", got.Records[0].Attrs.Text(domain.FieldPrice))

	partitions, err := store.Partitions()
	require.NoError(t, err)
	assert.Equal(t, []string{"de", "tn"}, partitions)
}

func TestSnapshotStore_SaveReplaces(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenSnapshotStore(dir)
	require.NoError(t, err)
	ctx := context.Background()

	first := testSnapshot("tn")
	require.NoError(t, store.Save(ctx, first))
	second := testSnapshot("tn")
	second.ScrapedAt = first.ScrapedAt.Add(24 * time.Hour)
	second.Records = nil
	require.NoError(t, store.Save(ctx, second))
	require.NoError(t, store.Close())

	reopened, err := OpenSnapshotStore(dir)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Load(ctx, "tn")
	require.NoError(t, err)
	assert.True(t, got.ScrapedAt.Equal(second.ScrapedAt))
	assert.Empty(t, got.Records)
}

func TestHistoryFile_LoadMissingIsEmpty(t *testing.T) {
	repo := NewHistoryFile(filepath.Join(t.TempDir(), "history.json"))

	history, err := repo.Load(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, history.Entries)
	assert.Empty(t, history.Entries)
}

func TestHistoryFile_SaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "history.json")
	repo := NewHistoryFile(path)
	ctx := context.Background()

	in := &domain.History{Entries: []domain.HistoryEntry{
		{Date: "2025-06-01", Partition: "de", Summary: domain.HistorySummary{TotalAfter: 2, PriceDrops: 1}},
		{Date: "2025-05-31", Partition: "de"},
	}}
	require.NoError(t, repo.Save(ctx, in))

	out, err := repo.Load(ctx)
	require.NoError(t, err)
	require.Len(t, out.Entries, 2)
	assert.Equal(t, "2025-06-01", out.Entries[0].Date)
	assert.Equal(t, 1, out.Entries[0].Summary.PriceDrops)

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestHistoryFile_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := NewHistoryFile(path).Load(context.Background())
	assert.Error(t, err)
}
