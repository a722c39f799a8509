package filestore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bissquit/hazard-watch/internal/domain"
	"github.com/bissquit/hazard-watch/internal/incidents"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "incidents.json"))
	require.NoError(t, err)
	return store
}

func newIncident(description string) *domain.Incident {
	return &domain.Incident{
		Description: description,
		Latitude:    34.27,
		Longitude:   -6.58,
		Date:        time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestStore_CreateAndList(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	incident := newIncident("pothole")
	require.NoError(t, store.Create(ctx, incident))

	assert.NotZero(t, incident.ID)
	assert.Equal(t, domain.IncidentStatusOpen, incident.Status)

	list, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	got := list[0]
	assert.Equal(t, incident.ID, got.ID)
	assert.Equal(t, "pothole", got.Description)
	assert.Equal(t, 34.27, got.Latitude)
	assert.Equal(t, -6.58, got.Longitude)
	assert.True(t, got.Date.Equal(incident.Date))
	assert.Equal(t, domain.IncidentStatusOpen, got.Status)
}

func TestStore_ListEmpty(t *testing.T) {
	store := newTestStore(t)

	list, err := store.List(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, list)
	assert.Empty(t, list)
}

func TestStore_CreateValidation(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	tests := []struct {
		name   string
		mutate func(*domain.Incident)
		field  string
	}{
		{"empty description", func(i *domain.Incident) { i.Description = "  " }, "description"},
		{"latitude out of range", func(i *domain.Incident) { i.Latitude = 91 }, "latitude"},
		{"longitude out of range", func(i *domain.Incident) { i.Longitude = -180.5 }, "longitude"},
		{"missing date", func(i *domain.Incident) { i.Date = time.Time{} }, "date"},
		{"unknown status", func(i *domain.Incident) { i.Status = "bogus" }, "status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			incident := newIncident("debris")
			tt.mutate(incident)

			err := store.Create(ctx, incident)
			require.Error(t, err)
			assert.ErrorIs(t, err, incidents.ErrInvalidIncident)

			var validationErr *incidents.ValidationError
			require.True(t, errors.As(err, &validationErr))
			assert.Equal(t, tt.field, validationErr.Field)
		})
	}

	list, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestStore_IDsAreUniqueAndNeverReused(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(time.UnixMilli(1_700_000_000_000))
	store, err := New(filepath.Join(t.TempDir(), "incidents.json"), WithClock(clock))
	require.NoError(t, err)

	first := newIncident("first")
	second := newIncident("second")
	require.NoError(t, store.Create(ctx, first))
	require.NoError(t, store.Create(ctx, second))

	assert.Equal(t, int64(1_700_000_000_000), first.ID)
	assert.Greater(t, second.ID, first.ID)

	require.NoError(t, store.Delete(ctx, second.ID))

	third := newIncident("third")
	require.NoError(t, store.Create(ctx, third))
	assert.Greater(t, third.ID, second.ID)
}

func TestStore_ConcurrentCreatesDoNotLoseUpdates(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	const n = 50
	var wg sync.WaitGroup
	errs := make(chan error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- store.Create(ctx, newIncident("concurrent"))
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	list, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, n)

	ids := make(map[int64]struct{}, n)
	for _, incident := range list {
		ids[incident.ID] = struct{}{}
	}
	assert.Len(t, ids, n)
}

func TestStore_UpdateStatus(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	incident := newIncident("fallen tree")
	require.NoError(t, store.Create(ctx, incident))

	updated, err := store.UpdateStatus(ctx, incident.ID, domain.IncidentStatusResolved)
	require.NoError(t, err)
	assert.Equal(t, domain.IncidentStatusResolved, updated.Status)

	expected := *incident
	expected.Status = domain.IncidentStatusResolved

	got, err := store.Get(ctx, incident.ID)
	require.NoError(t, err)
	assert.Equal(t, expected.ID, got.ID)
	assert.Equal(t, expected.Description, got.Description)
	assert.Equal(t, expected.Latitude, got.Latitude)
	assert.Equal(t, expected.Longitude, got.Longitude)
	assert.True(t, expected.Date.Equal(got.Date))
	assert.Equal(t, expected.Status, got.Status)

	_, err = store.UpdateStatus(ctx, incident.ID, "bogus")
	assert.ErrorIs(t, err, incidents.ErrInvalidIncident)

	got, err = store.Get(ctx, incident.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.IncidentStatusResolved, got.Status)
}

func TestStore_UpdateStatusNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.UpdateStatus(context.Background(), 42, domain.IncidentStatusResolved)
	assert.ErrorIs(t, err, incidents.ErrIncidentNotFound)
}

func TestStore_DeleteIsIdempotentFailure(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	assert.ErrorIs(t, store.Delete(ctx, 7), incidents.ErrIncidentNotFound)

	incident := newIncident("oil spill")
	require.NoError(t, store.Create(ctx, incident))

	require.NoError(t, store.Delete(ctx, incident.ID))
	assert.ErrorIs(t, store.Delete(ctx, incident.ID), incidents.ErrIncidentNotFound)
	assert.ErrorIs(t, store.Delete(ctx, incident.ID), incidents.ErrIncidentNotFound)

	_, err := store.Get(ctx, incident.ID)
	assert.ErrorIs(t, err, incidents.ErrIncidentNotFound)
}

func TestStore_ReadsLegacyArray(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "db.json")
	legacy := `[
  {"id": 1717000000000, "description": "Route bloquée", "latitude": 34.02, "longitude": -6.83, "date": "2024-05-29T16:26:40Z"}
]`
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0o644))

	store, err := New(path)
	require.NoError(t, err)

	list, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, int64(1717000000000), list[0].ID)
	assert.Equal(t, domain.IncidentStatusOpen, list[0].Status)

	incident := newIncident("accident")
	require.NoError(t, store.Create(ctx, incident))
	assert.Greater(t, incident.ID, int64(1717000000000))

	list, err = store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestStore_CorruptFileIsStorageError(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "incidents.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	store, err := New(path)
	require.NoError(t, err)

	_, err = store.List(ctx)
	assert.ErrorIs(t, err, incidents.ErrStorage)

	err = store.Create(ctx, newIncident("pothole"))
	assert.ErrorIs(t, err, incidents.ErrStorage)

	assert.ErrorIs(t, store.Ping(ctx), incidents.ErrStorage)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{not json", string(data))
}

func TestStore_FailedWriteLeavesPreviousState(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	existing := newIncident("existing")
	require.NoError(t, store.Create(ctx, existing))

	renameFile = func(_, _ string) error { return errors.New("disk full") }
	t.Cleanup(func() { renameFile = os.Rename })

	err := store.Create(ctx, newIncident("lost"))
	require.Error(t, err)
	assert.ErrorIs(t, err, incidents.ErrStorage)

	_, err = store.UpdateStatus(ctx, existing.ID, domain.IncidentStatusResolved)
	assert.ErrorIs(t, err, incidents.ErrStorage)

	assert.ErrorIs(t, store.Delete(ctx, existing.ID), incidents.ErrStorage)

	renameFile = os.Rename

	list, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, existing.ID, list[0].ID)
	assert.Equal(t, domain.IncidentStatusOpen, list[0].Status)

	entries, err := os.ReadDir(filepath.Dir(store.Path()))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must be cleaned up")
}
