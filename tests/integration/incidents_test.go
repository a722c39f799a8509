//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/bissquit/hazard-watch/internal/app"
	"github.com/bissquit/hazard-watch/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIncidents_Lifecycle(t *testing.T) {
	client := newTestClient(t)

	// Warm the list cache so the create below has to invalidate it.
	before := listTestIncidents(t, client, "")

	inc := createTestIncident(t, client, "pothole on the ring road", 48.8566, 2.3522)
	assert.Equal(t, "open", inc.Status)
	assert.False(t, containsIncident(before, inc.ID))
	assert.True(t, containsIncident(listTestIncidents(t, client, ""), inc.ID))

	path := fmt.Sprintf("/incidents/%d", inc.ID)

	resp, err := client.PUT(path, map[string]string{"status": "resolved"})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	var status string
	err = testDB.QueryRow(context.Background(), `SELECT status FROM incidents WHERE id = $1`, inc.ID).Scan(&status)
	require.NoError(t, err)
	assert.Equal(t, "resolved", status)

	assert.False(t, containsIncident(listTestIncidents(t, client, "?status=open"), inc.ID))
	assert.True(t, containsIncident(listTestIncidents(t, client, "?status=resolved"), inc.ID))

	resp, err = client.DELETE(path)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	assert.False(t, containsIncident(listTestIncidents(t, client, ""), inc.ID))

	resp, err = client.GET(path)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestIncidents_NormalizesDescription(t *testing.T) {
	client := newTestClient(t)

	inc := createTestIncident(t, client, "  Route bloquée  ", 45.764, 4.8357)
	assert.Equal(t, "Route bloquée", inc.Description)

	var stored string
	err := testDB.QueryRow(context.Background(), `SELECT description FROM incidents WHERE id = $1`, inc.ID).Scan(&stored)
	require.NoError(t, err)
	assert.Equal(t, "Route bloquée", stored)
}

func TestIncidents_InvalidReportsAreNotStored(t *testing.T) {
	client := newTestClientWithoutValidation()

	var before int
	require.NoError(t, testDB.QueryRow(context.Background(), `SELECT count(*) FROM incidents`).Scan(&before))

	for _, body := range []map[string]interface{}{
		{"description": "", "latitude": 1, "longitude": 1, "date": "2024-05-01T08:00:00Z"},
		{"description": "x", "latitude": 90.5, "longitude": 1, "date": "2024-05-01T08:00:00Z"},
		{"description": "x", "latitude": 1, "longitude": 180.5, "date": "2024-05-01T08:00:00Z"},
	} {
		resp, err := client.POST("/incidents", body)
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		_ = resp.Body.Close()
	}

	var after int
	require.NoError(t, testDB.QueryRow(context.Background(), `SELECT count(*) FROM incidents`).Scan(&after))
	assert.Equal(t, before, after)
}

func TestIncidents_ConcurrentReportsGetDistinctIDs(t *testing.T) {
	const reports = 20
	client := newTestClientWithoutValidation()

	var (
		mu  sync.Mutex
		ids = make(map[int64]struct{}, reports)
		wg  sync.WaitGroup
	)
	for i := 0; i < reports; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := client.POST("/incidents", map[string]interface{}{
				"description": fmt.Sprintf("debris %d", i),
				"latitude":    10,
				"longitude":   10,
				"date":        "2024-05-01T08:00:00Z",
			})
			if !assert.NoError(t, err) {
				return
			}
			defer func() { _ = resp.Body.Close() }()
			if !assert.Equal(t, http.StatusCreated, resp.StatusCode) {
				return
			}
			var inc incidentResponse
			if !assert.NoError(t, json.NewDecoder(resp.Body).Decode(&inc)) {
				return
			}

			mu.Lock()
			ids[inc.ID] = struct{}{}
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	assert.Len(t, ids, reports)

	list := listTestIncidents(t, newTestClient(t), "")
	for id := range ids {
		assert.True(t, containsIncident(list, id), "incident %d missing from list", id)

		resp, err := client.DELETE(fmt.Sprintf("/incidents/%d", id))
		require.NoError(t, err)
		_ = resp.Body.Close()
	}
}

func TestIncidents_SurviveRestart(t *testing.T) {
	client := newTestClient(t)
	inc := createTestIncident(t, client, "flooded underpass", 43.2965, 5.3698)

	restarted, err := app.New(testConfig)
	require.NoError(t, err)
	server := httptest.NewServer(restarted.Router())
	t.Cleanup(func() {
		server.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = restarted.Shutdown(ctx)
	})

	other := testutil.NewClientWithValidator(server.URL, testValidator)
	other.SetT(t)

	resp, err := other.GET(fmt.Sprintf("/incidents/%d", inc.ID))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got incidentResponse
	testutil.DecodeJSON(t, resp, &got)
	assert.Equal(t, inc, got)

	// Identifiers keep increasing across instances.
	next := createTestIncident(t, other, "second report", 43.2965, 5.3698)
	assert.Greater(t, next.ID, inc.ID)
}
