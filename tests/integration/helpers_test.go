//go:build integration

package integration

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/bissquit/hazard-watch/internal/testutil"
	"github.com/stretchr/testify/require"
)

type incidentResponse struct {
	ID          int64   `json:"id"`
	Description string  `json:"description"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Date        string  `json:"date"`
	Status      string  `json:"status"`
}

type alertResponse struct {
	SessionID  string  `json:"session_id"`
	IncidentID int64   `json:"incident_id"`
	DistanceKm float64 `json:"distance_km"`
}

type positionResponse struct {
	State  string          `json:"state"`
	Alerts []alertResponse `json:"alerts"`
}

// createTestIncident reports an incident and deletes it on cleanup.
func createTestIncident(t *testing.T, client *testutil.Client, description string, lat, lon float64) incidentResponse {
	t.Helper()

	resp, err := client.POST("/incidents", map[string]interface{}{
		"description": description,
		"latitude":    lat,
		"longitude":   lon,
		"date":        "2024-05-01T08:00:00Z",
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var inc incidentResponse
	testutil.DecodeJSON(t, resp, &inc)

	t.Cleanup(func() {
		resp, err := testutil.NewClient(client.BaseURL).DELETE(fmt.Sprintf("/incidents/%d", inc.ID))
		if err == nil {
			_ = resp.Body.Close()
		}
	})
	return inc
}

func listTestIncidents(t *testing.T, client *testutil.Client, query string) []incidentResponse {
	t.Helper()

	resp, err := client.GET("/incidents" + query)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var list []incidentResponse
	testutil.DecodeJSON(t, resp, &list)
	return list
}

func containsIncident(list []incidentResponse, id int64) bool {
	for _, inc := range list {
		if inc.ID == id {
			return true
		}
	}
	return false
}

// openTestSession opens a proximity session and closes it on cleanup.
func openTestSession(t *testing.T, client *testutil.Client) string {
	t.Helper()

	resp, err := client.POST("/proximity/sessions", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var session struct {
		ID string `json:"id"`
	}
	testutil.DecodeJSON(t, resp, &session)

	t.Cleanup(func() {
		resp, err := testutil.NewClient(client.BaseURL).DELETE("/proximity/sessions/" + session.ID)
		if err == nil {
			_ = resp.Body.Close()
		}
	})
	return session.ID
}

func reportTestPosition(t *testing.T, client *testutil.Client, sessionID string, lat, lon float64) positionResponse {
	t.Helper()

	resp, err := client.PUT("/proximity/sessions/"+sessionID+"/position", map[string]float64{
		"latitude":  lat,
		"longitude": lon,
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body positionResponse
	testutil.DecodeJSON(t, resp, &body)
	return body
}

func alertedIncidentIDs(body positionResponse) []int64 {
	ids := make([]int64, 0, len(body.Alerts))
	for _, a := range body.Alerts {
		ids = append(ids, a.IncidentID)
	}
	return ids
}
