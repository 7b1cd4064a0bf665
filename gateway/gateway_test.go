package gateway

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/incidentwatch/aggregate"
	"github.com/c360/incidentwatch/config"
	"github.com/c360/incidentwatch/extract"
	"github.com/c360/incidentwatch/incident"
	"github.com/c360/incidentwatch/metric"
	"github.com/c360/incidentwatch/policy"
)

const sampleExport = `<?xml version="1.0" encoding="utf-8"?>
<CallExport xmlns="` + extract.Namespace + `">
  <CallNumber>100</CallNumber>
  <CreateDateTime>2024-03-01 14:00:00-0500</CreateDateTime>
  <Location><FullAddress>10 Main St</FullAddress></Location>
  <AgencyContexts>
    <AgencyContext>
      <AgencyType>Fire</AgencyType>
      <CallType>House Fire</CallType>
      <Status>Dispatched</Status>
    </AgencyContext>
  </AgencyContexts>
  <AssignedUnits>
    <Unit>
      <UnitNumber>E51</UnitNumber>
      <Type>ENGINE</Type>
      <Jurisdiction>Station 51</Jurisdiction>
      <IsPrimary>true</IsPrimary>
    </Unit>
  </AssignedUnits>
</CallExport>`

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestGateway(t *testing.T, server config.ServerConfig) (*Gateway, string) {
	t.Helper()
	stagingDir := t.TempDir()

	tables := policy.Tables{
		JurisdictionAgency: map[string]string{"Station 51": policy.AgencyFire},
	}
	registry := aggregate.NewRegistry()
	extractor := extract.NewExtractor(nil, testLogger())
	agg := aggregate.NewAggregator(extractor, tables, registry, testLogger())
	metrics := metric.NewMetricsRegistry()
	pipeline := aggregate.NewPipeline(stagingDir, agg, extractor, registry, metrics.Metrics, testLogger())

	if server.Address == "" {
		server.Address = ":0"
	}
	if server.ReadRateLimit == 0 {
		server.ReadRateLimit = 100
		server.ReadRateBurst = 10
	}
	return NewGateway(server, pipeline, metrics, testLogger()), stagingDir
}

func newTestServer(t *testing.T, g *Gateway) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	g.RegisterHTTPHandlers("/", mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func stageFile(t *testing.T, dir, name string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(sampleExport), 0o644))
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if v != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp.StatusCode
}

func TestIncidentsEndpoint(t *testing.T) {
	g, dir := newTestGateway(t, config.ServerConfig{})
	stageFile(t, dir, "100_1.xml")
	srv := newTestServer(t, g)

	var groups []incident.Group
	status := getJSON(t, srv.URL+"/api/incidents", &groups)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, groups, 1)
	assert.Equal(t, "100", groups[0].DisplayID)
	assert.Equal(t, "House Fire", groups[0].CallType)
}

func TestIncidentsEndpointEmpty(t *testing.T) {
	g, _ := newTestGateway(t, config.ServerConfig{})
	srv := newTestServer(t, g)

	resp, err := http.Get(srv.URL + "/api/incidents")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "[]", strings.TrimSpace(string(body)), "empty list, not null")
}

func TestIncidentsRateLimit(t *testing.T) {
	g, _ := newTestGateway(t, config.ServerConfig{ReadRateLimit: 0.001, ReadRateBurst: 1})
	srv := newTestServer(t, g)

	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/incidents", nil))
	assert.Equal(t, http.StatusTooManyRequests, getJSON(t, srv.URL+"/api/incidents", nil))
}

func TestUnitsEndpoint(t *testing.T) {
	g, dir := newTestGateway(t, config.ServerConfig{})
	stageFile(t, dir, "100_1.xml")
	srv := newTestServer(t, g)

	var units []incident.UnitState
	status := getJSON(t, srv.URL+"/api/units?call=100", &units)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, units, 1)
	assert.Equal(t, "E51", units[0].UnitID)

	assert.Equal(t, http.StatusNotFound, getJSON(t, srv.URL+"/api/units?call=999", nil))
	assert.Equal(t, http.StatusBadRequest, getJSON(t, srv.URL+"/api/units", nil))
}

func TestFilesEndpoint(t *testing.T) {
	g, dir := newTestGateway(t, config.ServerConfig{})
	stageFile(t, dir, "100_1.xml")
	stageFile(t, dir, "100_2.xml")
	srv := newTestServer(t, g)

	var names []string
	status := getJSON(t, srv.URL+"/api/calls/100/files", &names)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, []string{"100_1.xml", "100_2.xml"}, names)

	assert.Equal(t, http.StatusNotFound, getJSON(t, srv.URL+"/api/calls/999/files", nil))
}

func TestDeleteFileEndpoint(t *testing.T) {
	g, dir := newTestGateway(t, config.ServerConfig{})
	stageFile(t, dir, "100_1.xml")
	srv := newTestServer(t, g)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/files/100_1.xml", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	_, statErr := os.Stat(filepath.Join(dir, "100_1.xml"))
	assert.True(t, os.IsNotExist(statErr))

	// Already gone.
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthzEndpoint(t *testing.T) {
	g, _ := newTestGateway(t, config.ServerConfig{})
	srv := newTestServer(t, g)

	var body map[string]string
	status := getJSON(t, srv.URL+"/healthz", &body)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "stopped", body["status"], "not started yet")
}

func TestMetricsEndpoint(t *testing.T) {
	g, _ := newTestGateway(t, config.ServerConfig{})
	srv := newTestServer(t, g)

	// A read first, so the request counter has a sample.
	getJSON(t, srv.URL+"/api/incidents", nil)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "incidentwatch_gateway_requests_total")
}

func TestWebSocketBroadcast(t *testing.T) {
	g, dir := newTestGateway(t, config.ServerConfig{})
	stageFile(t, dir, "100_1.xml")
	srv := newTestServer(t, g)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	require.Eventually(t, func() bool {
		return g.Publisher().ClientCount() == 1
	}, time.Second, 10*time.Millisecond)

	groups, err := g.pipeline.Process()
	require.NoError(t, err)
	g.Publisher().Publish(groups)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var envelope struct {
		Type      string           `json:"type"`
		Incidents []incident.Group `json:"incidents"`
	}
	require.NoError(t, json.Unmarshal(data, &envelope))
	assert.Equal(t, "incidents", envelope.Type)
	require.Len(t, envelope.Incidents, 1)
	assert.Equal(t, "100", envelope.Incidents[0].DisplayID)
}

func TestHubCloseDisconnectsClients(t *testing.T) {
	g, _ := newTestGateway(t, config.ServerConfig{})
	srv := newTestServer(t, g)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	require.Eventually(t, func() bool {
		return g.Publisher().ClientCount() == 1
	}, time.Second, 10*time.Millisecond)

	g.Publisher().close()
	assert.Equal(t, 0, g.Publisher().ClientCount())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err, "server closed the connection")
}
