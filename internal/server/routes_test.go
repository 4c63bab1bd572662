package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/berfenger/meterlink/internal/core/domain"
	"github.com/berfenger/meterlink/internal/util"
	"github.com/berfenger/meterlink/pkg/meter_modbus"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testConnection = meter_modbus.ConnectionInfo{
	Status:     meter_modbus.StatusConnected,
	Port:       "/dev/ttyUSB0",
	Address:    1,
	Identifier: "CH30",
}

// fakeMaster answers like a master actor with a connected meter.
func fakeMaster(ctx actor.Context) {
	switch ctx.Message().(type) {
	case domain.ActorHealthRequest:
		ctx.Respond(domain.ActorHealthResponse{Id: domain.ACTOR_ID_MASTER, Healthy: true})
	case domain.GetSnapshotRequest:
		ctx.Respond(domain.GetSnapshotResponse{
			Snapshot: meter_modbus.Snapshot{
				Time: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
				Readings: []meter_modbus.Reading{
					{Name: "frequencia", Value: meter_modbus.NumberValue(60)},
				},
			},
			Connection: testConnection,
		})
	case domain.GetLatestSnapshotRequest:
		ctx.Respond(domain.GetLatestSnapshotResponse{Connection: testConnection})
	case domain.GetMeterInfoRequest:
		ctx.Respond(domain.GetMeterInfoResponse{
			Metadata:   meter_modbus.DefaultRegisterMap().Metadata(),
			Relevant:   meter_modbus.DefaultRegisterMap().RelevantFieldNames(),
			Connection: testConnection,
		})
	case domain.ScanRegistersRequest:
		ctx.Respond(domain.ScanRegistersResponse{})
	case domain.ReconnectRequest:
		ctx.Respond(domain.ReconnectResponse{
			ActorResponseMixIn: domain.ErrorResponse(errors.New("no meter found")),
			Connection:         meter_modbus.ConnectionInfo{Status: meter_modbus.StatusDisconnected},
		})
	}
}

func newTestServer(t *testing.T) *httptest.Server {
	as := actor.NewActorSystem()
	t.Cleanup(as.Shutdown)
	pid := as.Root.Spawn(actor.PropsFromFunc(fakeMaster))

	s := &Server{
		rootContext:    as.Root,
		masterActor:    pid,
		requestTimeout: 2 * time.Second,
		metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("meterlink_meter_connected 1\n"))
		}),
	}
	ts := httptest.NewServer(s.RegisterRoutes())
	t.Cleanup(ts.Close)
	return ts
}

func getJSON(t *testing.T, method, url string, target any) int {
	req, err := http.NewRequest(method, url, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if target != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(target))
	}
	return resp.StatusCode
}

func TestHealthCheck(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthcheck")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSnapshotRoutes(t *testing.T) {
	assert := assert.New(t)
	ts := newTestServer(t)

	var snap struct {
		Time   time.Time          `json:"time"`
		Values map[string]float64 `json:"values"`
	}
	assert.Equal(http.StatusOK, getJSON(t, http.MethodGet, ts.URL+"/api/snapshot", &snap))
	assert.Equal(60.0, snap.Values["frequencia"])

	var body errorBody
	assert.Equal(http.StatusNotFound, getJSON(t, http.MethodGet, ts.URL+"/api/snapshot/latest", &body))
	assert.NotEmpty(body.Error)
}

func TestMeterInfoRoutes(t *testing.T) {
	assert := assert.New(t)
	ts := newTestServer(t)

	var metadata []meter_modbus.MeasurementMetadata
	assert.Equal(http.StatusOK, getJSON(t, http.MethodGet, ts.URL+"/api/metadata", &metadata))
	assert.Len(metadata, 11)
	assert.Equal("tensao_l1", metadata[0].Name)

	var relevant []string
	assert.Equal(http.StatusOK, getJSON(t, http.MethodGet, ts.URL+"/api/relevant", &relevant))
	assert.Contains(relevant, "potencia_kw_inst")
	assert.NotContains(relevant, "tensao_l1")

	var conn meter_modbus.ConnectionInfo
	assert.Equal(http.StatusOK, getJSON(t, http.MethodGet, ts.URL+"/api/connection", &conn))
	assert.Equal(testConnection.Identifier, conn.Identifier)
	assert.Equal(meter_modbus.StatusConnected, conn.Status)
}

func TestReconnectFailure(t *testing.T) {
	ts := newTestServer(t)

	var body struct {
		Error      string                      `json:"error"`
		Connection meter_modbus.ConnectionInfo `json:"connection"`
	}
	assert.Equal(t, http.StatusBadGateway, getJSON(t, http.MethodPost, ts.URL+"/api/reconnect", &body))
	assert.Equal(t, "no meter found", body.Error)
	assert.Equal(t, meter_modbus.StatusDisconnected, body.Connection.Status)
}

func TestMetricsRoute(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestNewServerAddress(t *testing.T) {
	as := actor.NewActorSystem()
	defer as.Shutdown()

	srv := NewServer(util.LoadTestConfig(), as.Root, nil, 5*time.Second, nil)
	assert.Equal(t, ":8080", srv.Addr)
}
