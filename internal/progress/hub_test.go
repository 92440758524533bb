package progress

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shigeo-nakamura/pairtrade/internal/domain"
)

func TestOriginChecker(t *testing.T) {
	oc := NewOriginChecker([]string{"http://localhost:3000", " https://example.com "})

	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"http://localhost:3000", true},
		{"https://example.com", true},
		{"http://evil.com", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, oc.Check(tt.origin), tt.origin)
	}

	assert.True(t, NewOriginChecker(nil).Check("http://evil.com"))
	assert.True(t, NewOriginChecker([]string{"*"}).Check("http://evil.com"))
}

func TestHub_Stop(t *testing.T) {
	hub := NewHub(nil, nil)
	done := make(chan struct{})
	go func() {
		hub.Run()
		close(done)
	}()

	hub.Stop()
	hub.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not exit after Stop")
	}
}

func TestHub_BroadcastDoesNotBlockWithoutRun(t *testing.T) {
	hub := NewHub(nil, nil)
	for i := 0; i < broadcastBufferSize+10; i++ {
		hub.Broadcast(map[string]int{"i": i})
	}
	assert.Equal(t, int64(10), hub.DroppedMessages())
}

func dial(t *testing.T, srv *httptest.Server, origin string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}
	return websocket.DefaultDialer.Dial(url, header)
}

func waitClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return hub.ClientCount() == n }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_DeliversTypedMessages(t *testing.T) {
	hub := NewHub(nil, nil)
	go hub.Run()
	defer hub.Stop()

	srv := httptest.NewServer(hub.Handler())
	defer srv.Close()

	conn, _, err := dial(t, srv, "")
	require.NoError(t, err)
	defer conn.Close()
	waitClients(t, hub, 1)

	params := domain.ParameterSet{"EXIT_Z_SCORE": "0.8"}
	hub.Broadcast(NewResultMessage("BTC/ETH", domain.StageSearch, 3, 10,
		domain.EvaluationResult{Params: params, Score: domain.InvalidScore}, errors.New("timed out"), 1500*time.Millisecond))
	hub.Broadcast(NewBestMessage("BTC/ETH", domain.StageSearch, domain.EvaluationResult{Params: params, Score: 4.25}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	var result ResultMessage
	require.NoError(t, conn.ReadJSON(&result))
	assert.Equal(t, TypeResult, result.Type)
	assert.Equal(t, "BTC/ETH", result.Pair)
	assert.Equal(t, 3, result.Index)
	assert.Nil(t, result.Score)
	assert.Equal(t, "timed out", result.Error)
	assert.Equal(t, int64(1500), result.DurationMs)

	var best BestMessage
	require.NoError(t, conn.ReadJSON(&best))
	assert.Equal(t, TypeBest, best.Type)
	require.NotNil(t, best.Score)
	assert.Equal(t, 4.25, *best.Score)
	assert.Equal(t, map[string]string{"EXIT_Z_SCORE": "0.8"}, best.Params)
}

func TestHub_RejectsForeignOrigin(t *testing.T) {
	hub := NewHub([]string{"http://allowed.example"}, nil)
	go hub.Run()
	defer hub.Stop()

	srv := httptest.NewServer(hub.Handler())
	defer srv.Close()

	_, resp, err := dial(t, srv, "http://evil.example")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _, err := dial(t, srv, "http://allowed.example")
	require.NoError(t, err)
	conn.Close()
}

func TestHub_UnregistersClosedClients(t *testing.T) {
	hub := NewHub(nil, nil)
	go hub.Run()
	defer hub.Stop()

	srv := httptest.NewServer(hub.Handler())
	defer srv.Close()

	conn, _, err := dial(t, srv, "")
	require.NoError(t, err)
	waitClients(t, hub, 1)

	require.NoError(t, conn.Close())
	waitClients(t, hub, 0)
}

func TestNewStageMessage(t *testing.T) {
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	m := NewStageMessage(domain.StageValidation, "BTC/ETH", "2 candidates", domain.Window{Start: start, End: start.Add(time.Hour)})
	assert.Equal(t, TypeStage, m.Type)
	assert.Equal(t, "2024-01-01T12:00:00Z", m.WindowStart)
	assert.Equal(t, "2024-01-01T13:00:00Z", m.WindowEnd)

	m = NewStageMessage("done", "", "", domain.Window{})
	assert.Empty(t, m.WindowStart)
}
