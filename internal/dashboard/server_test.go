package dashboard

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Albermonte/validator-election-bot/internal/chain"
	"github.com/Albermonte/validator-election-bot/internal/config"
	"github.com/Albermonte/validator-election-bot/internal/processor"
	"github.com/Albermonte/validator-election-bot/internal/rpc"
	"github.com/Albermonte/validator-election-bot/internal/subscribers"
)

type fakeStream struct {
	block *chain.ElectionBlock
}

func (f fakeStream) State() processor.State                  { return processor.Subscribed }
func (f fakeStream) LastElectionBlock() *chain.ElectionBlock { return f.block }

type fakeLister []subscribers.Subscriber

func (f fakeLister) List(context.Context) ([]subscribers.Subscriber, error) { return f, nil }

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	mgr := rpc.NewManager([]config.NodeConfig{{Label: "seed", RPC: "http://seed:8648", WS: "ws://seed:8648/ws"}}, time.Second)
	mgr.GetNodes()[0].UpdateHeight(500)

	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "dash_test_total", Help: "test"}))

	s := NewServer(Options{DashboardPort: 8080, Gatherer: reg}, mgr,
		fakeStream{block: &chain.ElectionBlock{Number: 432000, Epoch: 10, IsElectionBlock: true, Slots: make([]chain.SlotAssignment, 3)}},
		fakeLister{{ChatID: 1, Address: "NQ07"}, {ChatID: 2}},
	)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return s, srv
}

func TestServer_State(t *testing.T) {
	_, srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/state")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var state stateDTO
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&state))
	assert.Equal(t, "subscribed", state.Stream)
	assert.Equal(t, 2, state.Subscribers)
	require.NotNil(t, state.LastElection)
	assert.Equal(t, electionDTO{Number: 432000, Epoch: 10, Validators: 3}, *state.LastElection)
	require.Len(t, state.Nodes, 1)
	assert.Equal(t, uint64(500), state.Nodes[0].BlockHeight)
	assert.False(t, state.Nodes[0].Healthy)
}

func TestServer_Metrics(t *testing.T) {
	_, srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "dash_test_total")
}

func TestServer_WebsocketReceivesStateAndBroadcast(t *testing.T) {
	s, srv := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.handleMessages(ctx)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var initial stateDTO
	require.NoError(t, conn.ReadJSON(&initial))
	assert.Equal(t, "state", initial.Type)

	s.BroadcastUpdate()
	var pushed stateDTO
	require.NoError(t, conn.ReadJSON(&pushed))
	assert.Equal(t, 2, pushed.Subscribers)
}

func TestServer_BroadcastDisabledWithoutPort(t *testing.T) {
	s := NewServer(Options{}, nil, nil, nil)
	s.BroadcastUpdate()
	assert.Empty(t, s.broadcast)
}
