package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Albermonte/validator-election-bot/internal/chain"
	"github.com/Albermonte/validator-election-bot/internal/logger"
	"github.com/Albermonte/validator-election-bot/internal/processor"
	"github.com/Albermonte/validator-election-bot/internal/rpc"
	"github.com/Albermonte/validator-election-bot/internal/subscribers"
)

// StreamSource exposes the processor state shown on the status page.
type StreamSource interface {
	State() processor.State
	LastElectionBlock() *chain.ElectionBlock
}

type Options struct {
	DashboardPort int
	MetricsPort   int
	Gatherer      prometheus.Gatherer
}

// Server serves the JSON status API, a websocket feed of state updates and
// logs, and the Prometheus endpoint.
type Server struct {
	opts     Options
	nodeMgr  *rpc.Manager
	stream   StreamSource
	registry subscribers.Lister

	upgrader  websocket.Upgrader
	clients   map[*websocket.Conn]bool
	broadcast chan []byte
	logChan   chan logger.LogEntry
	mu        sync.Mutex
}

func NewServer(opts Options, nodeMgr *rpc.Manager, stream StreamSource, registry subscribers.Lister) *Server {
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		opts:     opts,
		nodeMgr:  nodeMgr,
		stream:   stream,
		registry: registry,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan []byte, 8),
		logChan:   make(chan logger.LogEntry, 100),
	}
}

// Run serves until ctx is cancelled. Nothing is started for a zero port.
func (s *Server) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	if s.opts.DashboardPort > 0 {
		logger.SetLogChannel(s.logChan)
		go s.handleMessages(ctx)
		go s.handleLogs(ctx)

		wg.Add(1)
		go func() {
			defer wg.Done()
			s.runServer(ctx, s.opts.DashboardPort, s.Handler())
		}()
	}

	if s.opts.MetricsPort > 0 && s.opts.MetricsPort != s.opts.DashboardPort {
		mux := http.NewServeMux()
		mux.Handle("/metrics", s.metricsHandler())
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.runServer(ctx, s.opts.MetricsPort, mux)
		}()
	}

	wg.Wait()
	return nil
}

// Handler returns the dashboard routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/state", s.handleState)
	mux.HandleFunc("/ws", s.handleConnections)
	if s.opts.MetricsPort == 0 || s.opts.MetricsPort == s.opts.DashboardPort {
		mux.Handle("/metrics", s.metricsHandler())
	}
	return mux
}

func (s *Server) metricsHandler() http.Handler {
	return promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{})
}

func (s *Server) runServer(ctx context.Context, port int, handler http.Handler) {
	addr := fmt.Sprintf(":%d", port)
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("SYS", "HTTP server listening on %s", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		logger.Info("SYS", "HTTP server shutting down")
	}()

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		logger.Error("SYS", "HTTP server failed on %s: %v", addr, err)
	}
}

func (s *Server) handleConnections(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("DASH", "WS upgrade failed: %v", err)
		return
	}

	s.mu.Lock()
	s.clients[ws] = true
	if state, err := s.stateJSON(r.Context()); err == nil {
		_ = ws.WriteMessage(websocket.TextMessage, state)
	}
	s.mu.Unlock()
}

func (s *Server) handleMessages(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.closeClients()
			return
		case msg := <-s.broadcast:
			s.writeAll(msg, true)
		}
	}
}

func (s *Server) handleLogs(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case entry := <-s.logChan:
			msg := struct {
				Type string `json:"type"`
				logger.LogEntry
			}{Type: "log", LogEntry: entry}

			if bytes, err := json.Marshal(msg); err == nil {
				s.writeAll(bytes, false)
			}
		}
	}
}

// writeAll sends msg to every client. Clients failing a state push are dropped.
func (s *Server) writeAll(msg []byte, drop bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for client := range s.clients {
		if err := client.WriteMessage(websocket.TextMessage, msg); err != nil && drop {
			client.Close()
			delete(s.clients, client)
		}
	}
}

func (s *Server) closeClients() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for client := range s.clients {
		client.Close()
		delete(s.clients, client)
	}
}

// BroadcastUpdate queues a push of the current state to all connected clients.
// It never blocks; an update is dropped when the queue is full.
func (s *Server) BroadcastUpdate() {
	if s.opts.DashboardPort == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	state, err := s.stateJSON(ctx)
	if err != nil {
		logger.Warn("DASH", "Failed to marshal state for broadcast: %v", err)
		return
	}
	select {
	case s.broadcast <- state:
	default:
	}
}

type nodeDTO struct {
	Label       string `json:"label"`
	RPCURL      string `json:"rpc_url"`
	WSURL       string `json:"ws_url"`
	Healthy     bool   `json:"healthy"`
	BlockHeight uint64 `json:"block_height"`
	Latency     string `json:"latency"`
	LastError   string `json:"last_error,omitempty"`
	LastCheck   string `json:"last_check"`
}

type electionDTO struct {
	Number     uint64 `json:"number"`
	Epoch      uint32 `json:"epoch"`
	Validators int    `json:"validators"`
}

type stateDTO struct {
	Type         string       `json:"type"`
	Stream       string       `json:"stream"`
	LastElection *electionDTO `json:"last_election,omitempty"`
	Subscribers  int          `json:"subscribers"`
	Nodes        []nodeDTO    `json:"nodes"`
}

func (s *Server) stateJSON(ctx context.Context) ([]byte, error) {
	state := stateDTO{Type: "state", Stream: processor.Idle.String()}

	if s.stream != nil {
		state.Stream = s.stream.State().String()
		if b := s.stream.LastElectionBlock(); b != nil {
			state.LastElection = &electionDTO{Number: b.Number, Epoch: b.Epoch, Validators: len(b.Slots)}
		}
	}

	if s.registry != nil {
		subs, err := s.registry.List(ctx)
		if err != nil {
			logger.Warn("DASH", "Failed to list subscribers: %v", err)
		}
		state.Subscribers = len(subs)
	}

	if s.nodeMgr != nil {
		for _, n := range s.nodeMgr.GetNodes() {
			status := n.GetStatus()
			lastError := ""
			if status.LastError != nil {
				lastError = status.LastError.Error()
			}

			state.Nodes = append(state.Nodes, nodeDTO{
				Label:       n.Config.Label,
				RPCURL:      n.Config.RPC,
				WSURL:       n.Config.WS,
				Healthy:     status.Healthy,
				BlockHeight: status.BlockHeight,
				Latency:     status.Latency.String(),
				LastError:   lastError,
				LastCheck:   status.LastCheck.Format(time.RFC3339),
			})
		}
	}

	return json.Marshal(state)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	state, err := s.stateJSON(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(state)
}
