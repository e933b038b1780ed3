package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/Albermonte/validator-election-bot/internal/chain"
	"github.com/Albermonte/validator-election-bot/internal/logger"
	"github.com/Albermonte/validator-election-bot/internal/rpc"
)

const (
	subscribeMethod = "subscribeForHeadBlock"
	maxBackoff      = 60 * time.Second
)

type request struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type headNotification struct {
	Subscription json.RawMessage `json:"subscription"`
	Result       struct {
		Data chain.ElectionBlock `json:"data"`
	} `json:"result"`
}

type message struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Result json.RawMessage   `json:"result"`
	Error  *rpcError         `json:"error"`
	Params *headNotification `json:"params"`
}

// Listener subscribes to head blocks on every node with a websocket endpoint
// and forwards each election block once on the events channel.
type Listener struct {
	nodeMgr     *rpc.Manager
	events      chan<- chain.Event
	readTimeout time.Duration
	dialer      *websocket.Dialer
	minBackoff  time.Duration

	mu     sync.Mutex
	newest uint64
}

func NewListener(nodeMgr *rpc.Manager, events chan<- chain.Event, readTimeout time.Duration) *Listener {
	return &Listener{
		nodeMgr:     nodeMgr,
		events:      events,
		readTimeout: readTimeout,
		dialer:      websocket.DefaultDialer,
		minBackoff:  time.Second,
	}
}

// Run keeps one subscription per node alive until ctx is cancelled, then
// closes the events channel.
func (l *Listener) Run(ctx context.Context) error {
	defer close(l.events)

	var wg sync.WaitGroup
	for _, n := range l.nodeMgr.GetNodes() {
		if n.Config.WS == "" {
			continue
		}
		wg.Add(1)
		go func(node *rpc.Node) {
			defer wg.Done()
			l.subscribeNode(ctx, node)
		}(n)
	}
	wg.Wait()
	return nil
}

func (l *Listener) subscribeNode(ctx context.Context, node *rpc.Node) {
	backoff := l.minBackoff

	for ctx.Err() == nil {
		conn, err := l.subscribe(ctx, node.Config.WS)
		if err != nil {
			logger.Warn("WS", "Subscribe failed for %s: %v. Retrying in %v", node.Config.Label, err, backoff)
			l.emit(ctx, chain.Event{Err: err})
			if !sleep(ctx, backoff) {
				return
			}
			if backoff < maxBackoff {
				backoff *= 2
			}
			continue
		}

		backoff = l.minBackoff
		logger.Info("WS", "Subscribed to head blocks via %s", node.Config.Label)

		err = l.readLoop(ctx, conn, node)
		conn.Close()
		if ctx.Err() != nil {
			return
		}
		logger.Warn("WS", "Subscription from %s dropped: %v", node.Config.Label, err)
		l.emit(ctx, chain.Event{Err: err})
		if !sleep(ctx, l.minBackoff) {
			return
		}
	}
}

func (l *Listener) subscribe(ctx context.Context, url string) (*websocket.Conn, error) {
	conn, _, err := l.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, errors.Wrapf(chain.ErrUnavailable, "dial %s: %v", url, err)
	}

	req := request{JSONRPC: "2.0", ID: 1, Method: subscribeMethod, Params: []interface{}{true}}
	if err := conn.WriteJSON(req); err != nil {
		conn.Close()
		return nil, errors.Wrapf(chain.ErrUnavailable, "send subscribe: %v", err)
	}

	l.setDeadline(conn)
	var resp message
	if err := conn.ReadJSON(&resp); err != nil {
		conn.Close()
		return nil, errors.Wrapf(chain.ErrUnavailable, "read subscribe reply: %v", err)
	}
	if resp.Error != nil {
		conn.Close()
		return nil, errors.Wrapf(chain.ErrUnavailable, "subscribe rejected: %s (%d)", resp.Error.Message, resp.Error.Code)
	}
	return conn, nil
}

func (l *Listener) readLoop(ctx context.Context, conn *websocket.Conn, node *rpc.Node) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	for {
		l.setDeadline(conn)
		var msg message
		if err := conn.ReadJSON(&msg); err != nil {
			return errors.Wrap(chain.ErrUnavailable, err.Error())
		}
		if msg.Method != subscribeMethod || msg.Params == nil {
			continue
		}

		block := msg.Params.Result.Data
		node.UpdateHeight(block.Number)
		if !block.IsElectionBlock || !l.markSeen(block.Number) {
			continue
		}

		logger.Debug("WS", "Election block #%d from %s", block.Number, node.Config.Label)
		if !l.emit(ctx, chain.Event{Block: &block}) {
			return ctx.Err()
		}
	}
}

func (l *Listener) setDeadline(conn *websocket.Conn) {
	if l.readTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(l.readTimeout))
	}
}

// markSeen reports whether height is newer than every election block
// forwarded so far, across all node subscriptions. Election heights only
// grow, so a lagging node replaying an older one is rejected.
func (l *Listener) markSeen(height uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if height <= l.newest {
		return false
	}
	l.newest = height
	return true
}

func (l *Listener) emit(ctx context.Context, ev chain.Event) bool {
	select {
	case l.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
