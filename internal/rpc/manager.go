package rpc

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/Albermonte/validator-election-bot/internal/chain"
	"github.com/Albermonte/validator-election-bot/internal/config"
	"github.com/Albermonte/validator-election-bot/internal/logger"
	"github.com/Albermonte/validator-election-bot/internal/nimiq"
)

const checkInterval = 10 * time.Second

var errNoHealthyNode = errors.Wrap(chain.ErrUnavailable, "no healthy node available")

type NodeStatus struct {
	Healthy     bool
	BlockHeight uint64
	Latency     time.Duration
	LastError   error
	LastCheck   time.Time
}

type Node struct {
	Config config.NodeConfig
	Client *nimiq.Client
	Status NodeStatus
	mu     sync.RWMutex
}

// Manager health-checks the configured nodes and routes every chain query
// to the best one.
type Manager struct {
	nodes       []*Node
	timeout     time.Duration
	checkTicker *time.Ticker
}

var _ chain.Query = (*Manager)(nil)

func NewManager(cfg []config.NodeConfig, timeout time.Duration) *Manager {
	var nodes []*Node
	for _, nc := range cfg {
		nodes = append(nodes, &Node{
			Config: nc,
		})
	}

	return &Manager{
		nodes:   nodes,
		timeout: timeout,
	}
}

func (m *Manager) Start(ctx context.Context) {
	m.checkTicker = time.NewTicker(checkInterval)

	logger.Info("RPC", "Starting initial check for %d nodes...", len(m.nodes))
	m.checkAll(ctx)

	active := 0
	for _, n := range m.nodes {
		status := "DOWN"
		st := n.GetStatus()
		if st.Healthy {
			status = fmt.Sprintf("UP (Height: %d)", st.BlockHeight)
			active++
		}
		logger.Info("RPC", "Node '%s' : %s", n.Config.Label, status)
	}
	logger.Info("RPC", "Active nodes: %d/%d", active, len(m.nodes))

	go func() {
		for {
			select {
			case <-ctx.Done():
				m.checkTicker.Stop()
				m.close()
				return
			case <-m.checkTicker.C:
				m.checkAll(ctx)
			}
		}
	}()
}

func (m *Manager) checkAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, n := range m.nodes {
		wg.Add(1)
		go func(node *Node) {
			defer wg.Done()
			m.checkNode(ctx, node)
		}(n)
	}
	wg.Wait()
}

// checkNode holds n.mu only to read or update state, never across an RPC call.
func (m *Manager) checkNode(ctx context.Context, n *Node) {
	start := time.Now()

	client := n.client()
	if client == nil {
		dialed, err := nimiq.Dial(ctx, n.Config.RPC, m.timeout)
		if err != nil {
			logger.Warn("NODE", "%s connection failed: %s", n.Config.Label, nimiq.SanitizeError(err))
			n.setFailure(err)
			return
		}
		n.mu.Lock()
		if n.Client == nil {
			n.Client = dialed
		} else {
			dialed.Close()
		}
		client = n.Client
		n.mu.Unlock()
	}

	height, err := client.BlockNumber(ctx)
	if err != nil {
		logger.Warn("NODE", "%s check failed: %v", n.Config.Label, err)
		n.setFailure(err)
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	n.Status.Healthy = true
	if height > n.Status.BlockHeight {
		n.Status.BlockHeight = height
	}
	n.Status.Latency = time.Since(start)
	n.Status.LastError = nil
	n.Status.LastCheck = time.Now()
}

func (n *Node) setFailure(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Status.Healthy = false
	n.Status.LastError = err
	n.Status.LastCheck = time.Now()
}

func (m *Manager) close() {
	for _, n := range m.nodes {
		n.mu.Lock()
		if n.Client != nil {
			n.Client.Close()
			n.Client = nil
		}
		n.mu.Unlock()
	}
}

func (m *Manager) GetBestNode() *Node {
	type candidate struct {
		node   *Node
		status NodeStatus
	}
	var candidates []candidate
	for _, n := range m.nodes {
		n.mu.RLock()
		if n.Status.Healthy && n.Client != nil {
			candidates = append(candidates, candidate{node: n, status: n.Status})
		}
		n.mu.RUnlock()
	}

	if len(candidates) == 0 {
		return nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].status.BlockHeight != candidates[j].status.BlockHeight {
			return candidates[i].status.BlockHeight > candidates[j].status.BlockHeight
		}
		return candidates[i].status.Latency < candidates[j].status.Latency
	})

	return candidates[0].node
}

func (m *Manager) GetNodes() []*Node {
	return m.nodes
}

// GetStatus returns a copy of the node status in a thread-safe manner
func (n *Node) GetStatus() NodeStatus {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.Status
}

// UpdateHeight updates the block height of the node in a thread-safe manner
// This is used when receiving blocks via WebSocket for real-time updates
func (n *Node) UpdateHeight(height uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if height > n.Status.BlockHeight {
		n.Status.BlockHeight = height
		n.Status.LastCheck = time.Now()
	}
}

func (n *Node) client() *nimiq.Client {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.Client
}

func (m *Manager) bestClient() (*nimiq.Client, error) {
	node := m.GetBestNode()
	if node == nil {
		return nil, errNoHealthyNode
	}
	c := node.client()
	if c == nil {
		return nil, errNoHealthyNode
	}
	return c, nil
}

func (m *Manager) BlockNumber(ctx context.Context) (uint64, error) {
	c, err := m.bestClient()
	if err != nil {
		return 0, err
	}
	return c.BlockNumber(ctx)
}

func (m *Manager) ElectionBlockBefore(ctx context.Context, height uint64) (uint64, error) {
	c, err := m.bestClient()
	if err != nil {
		return 0, err
	}
	return c.ElectionBlockBefore(ctx, height)
}

func (m *Manager) BlockByNumber(ctx context.Context, height uint64, includeBody bool) (*chain.ElectionBlock, error) {
	c, err := m.bestClient()
	if err != nil {
		return nil, err
	}
	return c.BlockByNumber(ctx, height, includeBody)
}

func (m *Manager) ValidatorByAddress(ctx context.Context, address string) (*chain.Validator, error) {
	c, err := m.bestClient()
	if err != nil {
		return nil, err
	}
	return c.ValidatorByAddress(ctx, address)
}

func (m *Manager) AccountBalance(ctx context.Context, address string) (int64, error) {
	c, err := m.bestClient()
	if err != nil {
		return 0, err
	}
	return c.AccountBalance(ctx, address)
}

func (m *Manager) StakerBalance(ctx context.Context, address string) (int64, error) {
	c, err := m.bestClient()
	if err != nil {
		return 0, err
	}
	return c.StakerBalance(ctx, address)
}
