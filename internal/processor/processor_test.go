package processor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Albermonte/validator-election-bot/internal/chain"
	"github.com/Albermonte/validator-election-bot/internal/notify"
	"github.com/Albermonte/validator-election-bot/internal/rewards"
	"github.com/Albermonte/validator-election-bot/internal/subscribers"
)

const (
	v1 = "NQ07 0000 0000 0000 0000 0000 0000 0000 0001"
	v3 = "NQ07 0000 0000 0000 0000 0000 0000 0000 0003"
	v4 = "NQ07 0000 0000 0000 0000 0000 0000 0000 0004"
	r1 = "NQ07 1111 1111 1111 1111 1111 1111 1111 0001"
	r4 = "NQ07 1111 1111 1111 1111 1111 1111 1111 0004"
)

var errDown = errors.Wrap(chain.ErrUnavailable, "connection refused")

type fakeChain struct {
	mu         sync.Mutex
	height     uint64
	heightErr  error
	election   uint64
	electErr   error
	blocks     map[uint64]*chain.ElectionBlock
	validators map[string]*chain.Validator
	accounts   map[string]int64
	stakers    map[string]int64
	calls      []string
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		blocks:     make(map[uint64]*chain.ElectionBlock),
		validators: make(map[string]*chain.Validator),
		accounts:   make(map[string]int64),
		stakers:    make(map[string]int64),
	}
}

func (f *fakeChain) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeChain) BlockNumber(context.Context) (uint64, error) {
	f.record("height")
	return f.height, f.heightErr
}

func (f *fakeChain) ElectionBlockBefore(_ context.Context, height uint64) (uint64, error) {
	f.record("election")
	return f.election, f.electErr
}

func (f *fakeChain) BlockByNumber(_ context.Context, height uint64, includeBody bool) (*chain.ElectionBlock, error) {
	f.record("block")
	b, ok := f.blocks[height]
	if !ok || !includeBody {
		return nil, errDown
	}
	return b, nil
}

func (f *fakeChain) ValidatorByAddress(_ context.Context, address string) (*chain.Validator, error) {
	f.record("validator:" + address)
	v, ok := f.validators[address]
	if !ok {
		return nil, errDown
	}
	return v, nil
}

func (f *fakeChain) AccountBalance(_ context.Context, address string) (int64, error) {
	b, ok := f.accounts[address]
	if !ok {
		return 0, errDown
	}
	return b, nil
}

func (f *fakeChain) StakerBalance(_ context.Context, address string) (int64, error) {
	b, ok := f.stakers[address]
	if !ok {
		return 0, errors.Wrap(chain.ErrNotFound, "staker")
	}
	return b, nil
}

type fakePrice struct{ price string }

func (f fakePrice) Price(context.Context, string, string) (decimal.Decimal, bool) {
	if f.price == "" {
		return decimal.Zero, false
	}
	return decimal.RequireFromString(f.price), true
}

type fakeRegistry struct {
	subs []subscribers.Subscriber
	err  error
}

func (f *fakeRegistry) List(context.Context) ([]subscribers.Subscriber, error) {
	return append([]subscribers.Subscriber(nil), f.subs...), f.err
}

type sentMessage struct {
	chatID int64
	text   string
}

type captureTransport struct {
	mu   sync.Mutex
	sent []sentMessage
	fail map[int64]bool
}

func (c *captureTransport) SendMessage(_ context.Context, chatID int64, text string, _ notify.ParseMode) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail[chatID] {
		return errors.New("chat not found")
	}
	c.sent = append(c.sent, sentMessage{chatID: chatID, text: text})
	return nil
}

func (c *captureTransport) to(chatID int64) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, m := range c.sent {
		if m.chatID == chatID {
			out = append(out, m.text)
		}
	}
	return out
}

type countObserver struct {
	blocks    int
	reportsOK int
	reportsKO int
	upstream  []string
}

func (c *countObserver) ObserveElectionBlock(uint32, int) { c.blocks++ }
func (c *countObserver) ObserveReport(ok bool) {
	if ok {
		c.reportsOK++
	} else {
		c.reportsKO++
	}
}
func (c *countObserver) ObserveUpstreamFailure(op string) { c.upstream = append(c.upstream, op) }

type fixture struct {
	chain     *fakeChain
	registry  *fakeRegistry
	transport *captureTransport
	observer  *countObserver
	proc      *Processor
	events    chan chain.Event
}

func newFixture(price string) *fixture {
	f := &fixture{
		chain:     newFakeChain(),
		registry:  &fakeRegistry{},
		transport: &captureTransport{fail: map[int64]bool{}},
		observer:  &countObserver{},
		events:    make(chan chain.Event),
	}
	calc := rewards.NewCalculator(f.chain, fakePrice{price: price})
	f.proc = NewProcessor(f.chain, calc, f.registry, notify.NewDispatcher(f.transport, nil), f.events, nil, f.observer)
	return f
}

func electionBlock(epoch uint32, slots ...chain.SlotAssignment) *chain.ElectionBlock {
	return &chain.ElectionBlock{Number: 1000, Epoch: epoch, Type: "macro", IsElectionBlock: true, Slots: slots}
}

func TestHandleEvent_ReportsSlotsAndRewards(t *testing.T) {
	f := newFixture("0.02")
	f.registry.subs = []subscribers.Subscriber{{ChatID: 1, Address: v1}}
	f.chain.validators[v1] = &chain.Validator{Address: v1, RewardAddress: r1}
	f.chain.accounts[r1] = 500000
	f.chain.stakers[r1] = 0

	f.proc.HandleEvent(context.Background(), chain.Event{Block: electionBlock(10, chain.SlotAssignment{Validator: v1, NumSlots: 3})})

	msgs := f.transport.to(1)
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[0], "has been assigned <b>3 slots</b> in epoch 11")
	assert.Contains(t, msgs[1], "<b>5.00 NIM</b>")
	assert.Contains(t, msgs[1], "<b>0.10 USD</b>")
	assert.Contains(t, msgs[1], "<b>0.02 NIM/USD</b>")
	assert.Equal(t, 1, f.observer.blocks)
	assert.Equal(t, 1, f.observer.reportsOK)
	assert.Equal(t, uint32(10), f.proc.LastElectionBlock().Epoch)
}

func TestHandleEvent_SkipsSubscribersWithoutAddress(t *testing.T) {
	f := newFixture("0.02")
	f.registry.subs = []subscribers.Subscriber{{ChatID: 2, Address: ""}}

	f.proc.HandleEvent(context.Background(), chain.Event{Block: electionBlock(10)})

	assert.Empty(t, f.transport.to(2))
	assert.Empty(t, f.chain.calls)
}

func TestHandleEvent_FailureIsolatedPerSubscriber(t *testing.T) {
	f := newFixture("0.02")
	f.registry.subs = []subscribers.Subscriber{
		{ChatID: 3, Address: v3},
		{ChatID: 4, Address: v4},
	}
	f.chain.validators[v4] = &chain.Validator{Address: v4, RewardAddress: r4}
	f.chain.accounts[r4] = 123456

	f.proc.HandleEvent(context.Background(), chain.Event{Block: electionBlock(7, chain.SlotAssignment{Validator: v4, NumSlots: 1})})

	assert.Empty(t, f.transport.to(3))
	msgs := f.transport.to(4)
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[0], "<b>1 slot</b> in epoch 8")
	assert.Contains(t, msgs[1], "<b>1.23 NIM</b>")
	assert.Contains(t, msgs[1], "<b>0.02 USD</b>")
	assert.Equal(t, []string{"validator:" + v3, "validator:" + v4}, f.chain.calls)
	assert.Equal(t, 1, f.observer.reportsKO)
	assert.Equal(t, 1, f.observer.reportsOK)
	assert.Equal(t, []string{OpValidator}, f.observer.upstream)
}

func TestHandleEvent_DeliveryFailureDoesNotStopOthers(t *testing.T) {
	f := newFixture("")
	f.registry.subs = []subscribers.Subscriber{
		{ChatID: 5, Address: v1},
		{ChatID: 6, Address: v1},
	}
	f.transport.fail[5] = true
	f.chain.validators[v1] = &chain.Validator{Address: v1, RewardAddress: r1}
	f.chain.accounts[r1] = 100000

	f.proc.HandleEvent(context.Background(), chain.Event{Block: electionBlock(1)})

	msgs := f.transport.to(6)
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[0], "has not been assigned any slots in epoch 2")
	assert.Contains(t, msgs[1], "<b>1.00 NIM</b>")
	assert.Contains(t, msgs[1], "<b>0.00 USD</b>")
}

func TestHandleEvent_RewardFailureStillReported(t *testing.T) {
	f := newFixture("0.02")
	f.registry.subs = []subscribers.Subscriber{{ChatID: 1, Address: v1}}
	f.chain.validators[v1] = &chain.Validator{Address: v1, RewardAddress: r1}

	f.proc.HandleEvent(context.Background(), chain.Event{Block: electionBlock(1)})

	msgs := f.transport.to(1)
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[1], "<b>0.00 NIM</b>")
	assert.Equal(t, []string{OpRewards}, f.observer.upstream)
}

func TestHandleEvent_IgnoresErrorsAndNonElectionBlocks(t *testing.T) {
	f := newFixture("0.02")
	f.registry.subs = []subscribers.Subscriber{{ChatID: 1, Address: v1}}

	ctx := context.Background()
	f.proc.HandleEvent(ctx, chain.Event{Err: errors.New("socket closed")})
	f.proc.HandleEvent(ctx, chain.Event{})
	f.proc.HandleEvent(ctx, chain.Event{Block: &chain.ElectionBlock{Number: 5, Type: "micro"}})

	assert.Empty(t, f.transport.sent)
	assert.Empty(t, f.chain.calls)
	assert.Nil(t, f.proc.LastElectionBlock())
	assert.Equal(t, []string{OpStream}, f.observer.upstream)
}

func TestHandleEvent_RegistryFailure(t *testing.T) {
	f := newFixture("0.02")
	f.registry.err = errors.New("db down")

	f.proc.HandleEvent(context.Background(), chain.Event{Block: electionBlock(1)})

	assert.Empty(t, f.transport.sent)
	assert.Equal(t, []string{OpList}, f.observer.upstream)
}

func TestStart_StateTransitions(t *testing.T) {
	f := newFixture("0.02")
	f.registry.subs = []subscribers.Subscriber{{ChatID: 1, Address: v1}}
	f.chain.validators[v1] = &chain.Validator{Address: v1, RewardAddress: r1}
	f.chain.accounts[r1] = 100000
	assert.Equal(t, Idle, f.proc.State())

	done := make(chan struct{})
	go func() {
		f.proc.Start(context.Background())
		close(done)
	}()

	f.events <- chain.Event{Block: electionBlock(3)}
	assert.Equal(t, Subscribed, f.proc.State())
	close(f.events)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("processor did not stop after stream closed")
	}
	assert.Equal(t, Idle, f.proc.State())
	assert.Len(t, f.transport.to(1), 2)
}

func TestStart_StopsOnContextCancel(t *testing.T) {
	f := newFixture("0.02")
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		f.proc.Start(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("processor did not stop after cancel")
	}
	assert.Equal(t, Idle, f.proc.State())
}

func TestStatus_UsesLatestElectionBlock(t *testing.T) {
	f := newFixture("0.02")
	f.chain.height = 1234
	f.chain.election = 1000
	f.chain.blocks[1000] = electionBlock(10, chain.SlotAssignment{Validator: v1, NumSlots: 2})
	f.chain.validators[v1] = &chain.Validator{Address: v1, RewardAddress: r1}
	f.chain.accounts[r1] = 500000

	require.NoError(t, f.proc.Status(context.Background(), 9, v1))

	msgs := f.transport.to(9)
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[0], "<b>2 slots</b> in epoch 11")
	assert.Equal(t, []string{"height", "election", "block", "validator:" + v1}, f.chain.calls)
}

func TestStatus_LookupFailures(t *testing.T) {
	cases := map[string]func(f *fakeChain){
		"height":   func(f *fakeChain) { f.heightErr = errDown },
		"election": func(f *fakeChain) { f.electErr = errDown },
		"block":    func(f *fakeChain) { f.election = 999 },
		"not election": func(f *fakeChain) {
			f.blocks[1000] = &chain.ElectionBlock{Number: 1000, Epoch: 10, Type: "micro"}
		},
	}

	for name, breakChain := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture("0.02")
			f.chain.height = 1234
			f.chain.election = 1000
			f.chain.blocks[1000] = electionBlock(10)
			breakChain(f.chain)

			err := f.proc.Status(context.Background(), 9, v1)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrTemporarilyUnavailable))
			assert.Empty(t, f.transport.sent)
		})
	}
}

func TestRewards(t *testing.T) {
	f := newFixture("2.005")
	f.chain.validators[v1] = &chain.Validator{Address: v1, RewardAddress: r1}
	f.chain.accounts[r1] = 100000
	f.chain.stakers[r1] = 23000

	res, err := f.proc.Rewards(context.Background(), v1)
	require.NoError(t, err)
	assert.Equal(t, "1.23", res.Native.StringFixed(2))
	assert.Equal(t, "2.47", res.Fiat.StringFixed(2))

	_, err = f.proc.Rewards(context.Background(), v3)
	assert.True(t, errors.Is(err, ErrTemporarilyUnavailable))
}
