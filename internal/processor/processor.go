package processor

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/Albermonte/validator-election-bot/internal/chain"
	"github.com/Albermonte/validator-election-bot/internal/logger"
	"github.com/Albermonte/validator-election-bot/internal/notify"
	"github.com/Albermonte/validator-election-bot/internal/rewards"
	"github.com/Albermonte/validator-election-bot/internal/slots"
	"github.com/Albermonte/validator-election-bot/internal/subscribers"
)

// ErrTemporarilyUnavailable is returned by the on-demand queries when the chain
// could not be queried. Callers may simply retry later.
var ErrTemporarilyUnavailable = errors.New("unable to get the info right now, please try again later")

// Upstream operations reported to the Observer.
const (
	OpStream    = "stream"
	OpList      = "subscribers"
	OpHeight    = "block_number"
	OpElection  = "election_block_before"
	OpBlock     = "block_by_number"
	OpValidator = "validator"
	OpRewards   = "rewards"
)

type State int32

const (
	Idle State = iota
	Subscribed
)

func (s State) String() string {
	if s == Subscribed {
		return "subscribed"
	}
	return "idle"
}

type RewardComputer interface {
	Compute(ctx context.Context, rewardAddress string) (rewards.Result, error)
}

type Sender interface {
	Send(ctx context.Context, chatID int64, msg notify.Message) error
}

type StateBroadcaster interface {
	BroadcastUpdate()
}

// Observer receives processing outcomes, e.g. for metrics.
type Observer interface {
	ObserveElectionBlock(epoch uint32, subscribers int)
	ObserveReport(ok bool)
	ObserveUpstreamFailure(operation string)
}

// Processor reacts to election blocks by reporting slots and rewards to every
// subscriber. Events are handled one at a time, subscribers one after another.
type Processor struct {
	chain       chain.Query
	rewards     RewardComputer
	registry    subscribers.Lister
	sender      Sender
	events      <-chan chain.Event
	broadcaster StateBroadcaster
	observer    Observer

	state  atomic.Int32
	lastMu sync.RWMutex
	last   *chain.ElectionBlock
}

// NewProcessor wires the processor. broadcaster and observer may be nil.
func NewProcessor(q chain.Query, calc RewardComputer, registry subscribers.Lister, sender Sender, events <-chan chain.Event, broadcaster StateBroadcaster, observer Observer) *Processor {
	return &Processor{
		chain:       q,
		rewards:     calc,
		registry:    registry,
		sender:      sender,
		events:      events,
		broadcaster: broadcaster,
		observer:    observer,
	}
}

// Start consumes the event stream until it is closed or ctx is cancelled.
// It does not reconnect; keeping the stream alive is the producer's job.
func (p *Processor) Start(ctx context.Context) {
	p.state.Store(int32(Subscribed))
	defer p.state.Store(int32(Idle))
	logger.Info("PROC", "Listening for election blocks")

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-p.events:
			if !ok {
				logger.Warn("PROC", "Election block stream closed")
				return
			}
			p.HandleEvent(ctx, ev)
		}
	}
}

func (p *Processor) State() State {
	return State(p.state.Load())
}

// LastElectionBlock returns the last election block seen on the stream, or nil.
func (p *Processor) LastElectionBlock() *chain.ElectionBlock {
	p.lastMu.RLock()
	defer p.lastMu.RUnlock()
	return p.last
}

// HandleEvent processes a single stream event to completion.
func (p *Processor) HandleEvent(ctx context.Context, ev chain.Event) {
	if ev.Err != nil {
		logger.Error("PROC", "Election block stream error: %v", ev.Err)
		p.upstreamFailure(OpStream)
		return
	}
	block := ev.Block
	if block == nil || !block.IsElectionBlock {
		return
	}

	p.lastMu.Lock()
	p.last = block
	p.lastMu.Unlock()

	subs, err := p.registry.List(ctx)
	if err != nil {
		logger.Error("PROC", "Failed to list subscribers for block #%d: %v", block.Number, err)
		p.upstreamFailure(OpList)
		return
	}

	logger.Info("PROC", "Election block #%d | Epoch %d | %d subscribers", block.Number, block.Epoch, len(subs))

	reported := 0
	for _, sub := range subs {
		if sub.Address == "" {
			continue
		}
		err := p.Report(ctx, sub.ChatID, sub.Address, block)
		if p.observer != nil {
			p.observer.ObserveReport(err == nil)
		}
		reported++
	}

	if p.observer != nil {
		p.observer.ObserveElectionBlock(block.Epoch, reported)
	}
	if p.broadcaster != nil {
		p.broadcaster.BroadcastUpdate()
	}
}

// Report sends the slot and reward summaries of address in block to chatID.
// A failing validator lookup aborts the report and is returned; delivery
// failures are logged by the sender and do not stop the second message.
func (p *Processor) Report(ctx context.Context, chatID int64, address string, block *chain.ElectionBlock) error {
	report, ok := slots.Resolve(block, address)
	if !ok {
		return nil
	}

	meta, err := p.chain.ValidatorByAddress(ctx, address)
	if err != nil {
		logger.Error("PROC", "Validator lookup for %s failed: %v", address, err)
		p.upstreamFailure(OpValidator)
		return errors.WithMessagef(err, "validator %s", address)
	}

	result := p.computeRewards(ctx, address, meta.RewardAddress)

	if report.Assigned {
		logger.Info("PROC", "Validator %s has been assigned %d slots for epoch %d", address, report.NumSlots, report.UpcomingEpoch())
	} else {
		logger.Info("PROC", "Validator %s has not been assigned any slots for epoch %d", address, report.UpcomingEpoch())
	}
	_ = p.sender.Send(ctx, chatID, notify.FormatSlots(report))
	_ = p.sender.Send(ctx, chatID, notify.FormatRewards(result))
	return nil
}

// Status reports the most recent election block for address to chatID.
func (p *Processor) Status(ctx context.Context, chatID int64, address string) error {
	block, err := p.LatestElectionBlock(ctx)
	if err != nil {
		return err
	}
	if err := p.Report(ctx, chatID, address, block); err != nil {
		return errors.WithMessage(ErrTemporarilyUnavailable, err.Error())
	}
	return nil
}

// Rewards computes the reward balance of the validator at address.
func (p *Processor) Rewards(ctx context.Context, address string) (rewards.Result, error) {
	meta, err := p.chain.ValidatorByAddress(ctx, address)
	if err != nil {
		logger.Error("PROC", "Validator lookup for %s failed: %v", address, err)
		p.upstreamFailure(OpValidator)
		return rewards.Result{}, errors.WithMessage(ErrTemporarilyUnavailable, err.Error())
	}
	return p.computeRewards(ctx, address, meta.RewardAddress), nil
}

// LatestElectionBlock fetches the election block at or before the current head.
func (p *Processor) LatestElectionBlock(ctx context.Context) (*chain.ElectionBlock, error) {
	height, err := p.chain.BlockNumber(ctx)
	if err != nil {
		return nil, p.unavailable(OpHeight, err)
	}
	electionHeight, err := p.chain.ElectionBlockBefore(ctx, height)
	if err != nil {
		return nil, p.unavailable(OpElection, err)
	}
	block, err := p.chain.BlockByNumber(ctx, electionHeight, true)
	if err != nil {
		return nil, p.unavailable(OpBlock, err)
	}
	if block == nil || !block.IsElectionBlock {
		return nil, p.unavailable(OpBlock, errors.Errorf("block #%d is not an election block", electionHeight))
	}
	return block, nil
}

// computeRewards never fails: an account lookup error is logged and the
// zero result is reported as is.
func (p *Processor) computeRewards(ctx context.Context, address, rewardAddress string) rewards.Result {
	result, err := p.rewards.Compute(ctx, rewardAddress)
	if err != nil {
		logger.Error("REWARD", "Reward balance of %s (%s) unavailable: %v", address, rewardAddress, err)
		p.upstreamFailure(OpRewards)
		return result
	}
	logger.Info("REWARD", "Validator %s has a balance of %s NIM (%s USD)", address, result.Native.StringFixed(2), result.Fiat.StringFixed(2))
	return result
}

func (p *Processor) unavailable(op string, err error) error {
	logger.Error("PROC", "%s failed: %v", op, err)
	p.upstreamFailure(op)
	return errors.WithMessage(ErrTemporarilyUnavailable, err.Error())
}

func (p *Processor) upstreamFailure(op string) {
	if p.observer != nil {
		p.observer.ObserveUpstreamFailure(op)
	}
}
