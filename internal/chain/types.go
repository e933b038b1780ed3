package chain

import (
	"context"

	"github.com/pkg/errors"
)

var (
	// ErrUnavailable marks any failed chain query (transport error, RPC error, bad payload).
	ErrUnavailable = errors.New("chain query unavailable")
	// ErrNotFound marks a lookup for an entity the chain does not know about,
	// e.g. a staker query against an address that is not staking.
	ErrNotFound = errors.New("not found on chain")
)

// SlotAssignment is one validator's share of the slots decided in an election block.
type SlotAssignment struct {
	Validator string `json:"validator"`
	FirstSlot uint16 `json:"firstSlotNumber"`
	NumSlots  uint16 `json:"numSlots"`
}

// ElectionBlock is the subset of a macro block the monitor needs.
// Blocks that are not election blocks carry IsElectionBlock=false and no slots.
type ElectionBlock struct {
	Number          uint64           `json:"number"`
	Epoch           uint32           `json:"epoch"`
	Batch           uint32           `json:"batch"`
	Type            string           `json:"type"`
	IsElectionBlock bool             `json:"isElectionBlock"`
	Slots           []SlotAssignment `json:"slots"`
}

// Validator holds the metadata returned for a validator address.
type Validator struct {
	Address       string `json:"address"`
	RewardAddress string `json:"rewardAddress"`
	Balance       int64  `json:"balance"`
	NumStakers    int    `json:"numStakers"`
	Retired       bool   `json:"retired"`
}

// Event is one element of the election block stream: either a block or an error.
type Event struct {
	Block *ElectionBlock
	Err   error
}

// Query is the pull side of the chain client.
type Query interface {
	BlockNumber(ctx context.Context) (uint64, error)
	ElectionBlockBefore(ctx context.Context, height uint64) (uint64, error)
	BlockByNumber(ctx context.Context, height uint64, includeBody bool) (*ElectionBlock, error)
	ValidatorByAddress(ctx context.Context, address string) (*Validator, error)
	AccountBalance(ctx context.Context, address string) (int64, error)
	StakerBalance(ctx context.Context, address string) (int64, error)
}
