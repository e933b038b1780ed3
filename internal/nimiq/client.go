package nimiq

import (
	"context"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"

	"github.com/Albermonte/validator-election-bot/internal/chain"
)

const (
	methodBlockNumber         = "getBlockNumber"
	methodElectionBlockBefore = "getElectionBlockBefore"
	methodBlockByNumber       = "getBlockByNumber"
	methodValidatorByAddress  = "getValidatorByAddress"
	methodAccountByAddress    = "getAccountByAddress"
	methodStakerByAddress     = "getStakerByAddress"
)

// envelope is the wrapper every Nimiq RPC result comes in.
type envelope[T any] struct {
	Data T `json:"data"`
}

type account struct {
	Address string `json:"address"`
	Balance int64  `json:"balance"`
	Type    string `json:"type"`
}

type staker struct {
	Address    string `json:"address"`
	Balance    int64  `json:"balance"`
	Delegation string `json:"delegation"`
}

// Client talks JSON-RPC to a single Nimiq node.
type Client struct {
	raw     *rpc.Client
	timeout time.Duration
}

var _ chain.Query = (*Client)(nil)

// Dial connects to the node's JSON-RPC endpoint. A zero timeout leaves
// deadlines to the caller's context.
func Dial(ctx context.Context, url string, timeout time.Duration) (*Client, error) {
	raw, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", url)
	}
	return NewClient(raw, timeout), nil
}

func NewClient(raw *rpc.Client, timeout time.Duration) *Client {
	return &Client{raw: raw, timeout: timeout}
}

func (c *Client) Close() {
	c.raw.Close()
}

func call[T any](ctx context.Context, c *Client, method string, args ...interface{}) (T, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var out envelope[T]
	if err := c.raw.CallContext(ctx, &out, method, args...); err != nil {
		var zero T
		return zero, classify(method, err)
	}
	return out.Data, nil
}

func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	return call[uint64](ctx, c, methodBlockNumber)
}

func (c *Client) ElectionBlockBefore(ctx context.Context, height uint64) (uint64, error) {
	return call[uint64](ctx, c, methodElectionBlockBefore, height)
}

func (c *Client) BlockByNumber(ctx context.Context, height uint64, includeBody bool) (*chain.ElectionBlock, error) {
	block, err := call[*chain.ElectionBlock](ctx, c, methodBlockByNumber, height, includeBody)
	if err != nil {
		return nil, err
	}
	if block == nil {
		return nil, errors.Wrapf(chain.ErrNotFound, "%s: block %d", methodBlockByNumber, height)
	}
	return block, nil
}

func (c *Client) ValidatorByAddress(ctx context.Context, address string) (*chain.Validator, error) {
	v, err := call[*chain.Validator](ctx, c, methodValidatorByAddress, address)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, errors.Wrapf(chain.ErrNotFound, "%s: %s", methodValidatorByAddress, address)
	}
	return v, nil
}

func (c *Client) AccountBalance(ctx context.Context, address string) (int64, error) {
	acc, err := call[account](ctx, c, methodAccountByAddress, address)
	if err != nil {
		return 0, err
	}
	return acc.Balance, nil
}

func (c *Client) StakerBalance(ctx context.Context, address string) (int64, error) {
	s, err := call[*staker](ctx, c, methodStakerByAddress, address)
	if err != nil {
		return 0, err
	}
	if s == nil {
		return 0, errors.Wrapf(chain.ErrNotFound, "%s: %s", methodStakerByAddress, address)
	}
	return s.Balance, nil
}

// classify maps transport and RPC errors onto the chain error kinds.
func classify(method string, err error) error {
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) && strings.Contains(strings.ToLower(rpcErr.Error()), "not found") {
		return errors.Wrapf(chain.ErrNotFound, "%s: %s", method, rpcErr.Error())
	}
	return errors.Wrapf(chain.ErrUnavailable, "%s: %s", method, SanitizeError(err))
}

// SanitizeError strips HTML bodies that reverse proxies put into error responses.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if strings.Contains(msg, "<html") || strings.Contains(msg, "<HTML") {
		// Keep the status line before HTML payload, if present
		if idx := strings.Index(strings.ToLower(msg), "<html"); idx > 0 {
			return strings.TrimSpace(msg[:idx])
		}
		return "HTTP error response"
	}
	return msg
}
