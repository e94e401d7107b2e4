package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	aggregatorV3ABIJSON = `[
{"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
{"inputs":[],"name":"latestRoundData","outputs":[{"internalType":"uint80","name":"roundId","type":"uint80"},{"internalType":"int256","name":"answer","type":"int256"},{"internalType":"uint256","name":"startedAt","type":"uint256"},{"internalType":"uint256","name":"updatedAt","type":"uint256"},{"internalType":"uint80","name":"answeredInRound","type":"uint80"}],"stateMutability":"view","type":"function"}
]`
)

var (
	aggregatorABI abi.ABI
)

func init() {
	parsed, err := abi.JSON(strings.NewReader(aggregatorV3ABIJSON))
	if err != nil {
		panic("failed to parse AggregatorV3 ABI: " + err.Error())
	}
	aggregatorABI = parsed
}

// ChainlinkOptions parameterise the on-chain price feed source.
type ChainlinkOptions struct {
	Name    string
	RPCURL  string
	Address string
	Unit    string
	Timeout time.Duration
	// MaxAge rejects rounds older than this; zero disables the check.
	MaxAge time.Duration
}

// ChainlinkSource reads the latest answer of a Chainlink AggregatorV3 feed.
type ChainlinkSource struct {
	opts      ChainlinkOptions
	logger    zerolog.Logger
	client    *ethclient.Client
	clientMux sync.Mutex
	decimals  *uint8
}

// NewChainlinkSource builds a new feed reader.
func NewChainlinkSource(opts ChainlinkOptions, logger zerolog.Logger) *ChainlinkSource {
	return &ChainlinkSource{opts: opts, logger: logger.With().Str("component", "chainlink_source").Str("source", opts.Name).Logger()}
}

// Name identifies the source.
func (c *ChainlinkSource) Name() string {
	return c.opts.Name
}

// Fetch retrieves the latest feed answer scaled by the feed decimals.
func (c *ChainlinkSource) Fetch(ctx context.Context) (Observation, error) {
	if c.opts.RPCURL == "" {
		return Observation{}, errors.New("ethereum rpc url not configured")
	}
	if c.opts.Address == "" {
		return Observation{}, errors.New("feed contract address not configured")
	}

	timeout := c.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var cancel context.CancelFunc
	ctx, cancel = context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := c.getClient(ctx)
	if err != nil {
		return Observation{}, err
	}

	addr := common.HexToAddress(c.opts.Address)

	decimals, err := c.feedDecimals(ctx, client, addr)
	if err != nil {
		return Observation{}, err
	}

	outputs, err := c.call(ctx, client, addr, "latestRoundData")
	if err != nil {
		return Observation{}, err
	}
	if len(outputs) != 5 {
		return Observation{}, errors.New("unexpected latestRoundData response")
	}

	roundID, ok1 := outputs[0].(*big.Int)
	answer, ok2 := outputs[1].(*big.Int)
	updatedAt, ok3 := outputs[3].(*big.Int)
	if !ok1 || !ok2 || !ok3 {
		return Observation{}, errors.New("failed to decode latestRoundData output")
	}
	if answer.Sign() <= 0 {
		return Observation{}, fmt.Errorf("feed returned non-positive answer %s", answer.String())
	}

	updated := time.Unix(updatedAt.Int64(), 0).UTC()
	if c.opts.MaxAge > 0 && time.Since(updated) > c.opts.MaxAge {
		return Observation{}, fmt.Errorf("feed round %s is stale (updated %s)", roundID.String(), updated.Format(time.RFC3339))
	}

	blockNumber, err := client.BlockNumber(ctx)
	if err != nil {
		return Observation{}, err
	}

	raw, _ := json.Marshal(map[string]string{
		"round_id":   roundID.String(),
		"answer":     answer.String(),
		"updated_at": updated.Format(time.RFC3339),
	})

	return Observation{
		Source:      c.opts.Name,
		Value:       decimal.NewFromBigInt(answer, -int32(decimals)),
		Unit:        c.opts.Unit,
		Raw:         raw,
		BlockNumber: blockNumber,
		FetchedAt:   time.Now().UTC(),
	}, nil
}

func (c *ChainlinkSource) feedDecimals(ctx context.Context, client *ethclient.Client, addr common.Address) (uint8, error) {
	c.clientMux.Lock()
	cached := c.decimals
	c.clientMux.Unlock()
	if cached != nil {
		return *cached, nil
	}

	outputs, err := c.call(ctx, client, addr, "decimals")
	if err != nil {
		return 0, err
	}
	if len(outputs) != 1 {
		return 0, errors.New("unexpected decimals response")
	}
	d, ok := outputs[0].(uint8)
	if !ok {
		return 0, errors.New("failed to decode decimals output")
	}

	c.clientMux.Lock()
	c.decimals = &d
	c.clientMux.Unlock()
	return d, nil
}

func (c *ChainlinkSource) call(ctx context.Context, client *ethclient.Client, addr common.Address, method string) ([]interface{}, error) {
	payload, err := aggregatorABI.Pack(method)
	if err != nil {
		return nil, err
	}
	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: payload}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	return aggregatorABI.Unpack(method, res)
}

func (c *ChainlinkSource) getClient(ctx context.Context) (*ethclient.Client, error) {
	c.clientMux.Lock()
	defer c.clientMux.Unlock()

	if c.client != nil {
		return c.client, nil
	}

	client, err := ethclient.DialContext(ctx, c.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	c.client = client
	return client, nil
}

var _ Source = (*ChainlinkSource)(nil)
