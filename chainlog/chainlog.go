// Package chainlog reads Signed logs of the wall contract from an Ethereum
// JSON-RPC endpoint and turns them into reconcile.RawEvent records.
package chainlog

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"math"
	"math/big"
	"strings"
	"sync/atomic"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	log "github.com/sirupsen/logrus"

	"basewall.xyz/wallsign/reconcile"
	"basewall.xyz/wallsign/wall"
)

// Client is the part of ethclient.Client the source needs.
type Client interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Config selects the chain, contract and scan parameters. It is passed
// explicitly; the package keeps no global client.
type Config struct {
	RPCURL        string
	ChainID       uint64
	Contract      string
	DeployBlock   uint64
	BlockRange    uint64
	Confirmations uint64
}

// DefaultBlockRange bounds a single eth_getLogs request.
const DefaultBlockRange = 2000

func (c Config) Validate() error {
	if !common.IsHexAddress(c.Contract) {
		return fmt.Errorf("chainlog: invalid contract address %q", c.Contract)
	}
	return nil
}

// FetchError reports a failed log request. It is never turned into an empty
// result.
type FetchError struct {
	From, To uint64
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("chainlog: fetch blocks %d-%d: %v", e.From, e.To, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ErrUndecodable marks a log that is not a well-formed Signed event.
var ErrUndecodable = errors.New("chainlog: undecodable log")

// Batch is the decoded content of one block range.
type Batch struct {
	From, To uint64
	Events   []reconcile.RawEvent
}

// Source fetches and decodes Signed logs.
type Source struct {
	client   Client
	cfg      Config
	contract common.Address
	abi      abi.ABI
	dropped  atomic.Uint64
}

var _ reconcile.Fetcher = (*Source)(nil)

// New builds a Source over an existing client.
func New(client Client, cfg Config) (*Source, error) {
	if client == nil {
		return nil, errors.New("chainlog: nil client")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.BlockRange == 0 {
		cfg.BlockRange = DefaultBlockRange
	}
	parsed, err := abi.JSON(strings.NewReader(WallABI))
	if err != nil {
		return nil, fmt.Errorf("chainlog: parse abi: %w", err)
	}
	if parsed.Events["Signed"].ID != SignedTopic {
		return nil, errors.New("chainlog: Signed event id mismatch")
	}
	return &Source{
		client:   client,
		cfg:      cfg,
		contract: common.HexToAddress(cfg.Contract),
		abi:      parsed,
	}, nil
}

// Dial connects to cfg.RPCURL, checks the chain id when one is configured and
// returns the Source with a function that closes the connection.
func Dial(ctx context.Context, cfg Config) (*Source, func(), error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	ec, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, nil, fmt.Errorf("chainlog: dial %s: %w", cfg.RPCURL, err)
	}
	if cfg.ChainID != 0 {
		id, err := ec.ChainID(ctx)
		if err != nil {
			ec.Close()
			return nil, nil, fmt.Errorf("chainlog: chain id: %w", err)
		}
		if !id.IsUint64() || id.Uint64() != cfg.ChainID {
			ec.Close()
			return nil, nil, fmt.Errorf("chainlog: endpoint serves chain %s, want %d", id, cfg.ChainID)
		}
	}
	src, err := New(ec, cfg)
	if err != nil {
		ec.Close()
		return nil, nil, err
	}
	return src, ec.Close, nil
}

// Config returns the effective configuration.
func (s *Source) Config() Config { return s.cfg }

// Dropped counts logs skipped because they could not be decoded.
func (s *Source) Dropped() uint64 { return s.dropped.Load() }

// LatestBlock returns the chain head.
func (s *Source) LatestBlock(ctx context.Context) (uint64, error) {
	n, err := s.client.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("chainlog: block number: %w", err)
	}
	return n, nil
}

// SafeHead returns the newest block buried under cfg.Confirmations blocks.
func (s *Source) SafeHead(ctx context.Context) (uint64, error) {
	head, err := s.LatestBlock(ctx)
	if err != nil {
		return 0, err
	}
	if head < s.cfg.Confirmations {
		return 0, nil
	}
	return head - s.cfg.Confirmations, nil
}

// NextTokenID calls the contract's nextTokenId view.
func (s *Source) NextTokenID(ctx context.Context) (uint64, error) {
	input, err := s.abi.Pack("nextTokenId")
	if err != nil {
		return 0, err
	}
	out, err := s.client.CallContract(ctx, ethereum.CallMsg{To: &s.contract, Data: input}, nil)
	if err != nil {
		return 0, fmt.Errorf("chainlog: nextTokenId: %w", err)
	}
	vals, err := s.abi.Unpack("nextTokenId", out)
	if err != nil || len(vals) != 1 {
		return 0, fmt.Errorf("chainlog: nextTokenId: unexpected output %x", out)
	}
	n, ok := vals[0].(*big.Int)
	if !ok || !n.IsUint64() {
		return 0, fmt.Errorf("chainlog: nextTokenId: out of range")
	}
	return n.Uint64(), nil
}

// LatestTokenID is the highest minted token id, 0 when none.
func (s *Source) LatestTokenID(ctx context.Context) (uint64, error) {
	next, err := s.NextTokenID(ctx)
	if err != nil {
		return 0, err
	}
	if next == 0 {
		return 0, nil
	}
	return next - 1, nil
}

// SignCalldata returns the calldata of sign(payload), ready to be sent to
// the contract.
func SignCalldata(payload []byte) ([]byte, error) {
	parsed, err := abi.JSON(strings.NewReader(WallABI))
	if err != nil {
		return nil, err
	}
	return parsed.Pack("sign", payload)
}

// Scan yields one Batch per block range of at most cfg.BlockRange blocks,
// covering [from, to]. The sequence stops after the first error, which is a
// *FetchError.
func (s *Source) Scan(ctx context.Context, from, to uint64) iter.Seq2[Batch, error] {
	return func(yield func(Batch, error) bool) {
		for start := from; start <= to; {
			end := to
			if to-start >= s.cfg.BlockRange {
				end = start + s.cfg.BlockRange - 1
			}
			logs, err := s.client.FilterLogs(ctx, s.query(start, end))
			if err != nil {
				yield(Batch{From: start, To: end}, &FetchError{From: start, To: end, Err: err})
				return
			}
			if !yield(Batch{From: start, To: end, Events: s.decodeAll(logs)}, nil) {
				return
			}
			if end == math.MaxUint64 {
				return
			}
			start = end + 1
		}
	}
}

// Fetch returns every Signed event in [from, to].
func (s *Source) Fetch(ctx context.Context, from, to uint64) ([]reconcile.RawEvent, error) {
	var out []reconcile.RawEvent
	for b, err := range s.Scan(ctx, from, to) {
		if err != nil {
			return nil, err
		}
		out = append(out, b.Events...)
	}
	return out, nil
}

// FetchEvents reads every Signed event from the deploy block to the safe head.
// Window filtering is left to the reconciler.
func (s *Source) FetchEvents(ctx context.Context, _ wall.Window) ([]reconcile.RawEvent, error) {
	head, err := s.SafeHead(ctx)
	if err != nil {
		return nil, err
	}
	return s.Fetch(ctx, s.cfg.DeployBlock, head)
}

func (s *Source) query(from, to uint64) ethereum.FilterQuery {
	return ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{s.contract},
		Topics:    [][]common.Hash{{SignedTopic}},
	}
}

func (s *Source) decodeAll(logs []types.Log) []reconcile.RawEvent {
	out := make([]reconcile.RawEvent, 0, len(logs))
	for _, l := range logs {
		if l.Removed {
			continue
		}
		ev, err := s.Decode(l)
		if err != nil {
			s.dropped.Add(1)
			log.WithError(err).WithFields(log.Fields{
				"tx":       l.TxHash.Hex(),
				"logIndex": l.Index,
				"block":    l.BlockNumber,
			}).Warn("dropping Signed log")
			continue
		}
		out = append(out, ev)
	}
	return out
}

// Decode converts one log into a RawEvent. The payload itself is not checked.
func (s *Source) Decode(l types.Log) (reconcile.RawEvent, error) {
	if len(l.Topics) != 3 || l.Topics[0] != SignedTopic {
		return reconcile.RawEvent{}, fmt.Errorf("%w: %d topics", ErrUndecodable, len(l.Topics))
	}
	tokenID := new(big.Int).SetBytes(l.Topics[2].Bytes())
	if !tokenID.IsUint64() {
		return reconcile.RawEvent{}, fmt.Errorf("%w: token id %s out of range", ErrUndecodable, tokenID)
	}
	vals, err := s.abi.Unpack("Signed", l.Data)
	if err != nil {
		return reconcile.RawEvent{}, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	if len(vals) != 1 {
		return reconcile.RawEvent{}, fmt.Errorf("%w: %d event values", ErrUndecodable, len(vals))
	}
	data, ok := vals[0].([]byte)
	if !ok {
		return reconcile.RawEvent{}, fmt.Errorf("%w: unexpected event data", ErrUndecodable)
	}
	return reconcile.RawEvent{
		Signer:      common.BytesToAddress(l.Topics[1].Bytes()).Hex(),
		TokenID:     tokenID.Uint64(),
		Data:        data,
		TxHash:      l.TxHash.Hex(),
		LogIndex:    uint64(l.Index),
		BlockNumber: l.BlockNumber,
	}, nil
}
