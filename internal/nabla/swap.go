// Package nabla executes the AMM leg on the parachain: quoting, a
// deficit-only router approval, and the exact-in swap with a slippage-bound
// minimum output.
package nabla

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"ramp/internal/blockchain/evm"
	"ramp/internal/ramperr"
)

const routerABI = `[
	{
		"inputs": [
			{"internalType": "uint256", "name": "amountIn", "type": "uint256"},
			{"internalType": "address[]", "name": "tokenPath", "type": "address[]"}
		],
		"name": "getAmountOut",
		"outputs": [
			{"internalType": "uint256", "name": "amountOut", "type": "uint256"},
			{"internalType": "uint256", "name": "effectivePrice", "type": "uint256"}
		],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [
			{"internalType": "uint256", "name": "amountIn", "type": "uint256"},
			{"internalType": "uint256", "name": "amountOutMin", "type": "uint256"},
			{"internalType": "address[]", "name": "tokenPath", "type": "address[]"},
			{"internalType": "address", "name": "to", "type": "address"},
			{"internalType": "uint256", "name": "deadline", "type": "uint256"}
		],
		"name": "swapExactTokensForTokens",
		"outputs": [{"internalType": "uint256[]", "name": "amounts", "type": "uint256[]"}],
		"stateMutability": "nonpayable",
		"type": "function"
	}
]`

const bpsDenominator = 10_000

// Config pins the router and swap behavior.
type Config struct {
	Router           common.Address
	Deadline         time.Duration // swap validity window, minutes not hours
	WaitTimeout      time.Duration
	GasMultiplierPct int
}

// chainClient is the subset of the EVM client the swapper needs; an
// interface so tests can run against a fake chain.
type chainClient interface {
	Call(ctx context.Context, to common.Address, data []byte) ([]byte, error)
	SubmitTx(ctx context.Context, to common.Address, data []byte, value *big.Int, gasLimit uint64, gasMultiplierPct int) (common.Hash, error)
	WaitForTransaction(ctx context.Context, txHash common.Hash, timeout time.Duration) (*ethtypes.Receipt, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error)
	OperatorAddress() common.Address
}

// tokenClient is the ERC-20 surface the swapper touches.
type tokenClient interface {
	Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
	Approve(ctx context.Context, token, spender common.Address, amount *big.Int) (common.Hash, error)
}

// Swapper drives the Nabla router.
type Swapper struct {
	client chainClient
	erc20  tokenClient
	abi    abi.ABI
	cfg    Config
	logger *zap.Logger
}

// NewSwapper parses the router ABI and binds the dependencies.
func NewSwapper(client *evm.Client, erc20 *evm.ERC20, cfg Config, logger *zap.Logger) (*Swapper, error) {
	parsed, err := abi.JSON(strings.NewReader(routerABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse router ABI: %w", err)
	}
	return &Swapper{client: client, erc20: erc20, abi: parsed, cfg: cfg, logger: logger}, nil
}

// Quote returns the router's current output for amountIn along the path.
func (s *Swapper) Quote(ctx context.Context, amountIn *big.Int, path []common.Address) (*big.Int, error) {
	data, err := s.abi.Pack("getAmountOut", amountIn, path)
	if err != nil {
		return nil, fmt.Errorf("failed to pack getAmountOut: %w", err)
	}
	result, err := s.client.Call(ctx, s.cfg.Router, data)
	if err != nil {
		return nil, ramperr.Transient(ramperr.NetworkError, "quote call failed", err)
	}

	out, err := s.abi.Unpack("getAmountOut", result)
	if err != nil || len(out) == 0 {
		return nil, ramperr.Transient(ramperr.NetworkError, "failed to unpack quote result", err)
	}
	amountOut, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected quote result type %T", out[0])
	}
	return amountOut, nil
}

// MinOut applies the slippage tolerance to a quoted output, rounding down.
func MinOut(quoted *big.Int, slippageBps uint32) *big.Int {
	keep := big.NewInt(int64(bpsDenominator - int(slippageBps)))
	out := new(big.Int).Mul(quoted, keep)
	return out.Div(out, big.NewInt(bpsDenominator))
}

// EnsureApproval grants the router exactly the allowance it is missing. A
// confirmed prior approval or a sufficient standing allowance is a no-op;
// the returned hash is "" when nothing was submitted. record checkpoints the
// hash before the confirmation wait.
func (s *Swapper) EnsureApproval(ctx context.Context, token common.Address, amountIn *big.Int, priorHash string, record func(string) error) (string, error) {
	if priorHash != "" {
		confirmed, err := s.confirmed(ctx, priorHash)
		if err != nil {
			return "", err
		}
		if confirmed {
			s.logger.Info("Prior router approval already mined", zap.String("tx_hash", priorHash))
			return priorHash, nil
		}
	}

	allowance, err := s.erc20.Allowance(ctx, token, s.client.OperatorAddress(), s.cfg.Router)
	if err != nil {
		return "", ramperr.Transient(ramperr.NetworkError, "failed to read router allowance", err)
	}
	if allowance.Cmp(amountIn) >= 0 {
		return "", nil
	}

	deficit := new(big.Int).Sub(amountIn, allowance)
	hash, err := s.erc20.Approve(ctx, token, s.cfg.Router, deficit)
	if err != nil {
		return "", ramperr.Transient(ramperr.TxSubmitFailed, "router approval failed", err)
	}
	if record != nil {
		if err := record(hash.Hex()); err != nil {
			return hash.Hex(), err
		}
	}
	if _, err := s.client.WaitForTransaction(ctx, hash, s.cfg.WaitTimeout); err != nil {
		return hash.Hex(), ramperr.Transient(ramperr.TxSubmitFailed, "router approval did not confirm", err)
	}
	return hash.Hex(), nil
}

// SwapParams describes one exact-in swap.
type SwapParams struct {
	TokenIn   common.Address
	TokenOut  common.Address
	AmountIn  *big.Int
	MinOut    *big.Int
	Recipient common.Address
}

// Swap submits swapExactTokensForTokens. A confirmed priorHash short-circuits
// the submission; swapping twice would double-spend the bridged funds.
// record checkpoints the hash before the confirmation wait.
func (s *Swapper) Swap(ctx context.Context, params SwapParams, priorHash string, record func(string) error) (string, error) {
	if priorHash != "" {
		confirmed, err := s.confirmed(ctx, priorHash)
		if err != nil {
			return "", err
		}
		if confirmed {
			s.logger.Info("Prior swap already mined", zap.String("tx_hash", priorHash))
			return priorHash, nil
		}
	}

	deadline := big.NewInt(time.Now().Add(s.cfg.Deadline).Unix())
	path := []common.Address{params.TokenIn, params.TokenOut}

	data, err := s.abi.Pack("swapExactTokensForTokens",
		params.AmountIn, params.MinOut, path, params.Recipient, deadline)
	if err != nil {
		return "", fmt.Errorf("failed to pack swap call: %w", err)
	}

	hash, err := s.client.SubmitTx(ctx, s.cfg.Router, data, big.NewInt(0), 0, s.cfg.GasMultiplierPct)
	if err != nil {
		return "", ramperr.Transient(ramperr.TxSubmitFailed, "swap submission failed", err)
	}
	if record != nil {
		if err := record(hash.Hex()); err != nil {
			return hash.Hex(), err
		}
	}
	if _, err := s.client.WaitForTransaction(ctx, hash, s.cfg.WaitTimeout); err != nil {
		return hash.Hex(), ramperr.Transient(ramperr.TxSubmitFailed, "swap did not confirm", err)
	}

	s.logger.Info("Swap confirmed",
		zap.String("tx_hash", hash.Hex()),
		zap.String("amount_in", params.AmountIn.String()),
		zap.String("min_out", params.MinOut.String()))
	return hash.Hex(), nil
}

func (s *Swapper) confirmed(ctx context.Context, txHash string) (bool, error) {
	receipt, err := s.client.TransactionReceipt(ctx, common.HexToHash(txHash))
	if err != nil || receipt == nil {
		return false, nil
	}
	if receipt.Status == 0 {
		return false, ramperr.Fatal(ramperr.TxSubmitFailed,
			fmt.Sprintf("recorded transaction %s reverted on chain", txHash), nil)
	}
	return receipt.BlockNumber != nil, nil
}
