package bridge

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"

	"ramp/internal/blockchain/evm"
	"ramp/internal/ramperr"
)

// Config pins the contracts and behavior of the bridge on one source chain.
type Config struct {
	TokenAddress     common.Address // input token ERC20
	RouterSpender    common.Address // contract granted the approval
	GasMultiplierPct int            // applied to the route's gas estimate
	WaitTimeout      time.Duration  // per-transaction receipt wait
	StatusInterval   time.Duration  // cross-chain status poll interval
	StatusTimeout    time.Duration  // cross-chain completion bound
}

// Bridge executes the approve/swap pair on the source chain and tracks the
// transfer to the destination.
type Bridge struct {
	client  *evm.Client
	erc20   *evm.ERC20
	routing *RoutingClient
	cfg     Config
	logger  *zap.Logger
}

// New wires a Bridge from its dependencies.
func New(client *evm.Client, erc20 *evm.ERC20, routing *RoutingClient, cfg Config, logger *zap.Logger) *Bridge {
	return &Bridge{client: client, erc20: erc20, routing: routing, cfg: cfg, logger: logger}
}

// FetchRoute plans the transfer.
func (b *Bridge) FetchRoute(ctx context.Context, params RouteParams) (Route, error) {
	return b.routing.FetchRoute(ctx, params)
}

// Approve grants the router spender an allowance for amount. priorHash is
// the hash recorded by an earlier attempt; a confirmed prior approval or an
// already-sufficient allowance makes this a no-op. record is invoked with
// the hash as soon as the transaction is submitted, before the confirmation
// wait, so a crash mid-wait still leaves the hash checkpointed. The returned
// hash is "" when no transaction was needed.
func (b *Bridge) Approve(ctx context.Context, amount *big.Int, priorHash string, record func(string) error) (string, error) {
	if priorHash != "" {
		confirmed, err := b.confirmed(ctx, priorHash)
		if err != nil {
			return "", err
		}
		if confirmed {
			b.logger.Info("Prior approval already mined", zap.String("tx_hash", priorHash))
			return priorHash, nil
		}
		// The recorded hash never made it on chain; fall through and let the
		// allowance check decide whether a fresh approval is needed.
	}

	allowance, err := b.erc20.Allowance(ctx, b.cfg.TokenAddress, b.client.OperatorAddress(), b.cfg.RouterSpender)
	if err != nil {
		return "", ramperr.Transient(ramperr.NetworkError, "failed to read allowance", err)
	}
	if allowance.Cmp(amount) >= 0 {
		b.logger.Info("Allowance already sufficient, skipping approval",
			zap.String("allowance", allowance.String()),
			zap.String("required", amount.String()))
		return "", nil
	}

	hash, err := b.erc20.Approve(ctx, b.cfg.TokenAddress, b.cfg.RouterSpender, amount)
	if err != nil {
		return "", ramperr.Transient(ramperr.TxSubmitFailed, "approval submission failed", err)
	}
	if record != nil {
		if err := record(hash.Hex()); err != nil {
			return hash.Hex(), err
		}
	}
	if _, err := b.client.WaitForTransaction(ctx, hash, b.cfg.WaitTimeout); err != nil {
		return hash.Hex(), ramperr.Transient(ramperr.TxSubmitFailed, "approval did not confirm", err)
	}
	return hash.Hex(), nil
}

// ExecuteRoute submits the routed swap transaction. A confirmed priorHash is
// returned as-is without resubmission; the swap moves user funds and must
// never run twice. record checkpoints the hash before the confirmation wait.
func (b *Bridge) ExecuteRoute(ctx context.Context, route Route, priorHash string, record func(string) error) (string, error) {
	if priorHash != "" {
		confirmed, err := b.confirmed(ctx, priorHash)
		if err != nil {
			return "", err
		}
		if confirmed {
			b.logger.Info("Prior bridge swap already mined", zap.String("tx_hash", priorHash))
			return priorHash, nil
		}
	}

	target := common.HexToAddress(route.Target)
	data, err := hexutil.Decode(ensureHexPrefix(route.Data))
	if err != nil {
		return "", ramperr.Fatal(ramperr.RouteUnavailable, "route calldata is not valid hex", err)
	}

	value := big.NewInt(0)
	if route.Value != "" {
		parsed, ok := new(big.Int).SetString(route.Value, 10)
		if !ok {
			return "", ramperr.Fatal(ramperr.RouteUnavailable,
				fmt.Sprintf("route value %q is not a decimal integer", route.Value), nil)
		}
		value = parsed
	}

	var gasLimit uint64
	if route.GasLimit != "" {
		parsed, ok := new(big.Int).SetString(route.GasLimit, 10)
		if !ok || !parsed.IsUint64() {
			return "", ramperr.Fatal(ramperr.RouteUnavailable,
				fmt.Sprintf("route gas limit %q is not usable", route.GasLimit), nil)
		}
		gasLimit = parsed.Uint64()
	}

	hash, err := b.client.SubmitTx(ctx, target, data, value, gasLimit, b.cfg.GasMultiplierPct)
	if err != nil {
		return "", ramperr.Transient(ramperr.TxSubmitFailed, "bridge swap submission failed", err)
	}
	if record != nil {
		if err := record(hash.Hex()); err != nil {
			return hash.Hex(), err
		}
	}
	if _, err := b.client.WaitForTransaction(ctx, hash, b.cfg.WaitTimeout); err != nil {
		return hash.Hex(), ramperr.Transient(ramperr.TxSubmitFailed, "bridge swap did not confirm", err)
	}
	return hash.Hex(), nil
}

// AwaitCompletion polls the routing service until the transfer lands on the
// destination chain.
func (b *Bridge) AwaitCompletion(ctx context.Context, txHash, requestID string) error {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.StatusTimeout)
	defer cancel()

	ticker := time.NewTicker(b.cfg.StatusInterval)
	defer ticker.Stop()

	for {
		status, err := b.routing.TransferStatus(ctx, txHash, requestID)
		if err == nil {
			switch status {
			case StatusSuccess, StatusPartialOK:
				b.logger.Info("Bridge transfer completed",
					zap.String("tx_hash", txHash),
					zap.String("status", status))
				return nil
			case StatusRefunded:
				return ramperr.Fatal(ramperr.TxSubmitFailed,
					"bridge refunded the transfer instead of delivering it", nil)
			case StatusNeedsGas:
				return ramperr.Fatal(ramperr.TxSubmitFailed,
					"bridge transfer is stuck waiting for destination gas", nil)
			}
		}

		select {
		case <-ctx.Done():
			return ramperr.Timeout(ramperr.BalanceTimeout,
				"bridge transfer did not complete within the deadline", ctx.Err())
		case <-ticker.C:
		}
	}
}

// confirmed reports whether a transaction hash is mined with success status.
// An unknown hash reads as unconfirmed; a mined-but-reverted transaction is
// surfaced so the phase fails instead of silently resubmitting.
func (b *Bridge) confirmed(ctx context.Context, txHash string) (bool, error) {
	receipt, err := b.client.TransactionReceipt(ctx, common.HexToHash(txHash))
	if err != nil || receipt == nil {
		return false, nil
	}
	if receipt.Status == 0 {
		return false, ramperr.Fatal(ramperr.TxSubmitFailed,
			fmt.Sprintf("recorded transaction %s reverted on chain", txHash), nil)
	}
	return receipt.BlockNumber != nil, nil
}

func ensureHexPrefix(s string) string {
	if strings.HasPrefix(s, "0x") {
		return s
	}
	return "0x" + s
}
