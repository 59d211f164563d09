// Package saga drives a ramp through its phase traversal. The coordinator
// executes exactly one phase of external work per Advance call, persists the
// state after every transition, and classifies errors into retry, conflict
// resolution, or terminal failure.
package saga

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/big"
	"strconv"
	"time"

	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"ramp/internal/anchor"
	"ramp/internal/backend"
	"ramp/internal/blockchain/stellar"
	"ramp/internal/blockchain/substrate"
	"ramp/internal/bridge"
	"ramp/internal/kmutex"
	"ramp/internal/models"
	"ramp/internal/nabla"
	"ramp/internal/ramperr"
	"ramp/internal/vault"
)

// Store persists checkpoints.
type Store interface {
	SaveRampState(ctx context.Context, state *models.RampState) error
	LoadRampState(ctx context.Context, id string) (*models.RampState, error)
	DeleteRampState(ctx context.Context, id string) error
}

// AccountManager handles the ephemeral account lifecycle.
type AccountManager interface {
	Generate() (models.EphemeralKeys, error)
	Fund(ctx context.Context, rampID string, keys models.EphemeralKeys) error
	Sweep(ctx context.Context, keys models.EphemeralKeys) error
}

// Authenticator runs SEP-10.
type Authenticator interface {
	Authenticate(ctx context.Context, params anchor.AuthParams) (string, error)
}

// InteractiveFlow runs SEP-24.
type InteractiveFlow interface {
	InitiateWithdraw(ctx context.Context, params anchor.WithdrawParams) (anchor.WithdrawSession, error)
	InitiateDeposit(ctx context.Context, params anchor.DepositParams) (anchor.WithdrawSession, error)
	AwaitSettlementParams(ctx context.Context, homeDomain, token, transactionID string, expect anchor.ExpectedSettlement, timeout time.Duration) (anchor.SettlementParams, error)
}

// Bridger runs the cross-chain bridge leg.
type Bridger interface {
	FetchRoute(ctx context.Context, params bridge.RouteParams) (bridge.Route, error)
	Approve(ctx context.Context, amount *big.Int, priorHash string, record func(string) error) (string, error)
	ExecuteRoute(ctx context.Context, route bridge.Route, priorHash string, record func(string) error) (string, error)
	AwaitCompletion(ctx context.Context, txHash, requestID string) error
}

// Swapper runs the AMM leg.
type Swapper interface {
	Quote(ctx context.Context, amountIn *big.Int, path []common.Address) (*big.Int, error)
	EnsureApproval(ctx context.Context, token common.Address, amountIn *big.Int, priorHash string, record func(string) error) (string, error)
	Swap(ctx context.Context, params nabla.SwapParams, priorHash string, record func(string) error) (string, error)
}

// RedeemService runs the vault leg.
type RedeemService interface {
	Request(ctx context.Context, params vault.RequestParams) (string, error)
	AwaitExecution(ctx context.Context, redeemID string) error
}

// Subsidizer requests backend top-ups.
type Subsidizer interface {
	Subsidize(ctx context.Context, req backend.SubsidyRequest) error
}

// Settler submits the anchor settlement payment.
type Settler interface {
	Pay(ctx context.Context, secret string, req stellar.PaymentRequest) (string, error)
}

// StellarReader reads ephemeral account balances on Stellar.
type StellarReader interface {
	AssetBalanceRaw(ctx context.Context, address string, asset stellar.Asset) (int64, error)
}

// ParachainReader reads ephemeral token balances on the parachain.
type ParachainReader interface {
	TokenBalanceBySeed(ctx context.Context, seed string, currency substrate.CurrencyID) (math.Int, error)
}

// Notifier reports terminal outcomes to the backend.
type Notifier interface {
	MarkCompleted(ctx context.Context, rampID, phase string) error
}

// Deps bundles everything the coordinator calls out to.
type Deps struct {
	Store       Store
	Accounts    AccountManager
	Auth        Authenticator
	Interactive InteractiveFlow
	Bridge      Bridger
	Swapper     Swapper
	Redeemer    RedeemService
	Subsidy     Subsidizer
	Settler     Settler
	Stellar     StellarReader
	Parachain   ParachainReader
	Notify      Notifier
}

// Config pins the cross-component constants of the traversal.
type Config struct {
	AnchorAssetCode string
	AnchorUsesMemo  bool
	OmnibusAccount  string // shared account for memo-based SEP-10

	FromChain string
	ToChain   string
	FromToken string
	ToToken   string
	// ParachainReceiver is the EVM address on the parachain that receives
	// bridged funds and holds them through the swap.
	ParachainReceiver string

	SwapTokenIn     common.Address
	SwapTokenOut    common.Address
	SettlementAsset stellar.Asset

	// SwapInCurrency and SwapOutCurrency are the Tokens-pallet identities of
	// the swap legs, read when sizing subsidies.
	SwapInCurrency  substrate.CurrencyID
	SwapOutCurrency substrate.CurrencyID

	Sep24Timeout   time.Duration
	PollInterval   time.Duration
	RedeemTimeout  time.Duration // bound on the no-redeem-id fallback wait
	FundingTimeout time.Duration // bound on subsidy balance convergence
}

// Coordinator advances sagas one phase at a time.
type Coordinator struct {
	deps   Deps
	cfg    Config
	locks  *kmutex.KeyedMutex
	logger *zap.Logger
}

// NewCoordinator builds a coordinator.
func NewCoordinator(deps Deps, cfg Config, logger *zap.Logger) *Coordinator {
	return &Coordinator{deps: deps, cfg: cfg, locks: kmutex.New(), logger: logger}
}

// Advance loads the saga, executes its current phase, and persists the
// transition. Exactly one phase of external work happens per call. A second
// Advance for the same ramp while one is running is rejected, never queued.
func (c *Coordinator) Advance(ctx context.Context, rampID string) error {
	if !c.locks.TryLock(rampID) {
		return ramperr.Conflict(ramperr.PhaseLocked, "ramp is already being advanced", nil)
	}
	defer c.locks.Unlock(rampID)

	state, err := c.deps.Store.LoadRampState(ctx, rampID)
	if err != nil {
		return err
	}
	if state == nil {
		return fmt.Errorf("ramp %s not found", rampID)
	}
	if state.Phase.Terminal() {
		return nil
	}

	phase := state.Phase
	execErr := c.execute(ctx, state)
	if execErr != nil {
		return c.handleError(ctx, state, phase, execErr)
	}

	next, err := models.Next(state.Direction, state.Phase)
	if err != nil {
		return err
	}
	state.Phase = next
	state.Recovering = false

	if err := c.deps.Store.SaveRampState(ctx, state); err != nil {
		return err
	}
	c.logger.Info("Phase completed",
		zap.String("ramp_id", state.ID),
		zap.String("from", string(phase)),
		zap.String("to", string(next)))

	if next == models.PhaseSuccess {
		c.notifyTerminal(ctx, state.ID, models.PhaseSuccess)
		// The ramp is done; the checkpoint has served its purpose.
		return c.deps.Store.DeleteRampState(ctx, state.ID)
	}
	return nil
}

// notifyTerminal tells the backend a ramp finished. A failed callback is
// logged; it must not disturb an already-decided outcome.
func (c *Coordinator) notifyTerminal(ctx context.Context, rampID string, phase models.Phase) {
	if err := c.deps.Notify.MarkCompleted(ctx, rampID, string(phase)); err != nil {
		c.logger.Warn("Completion callback failed",
			zap.String("ramp_id", rampID),
			zap.String("phase", string(phase)),
			zap.Error(err))
	}
}

// handleError applies the error taxonomy. Transient and timeout errors leave
// the phase in place for a later retry, with the recovery flag set because
// the phase may have partially executed. Conflicts resolve by moving forward.
// Fatal errors end the saga.
func (c *Coordinator) handleError(ctx context.Context, state *models.RampState, phase models.Phase, execErr error) error {
	class := ramperr.ClassOf(execErr)

	switch class {
	case ramperr.ClassTransient, ramperr.ClassTimeout:
		state.Recovering = true
		if err := c.deps.Store.SaveRampState(ctx, state); err != nil {
			return err
		}
		c.logger.Warn("Phase will be retried",
			zap.String("ramp_id", state.ID),
			zap.String("phase", string(phase)),
			zap.String("class", string(class)),
			zap.Error(execErr))
		return execErr

	case ramperr.ClassConflict:
		// The work was already done by a lost earlier attempt. Skip ahead.
		next, err := models.Next(state.Direction, state.Phase)
		if err != nil {
			return err
		}
		state.Phase = next
		state.Recovering = true
		if err := c.deps.Store.SaveRampState(ctx, state); err != nil {
			return err
		}
		c.logger.Info("Phase resolved as already done",
			zap.String("ramp_id", state.ID),
			zap.String("phase", string(phase)),
			zap.Error(execErr))
		return nil

	default:
		state.Fail(execErr.Error(), string(class))
		if err := c.deps.Store.SaveRampState(ctx, state); err != nil {
			return err
		}
		c.logger.Error("Ramp failed",
			zap.String("ramp_id", state.ID),
			zap.String("phase", string(phase)),
			zap.Error(execErr))
		c.notifyTerminal(ctx, state.ID, models.PhaseFailed)
		return execErr
	}
}

func (c *Coordinator) execute(ctx context.Context, state *models.RampState) error {
	switch state.Phase {
	case models.PhaseInitial:
		return c.runInitial(state)
	case models.PhaseSep10:
		return c.runSep10(ctx, state)
	case models.PhaseSep24:
		return c.runSep24(ctx, state)
	case models.PhaseBridgeApprove:
		return c.runBridgeApprove(ctx, state)
	case models.PhaseBridgeSwap:
		return c.runBridgeSwap(ctx, state)
	case models.PhaseFundEphemeral:
		return c.deps.Accounts.Fund(ctx, state.ID, state.Keys)
	case models.PhaseSubsidizePreSwap:
		return c.runSubsidy(ctx, state, "preswap")
	case models.PhaseNablaApprove:
		return c.runNablaApprove(ctx, state)
	case models.PhaseNablaSwap:
		return c.runNablaSwap(ctx, state)
	case models.PhaseSubsidizePostSwap:
		return c.runSubsidy(ctx, state, "postswap")
	case models.PhaseRedeemRequest:
		return c.runRedeemRequest(ctx, state)
	case models.PhaseRedeemWait:
		return c.runRedeemWait(ctx, state)
	case models.PhaseSettle:
		return c.runSettle(ctx, state)
	case models.PhaseCleanup:
		return c.runCleanup(ctx, state)
	default:
		return ramperr.Fatal(ramperr.CheckpointCorrupt,
			fmt.Sprintf("phase %s has no handler", state.Phase), nil)
	}
}

func (c *Coordinator) runInitial(state *models.RampState) error {
	if state.Keys.StellarAddress != "" {
		return nil
	}
	keys, err := c.deps.Accounts.Generate()
	if err != nil {
		return err
	}
	state.Keys = keys
	return nil
}

func (c *Coordinator) runSep10(ctx context.Context, state *models.RampState) error {
	params := anchor.AuthParams{
		HomeDomain:   state.AnchorDomain,
		SignerSecret: state.Keys.StellarSecret,
	}
	if c.cfg.AnchorUsesMemo {
		params.AuthAccount = c.cfg.OmnibusAccount
		params.Memo = memoForRamp(state.ID)
	}

	token, err := c.deps.Auth.Authenticate(ctx, params)
	if err != nil {
		return err
	}
	state.Anchor.Token = token
	return nil
}

func (c *Coordinator) runSep24(ctx context.Context, state *models.RampState) error {
	account := state.Keys.StellarAddress
	var memo, memoType string
	if c.cfg.AnchorUsesMemo {
		account = c.cfg.OmnibusAccount
		memo = memoForRamp(state.ID)
		memoType = "id"
	}

	if state.Direction == models.DirectionOnramp {
		session, err := c.deps.Interactive.InitiateDeposit(ctx, anchor.DepositParams{
			HomeDomain:    state.AnchorDomain,
			Token:         state.Anchor.Token,
			AssetCode:     c.cfg.AnchorAssetCode,
			Account:       account,
			AmountDecimal: state.InputAmount.Decimal,
			Memo:          memo,
			MemoType:      memoType,
		})
		if err != nil {
			return err
		}
		state.Anchor.InteractiveID = session.ID
		state.Anchor.InteractiveURL = session.URL
		return nil
	}

	// The gross settlement is the swap output the quote guarantees after
	// slippage; the anchor must commit to exactly that.
	gross := nabla.MinOut(state.OutputAmount.Raw.BigInt(), state.SlippageBps)
	grossDecimal := models.FormatUnits(math.NewIntFromBigInt(gross), state.OutputAmount.Decimals)

	session := anchor.WithdrawSession{ID: state.Anchor.InteractiveID, URL: state.Anchor.InteractiveURL}
	if session.ID == "" {
		var err error
		session, err = c.deps.Interactive.InitiateWithdraw(ctx, anchor.WithdrawParams{
			HomeDomain:    state.AnchorDomain,
			Token:         state.Anchor.Token,
			AssetCode:     c.cfg.AnchorAssetCode,
			Account:       account,
			AmountDecimal: grossDecimal,
			Memo:          memo,
			MemoType:      memoType,
		})
		if err != nil {
			return err
		}
		state.Anchor.InteractiveID = session.ID
		state.Anchor.InteractiveURL = session.URL
	}

	settlement, err := c.deps.Interactive.AwaitSettlementParams(ctx,
		state.AnchorDomain, state.Anchor.Token, session.ID,
		anchor.ExpectedSettlement{
			GrossDecimal: grossDecimal,
			FeeDecimal:   models.FormatUnits(state.AnchorFeeRaw, state.OutputAmount.Decimals),
			Decimals:     state.OutputAmount.Decimals,
		}, c.cfg.Sep24Timeout)
	if err != nil {
		return err
	}

	state.Anchor.SettlementAmount = settlement.AmountIn
	state.Anchor.SettlementMemo = settlement.Memo
	state.Anchor.SettlementMemoTyp = settlement.MemoType
	state.Anchor.SettlementAccount = settlement.AnchorAccount
	return nil
}

func (c *Coordinator) runBridgeApprove(ctx context.Context, state *models.RampState) error {
	amount := c.bridgeInAmount(state)
	hash, err := c.deps.Bridge.Approve(ctx, amount,
		state.TxAt(models.SlotBridgeApprove), c.recorder(ctx, state, models.SlotBridgeApprove))
	if err != nil {
		return err
	}
	if hash != "" {
		return state.RecordTx(models.SlotBridgeApprove, hash)
	}
	return nil
}

func (c *Coordinator) runBridgeSwap(ctx context.Context, state *models.RampState) error {
	toAddress := c.cfg.ParachainReceiver
	if state.Direction == models.DirectionOnramp {
		toAddress = state.UserAddress
	}

	route, err := c.deps.Bridge.FetchRoute(ctx, bridge.RouteParams{
		FromChain:   c.fromChain(state),
		ToChain:     c.toChain(state),
		FromToken:   c.fromToken(state),
		ToToken:     c.toToken(state),
		FromAmount:  c.bridgeInAmount(state).String(),
		ToAddress:   toAddress,
		SlippageBps: state.SlippageBps,
	})
	if err != nil {
		return err
	}

	hash, err := c.deps.Bridge.ExecuteRoute(ctx, route,
		state.TxAt(models.SlotBridgeSwap), c.recorder(ctx, state, models.SlotBridgeSwap))
	if err != nil {
		return err
	}
	if err := state.RecordTx(models.SlotBridgeSwap, hash); err != nil {
		return err
	}

	if err := c.deps.Bridge.AwaitCompletion(ctx, hash, route.RequestID); err != nil {
		return err
	}
	if state.Direction == models.DirectionOfframp && route.ToAmountMin != "" {
		state.BridgeOutRaw = route.ToAmountMin
	}
	return nil
}

// runSubsidy tops the ephemeral parachain account up to what the next leg
// consumes. Only the deficit is requested, and a re-run that finds the
// balance already in place sends nothing, so a crash between the backend
// call and the checkpoint cannot double-subsidize. After a request the
// balance is polled to the target before the phase completes.
func (c *Coordinator) runSubsidy(ctx context.Context, state *models.RampState, stage string) error {
	expected, currency, err := c.subsidyTarget(state, stage)
	if err != nil {
		return err
	}

	current, err := c.deps.Parachain.TokenBalanceBySeed(ctx, state.Keys.SubstrateSeed, currency)
	if err != nil {
		return err
	}
	required := expected.Sub(current)
	if !required.IsPositive() {
		c.logger.Info("Subsidy not needed",
			zap.String("ramp_id", state.ID),
			zap.String("stage", stage),
			zap.String("balance", current.String()))
		return nil
	}

	if err := c.deps.Subsidy.Subsidize(ctx, backend.SubsidyRequest{
		RampID:      state.ID,
		Stage:       stage,
		Address:     state.Keys.SubstrateAddress,
		TokenSymbol: c.subsidySymbol(state, stage),
		AmountRaw:   required.String(),
	}); err != nil {
		return err
	}
	return c.awaitParachainBalance(ctx, state.Keys.SubstrateSeed, currency, expected)
}

// subsidyTarget is the balance the stage must reach: the swap input before
// the swap, the amount the next leg consumes after it.
func (c *Coordinator) subsidyTarget(state *models.RampState, stage string) (math.Int, substrate.CurrencyID, error) {
	if stage == "preswap" {
		in, err := c.swapInAmount(state)
		if err != nil {
			return math.ZeroInt(), substrate.CurrencyID{}, err
		}
		return math.NewIntFromBigInt(in), c.cfg.SwapInCurrency, nil
	}

	if state.Direction == models.DirectionOnramp {
		out, ok := new(big.Int).SetString(state.BridgeOutRaw, 10)
		if !ok {
			return math.ZeroInt(), substrate.CurrencyID{}, ramperr.Fatal(ramperr.CheckpointCorrupt,
				fmt.Sprintf("recorded swap output %q is not an integer", state.BridgeOutRaw), nil)
		}
		return math.NewIntFromBigInt(out), c.cfg.SwapOutCurrency, nil
	}

	amount, err := c.settlementRaw(state)
	if err != nil {
		return math.ZeroInt(), substrate.CurrencyID{}, err
	}
	return amount, c.cfg.SwapOutCurrency, nil
}

func (c *Coordinator) subsidySymbol(state *models.RampState, stage string) string {
	if stage == "preswap" {
		return state.InputAmount.Symbol
	}
	return state.OutputAmount.Symbol
}

func (c *Coordinator) awaitParachainBalance(ctx context.Context, seed string, currency substrate.CurrencyID, required math.Int) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.FundingTimeout)
	defer cancel()

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		balance, err := c.deps.Parachain.TokenBalanceBySeed(ctx, seed, currency)
		if err == nil && balance.GTE(required) {
			return nil
		}

		select {
		case <-ctx.Done():
			return ramperr.Timeout(ramperr.BalanceTimeout,
				"subsidy never reached the ephemeral account", ctx.Err())
		case <-ticker.C:
		}
	}
}

func (c *Coordinator) runNablaApprove(ctx context.Context, state *models.RampState) error {
	amountIn, err := c.swapInAmount(state)
	if err != nil {
		return err
	}
	hash, err := c.deps.Swapper.EnsureApproval(ctx, c.cfg.SwapTokenIn, amountIn,
		state.TxAt(models.SlotNablaApprove), c.recorder(ctx, state, models.SlotNablaApprove))
	if err != nil {
		return err
	}
	if hash != "" {
		return state.RecordTx(models.SlotNablaApprove, hash)
	}
	return nil
}

func (c *Coordinator) runNablaSwap(ctx context.Context, state *models.RampState) error {
	amountIn, err := c.swapInAmount(state)
	if err != nil {
		return err
	}

	quoted, err := c.deps.Swapper.Quote(ctx, amountIn,
		[]common.Address{c.cfg.SwapTokenIn, c.cfg.SwapTokenOut})
	if err != nil {
		return err
	}
	minOut := nabla.MinOut(quoted, state.SlippageBps)

	hash, err := c.deps.Swapper.Swap(ctx, nabla.SwapParams{
		TokenIn:   c.cfg.SwapTokenIn,
		TokenOut:  c.cfg.SwapTokenOut,
		AmountIn:  amountIn,
		MinOut:    minOut,
		Recipient: common.HexToAddress(c.cfg.ParachainReceiver),
	}, state.TxAt(models.SlotNablaSwap), c.recorder(ctx, state, models.SlotNablaSwap))
	if err != nil {
		return err
	}
	if err := state.RecordTx(models.SlotNablaSwap, hash); err != nil {
		return err
	}

	if state.Direction == models.DirectionOnramp {
		// The swap output is what the bridge carries back to the user.
		state.BridgeOutRaw = minOut.String()
	}
	return nil
}

func (c *Coordinator) runRedeemRequest(ctx context.Context, state *models.RampState) error {
	amount, err := c.settlementRaw(state)
	if err != nil {
		return err
	}

	redeemID, err := c.deps.Redeemer.Request(ctx, vault.RequestParams{
		Seed:           state.Keys.SubstrateSeed,
		Amount:         amount,
		StellarAddress: state.Keys.StellarAddress,
		PriorRedeemID:  state.TxAt(models.SlotRedeemRequest),
		Recovering:     state.Recovering,
	})
	if err != nil {
		return err
	}
	return state.RecordTx(models.SlotRedeemRequest, redeemID)
}

// runRedeemWait normally waits on the recorded redeem id. When conflict
// resolution skipped the request phase the id is unknown; in that case the
// only observable signal is the wrapped asset arriving on the ephemeral
// Stellar account, so the wait degrades to a balance poll.
func (c *Coordinator) runRedeemWait(ctx context.Context, state *models.RampState) error {
	if redeemID := state.TxAt(models.SlotRedeemRequest); redeemID != "" {
		return c.deps.Redeemer.AwaitExecution(ctx, redeemID)
	}

	required, err := c.settlementRaw(state)
	if err != nil {
		return err
	}
	return c.awaitStellarBalance(ctx, state.Keys.StellarAddress, required)
}

func (c *Coordinator) runSettle(ctx context.Context, state *models.RampState) error {
	if state.TxAt(models.SlotSettle) != "" {
		return nil
	}

	hash, err := c.deps.Settler.Pay(ctx, state.Keys.StellarSecret, stellar.PaymentRequest{
		Destination: state.Anchor.SettlementAccount,
		Asset:       c.cfg.SettlementAsset,
		Amount:      state.Anchor.SettlementAmount,
		MemoType:    state.Anchor.SettlementMemoTyp,
		MemoValue:   state.Anchor.SettlementMemo,
	})
	if err != nil {
		return err
	}
	return state.RecordTx(models.SlotSettle, hash)
}

// runCleanup sweeps the ephemeral accounts. Sweep problems are logged, not
// failed: the saga's value already reached its destination and leftover dust
// is recoverable by hand.
func (c *Coordinator) runCleanup(ctx context.Context, state *models.RampState) error {
	if err := c.deps.Accounts.Sweep(ctx, state.Keys); err != nil {
		c.logger.Warn("Sweep incomplete",
			zap.String("ramp_id", state.ID),
			zap.Error(err))
	}
	return nil
}

// recorder persists a freshly submitted hash before its confirmation wait
// begins, so the checkpoint always knows about the submission.
func (c *Coordinator) recorder(ctx context.Context, state *models.RampState, slot models.TxSlot) func(string) error {
	return func(hash string) error {
		if err := state.RecordTx(slot, hash); err != nil {
			return err
		}
		return c.deps.Store.SaveRampState(ctx, state)
	}
}

func (c *Coordinator) awaitStellarBalance(ctx context.Context, address string, required math.Int) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RedeemTimeout)
	defer cancel()

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		balance, err := c.deps.Stellar.AssetBalanceRaw(ctx, address, c.cfg.SettlementAsset)
		if err == nil && math.NewInt(balance).GTE(required) {
			return nil
		}

		select {
		case <-ctx.Done():
			return ramperr.Timeout(ramperr.RedeemTimeout,
				"settlement asset never arrived on the ephemeral account", ctx.Err())
		case <-ticker.C:
		}
	}
}

// bridgeInAmount is what enters the bridge: the user's input for off-ramps,
// the swap output for on-ramps.
func (c *Coordinator) bridgeInAmount(state *models.RampState) *big.Int {
	if state.Direction == models.DirectionOnramp && state.BridgeOutRaw != "" {
		if v, ok := new(big.Int).SetString(state.BridgeOutRaw, 10); ok {
			return v
		}
	}
	return state.InputAmount.Raw.BigInt()
}

// swapInAmount is what enters the AMM: the bridged amount for off-ramps, the
// anchor deposit for on-ramps.
func (c *Coordinator) swapInAmount(state *models.RampState) (*big.Int, error) {
	if state.Direction == models.DirectionOfframp && state.BridgeOutRaw != "" {
		v, ok := new(big.Int).SetString(state.BridgeOutRaw, 10)
		if !ok {
			return nil, ramperr.Fatal(ramperr.CheckpointCorrupt,
				fmt.Sprintf("recorded bridge output %q is not an integer", state.BridgeOutRaw), nil)
		}
		return v, nil
	}
	return state.InputAmount.Raw.BigInt(), nil
}

// settlementRaw is the amount owed to the anchor in base units. Before the
// anchor publishes its value the quote's guaranteed minimum stands in.
func (c *Coordinator) settlementRaw(state *models.RampState) (math.Int, error) {
	if state.Anchor.SettlementAmount != "" {
		return models.ParseUnits(state.Anchor.SettlementAmount, state.OutputAmount.Decimals)
	}
	minOut := nabla.MinOut(state.OutputAmount.Raw.BigInt(), state.SlippageBps)
	return math.NewIntFromBigInt(minOut), nil
}

// fromChain and friends flip the route endpoints per direction.
func (c *Coordinator) fromChain(state *models.RampState) string {
	if state.Direction == models.DirectionOnramp {
		return c.cfg.ToChain
	}
	return c.cfg.FromChain
}

func (c *Coordinator) toChain(state *models.RampState) string {
	if state.Direction == models.DirectionOnramp {
		return c.cfg.FromChain
	}
	return c.cfg.ToChain
}

func (c *Coordinator) fromToken(state *models.RampState) string {
	if state.Direction == models.DirectionOnramp {
		return c.cfg.ToToken
	}
	return c.cfg.FromToken
}

func (c *Coordinator) toToken(state *models.RampState) string {
	if state.Direction == models.DirectionOnramp {
		return c.cfg.FromToken
	}
	return c.cfg.ToToken
}

// memoForRamp derives the stable integer memo that identifies a ramp under
// the shared omnibus account.
func memoForRamp(rampID string) string {
	h := fnv.New64a()
	h.Write([]byte(rampID))
	return strconv.FormatUint(h.Sum64()>>1, 10)
}
