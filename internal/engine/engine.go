// Package engine is the serialized core of the synth system. Every
// mutating operation takes one mutex, reads staleness-checked oracle
// data, mutates the debt pool and the double-entry ledger in a single
// step, and emits an envelope plus journal batch to the persistence and
// publish channels before returning.
package engine

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"SynthPool/internal/breaker"
	"SynthPool/internal/event"
	"SynthPool/internal/fees"
	"SynthPool/internal/ledger"
	fpmath "SynthPool/internal/math"
	"SynthPool/internal/observability"
	"SynthPool/internal/oracle"
	"SynthPool/internal/pool"
	"SynthPool/internal/queue"
)

// CollateralProvider supplies account collateral values from the external
// collateral/escrow collaborator, in base-asset amount units.
type CollateralProvider interface {
	CollateralValue(account ledger.Address) (int64, error)
}

// Output is what the engine emits per applied operation.
type Output struct {
	Envelope *event.Envelope
	Batch    *ledger.Batch
	Event    event.Event
}

// Engine is the single-writer synth core.
type Engine struct {
	mu sync.Mutex

	sequence int64
	prevHash [32]byte

	assets    *ledger.AssetRegistry
	tracker   *ledger.BalanceTracker
	validator *ledger.InvariantValidator
	pool      *pool.DebtPool
	queue     *queue.SettlementQueue
	breaker   *breaker.CircuitBreaker
	feeModel  *fees.Model

	rates      oracle.RateProvider
	debtRatio  oracle.DebtRatioProvider
	collateral CollateralProvider

	settings  Settings
	lastIssue map[ledger.Address]int64 // epoch microseconds

	// atomic volume bucket, keyed by now/BlockInterval
	atomicBlock  int64
	atomicVolume int64

	now func() time.Time

	log     zerolog.Logger
	metrics *observability.Metrics

	persistChan chan<- Output
	publishChan chan<- Output
}

type Deps struct {
	Assets     *ledger.AssetRegistry
	Rates      oracle.RateProvider
	DebtRatio  oracle.DebtRatioProvider
	Collateral CollateralProvider
	Migrators  []ledger.Address
	Settings   Settings
	Now        func() time.Time
	Metrics    *observability.Metrics
	Logger     zerolog.Logger

	PersistChan chan<- Output
	PublishChan chan<- Output
}

func New(deps Deps) (*Engine, error) {
	if err := deps.Settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	if deps.Assets == nil {
		deps.Assets = ledger.NewAssetRegistry()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	tracker := ledger.NewBalanceTracker()
	brk := breaker.New(deps.Settings.PriceDeviationFactor)

	return &Engine{
		assets:      deps.Assets,
		tracker:     tracker,
		validator:   ledger.NewInvariantValidator(tracker),
		pool:        pool.NewDebtPool(deps.Migrators),
		queue:       queue.NewSettlementQueue(deps.Settings.MaxQueueEntries),
		breaker:     brk,
		feeModel:    fees.NewModel(deps.Rates),
		rates:       deps.Rates,
		debtRatio:   deps.DebtRatio,
		collateral:  deps.Collateral,
		settings:    deps.Settings,
		lastIssue:   make(map[ledger.Address]int64),
		now:         deps.Now,
		log:         deps.Logger,
		metrics:     deps.Metrics,
		persistChan: deps.PersistChan,
		publishChan: deps.PublishChan,
	}, nil
}

// ============================================================================
// Issuance
// ============================================================================

type IssueResult struct {
	SharesMinted int64
	DebtRatio    int64
}

// Issue mints amount of the base synth to account and increases its debt
// by the same value: sharesToMint = amount / debtRatio.
func (e *Engine) Issue(account ledger.Address, amount int64) (IssueResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	if amount <= 0 {
		return IssueResult{}, e.reject("issue", ErrZeroAmount)
	}
	ratio, err := e.debtRatioStrict()
	if err != nil {
		return IssueResult{}, e.reject("issue", err)
	}

	shares := pool.SharesForAmount(amount, ratio)
	if shares <= 0 {
		return IssueResult{}, e.reject("issue", fmt.Errorf("%w: %d mints no shares at ratio %d", ErrZeroAmount, amount, ratio))
	}
	if err := e.pool.MintShares(account, shares); err != nil {
		return IssueResult{}, e.reject("issue", err)
	}

	ts := e.now()
	opID := uuid.New()
	batch := e.newBatch(opID, ts)
	e.addJournal(batch, ledger.Journal{
		DebitAccount:  ledger.NewUserSynthKey(account, ledger.BaseCurrency),
		CreditAccount: ledger.IssuanceKey(ledger.BaseCurrency),
		Currency:      ledger.BaseCurrency,
		Amount:        amount,
		JournalType:   ledger.JournalTypeIssue,
	})
	e.applyBatch(batch)

	e.lastIssue[account] = ts.UnixMicro()

	e.emit(&event.Issued{
		OperationID:  opID,
		Account:      account,
		Amount:       amount,
		SharesMinted: shares,
		DebtRatio:    ratio,
		Timestamp:    ts,
	}, batch)

	e.applied("issue", start)
	return IssueResult{SharesMinted: shares, DebtRatio: ratio}, nil
}

type BurnResult struct {
	AmountBurned int64
	SharesBurned int64
	DebtRatio    int64
}

// Burn reduces the account's debt by min(amount, debtBalance), burning
// the matching base synths. Fails when the minimum stake time since the
// last issue has not elapsed.
func (e *Engine) Burn(account ledger.Address, amount int64) (BurnResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if amount <= 0 {
		return BurnResult{}, e.reject("burn", ErrZeroAmount)
	}
	if err := e.checkStakeTime(account); err != nil {
		return BurnResult{}, e.reject("burn", err)
	}
	res, err := e.burnLocked(account, amount, false)
	if err != nil {
		return BurnResult{}, e.reject("burn", err)
	}
	return res, nil
}

// BurnToTarget burns exactly enough debt to restore the target
// collateralisation, debt = collateralValue * issuanceRatio. Exempt from
// the minimum stake time gate: restoring the target ratio is always
// allowed. A no-op when the account is already at or below target.
func (e *Engine) BurnToTarget(account ledger.Address) (BurnResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ratio, err := e.debtRatioStrict()
	if err != nil {
		return BurnResult{}, e.reject("burn_to_target", err)
	}
	collValue, err := e.collateralValue(account)
	if err != nil {
		return BurnResult{}, e.reject("burn_to_target", err)
	}

	target := fpmath.MulRate(collValue, e.settings.IssuanceRatio)
	debt := e.pool.DebtBalanceOf(account, ratio)
	if debt <= target {
		return BurnResult{DebtRatio: ratio}, nil
	}

	res, err := e.burnLocked(account, debt-target, true)
	if err != nil {
		return BurnResult{}, e.reject("burn_to_target", err)
	}
	return res, nil
}

// burnLocked is the shared burn path. Callers hold the lock and have
// validated amount and stake time.
func (e *Engine) burnLocked(account ledger.Address, amount int64, toTarget bool) (BurnResult, error) {
	start := time.Now()
	ratio, err := e.debtRatioStrict()
	if err != nil {
		return BurnResult{}, err
	}

	debt := e.pool.DebtBalanceOf(account, ratio)
	if debt <= 0 {
		return BurnResult{}, fmt.Errorf("%w: %s", ErrNoDebtToBurn, account)
	}

	// Cap at the debt balance and at the synths the account actually
	// holds; the ledger cannot burn synths that were exchanged away.
	burnAmount := fpmath.MinInt64(amount, debt)
	burnAmount = fpmath.MinInt64(burnAmount, e.tracker.SynthBalance(account, ledger.BaseCurrency))
	if burnAmount <= 0 {
		return BurnResult{}, fmt.Errorf("%w: no base synths held by %s", ErrNoDebtToBurn, account)
	}

	var shares int64
	if burnAmount == debt {
		// Full burn clears all shares, leaving no rounding dust.
		shares = e.pool.SharesOf(account)
	} else {
		shares = pool.SharesForAmount(burnAmount, ratio)
		shares = fpmath.MinInt64(shares, e.pool.SharesOf(account))
	}
	if shares <= 0 {
		return BurnResult{}, fmt.Errorf("%w: %d burns no shares at ratio %d", ErrNoDebtToBurn, burnAmount, ratio)
	}
	if err := e.pool.BurnShares(account, shares); err != nil {
		return BurnResult{}, err
	}

	ts := e.now()
	opID := uuid.New()
	batch := e.newBatch(opID, ts)
	e.addJournal(batch, ledger.Journal{
		DebitAccount:  ledger.IssuanceKey(ledger.BaseCurrency),
		CreditAccount: ledger.NewUserSynthKey(account, ledger.BaseCurrency),
		Currency:      ledger.BaseCurrency,
		Amount:        burnAmount,
		JournalType:   ledger.JournalTypeBurn,
	})
	e.applyBatch(batch)

	e.emit(&event.Burned{
		OperationID:     opID,
		Account:         account,
		AmountRequested: amount,
		AmountBurned:    burnAmount,
		SharesBurned:    shares,
		DebtRatio:       ratio,
		ToTarget:        toTarget,
		Timestamp:       ts,
	}, batch)

	op := "burn"
	if toTarget {
		op = "burn_to_target"
	}
	e.applied(op, start)
	return BurnResult{AmountBurned: burnAmount, SharesBurned: shares, DebtRatio: ratio}, nil
}

// ============================================================================
// Queries
// ============================================================================

// DebtBalanceOf values the account's shares at the current debt ratio.
func (e *Engine) DebtBalanceOf(account ledger.Address) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ratio, err := e.debtRatioStrict()
	if err != nil {
		return 0, err
	}
	return e.pool.DebtBalanceOf(account, ratio), nil
}

// MaxIssuable returns how much more debt the account can issue against
// its collateral, floored at zero.
func (e *Engine) MaxIssuable(account ledger.Address) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ratio, err := e.debtRatioStrict()
	if err != nil {
		return 0, err
	}
	collValue, err := e.collateralValue(account)
	if err != nil {
		return 0, err
	}

	issuable := fpmath.MulRate(collValue, e.settings.IssuanceRatio) - e.pool.DebtBalanceOf(account, ratio)
	if issuable < 0 {
		issuable = 0
	}
	return issuable, nil
}

// CollateralisationRatio returns debt / collateralValue at rate scale.
// Zero when the account has no collateral.
func (e *Engine) CollateralisationRatio(account ledger.Address) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ratio, err := e.debtRatioStrict()
	if err != nil {
		return 0, err
	}
	collValue, err := e.collateralValue(account)
	if err != nil {
		return 0, err
	}
	if collValue <= 0 {
		return 0, nil
	}
	return fpmath.MulDiv(e.pool.DebtBalanceOf(account, ratio), fpmath.RateUnit, collValue), nil
}

// SynthBalance returns the account's ledger balance of one synth.
func (e *Engine) SynthBalance(account ledger.Address, currency ledger.CurrencyKey) int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tracker.SynthBalance(account, currency)
}

// TotalIssued returns the outstanding supply of one synth.
func (e *Engine) TotalIssued(currency ledger.CurrencyKey) int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tracker.TotalIssued(currency)
}

// TotalDebtShares returns the pool-wide share count.
func (e *Engine) TotalDebtShares() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pool.TotalShares()
}

// FeePoolBalance returns the accumulated fee sink balance.
func (e *Engine) FeePoolBalance() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tracker.FeePoolBalance()
}

// QueueEntries returns the pending settlement entries for a pairing.
func (e *Engine) QueueEntries(account ledger.Address, currency ledger.CurrencyKey) []queue.ExchangeEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.queue.Entries(account, currency)
}

// FeeRateForExchange quotes the current total fee rate for a pair.
func (e *Engine) FeeRateForExchange(src, dest ledger.CurrencyKey) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.feeModel.FeeRateForExchange(src, dest)
}

// Settings returns a copy of the current settings.
func (e *Engine) Settings() Settings {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.settings
}

// ============================================================================
// Shared internals
// ============================================================================

// debtRatioStrict returns the current debt ratio or ErrInvalidRate.
func (e *Engine) debtRatioStrict() (int64, error) {
	ratio, stale := e.debtRatio.DebtRatio()
	if stale || ratio <= 0 {
		return 0, fmt.Errorf("%w: debt ratio %d stale=%v", ErrInvalidRate, ratio, stale)
	}
	return ratio, nil
}

// rateFor returns a staleness-checked rate for an asset. The base stable
// asset is the unit of account and always rates 1.0.
func (e *Engine) rateFor(key ledger.CurrencyKey) (int64, error) {
	asset, ok := e.assets.Get(key)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownAsset, key)
	}
	if asset.BaseStable {
		return fpmath.RateUnit, nil
	}
	rate, stale := e.rates.CurrentRate(key)
	if stale || rate <= 0 {
		return 0, fmt.Errorf("%w: %s rate %d stale=%v", ErrInvalidRate, key, rate, stale)
	}
	return rate, nil
}

func (e *Engine) collateralValue(account ledger.Address) (int64, error) {
	if e.collateral == nil {
		return 0, nil
	}
	v, err := e.collateral.CollateralValue(account)
	if err != nil {
		return 0, fmt.Errorf("collateral lookup for %s: %w", account, err)
	}
	return v, nil
}

func (e *Engine) checkStakeTime(account ledger.Address) error {
	last, ok := e.lastIssue[account]
	if !ok {
		return nil
	}
	elapsed := e.now().UnixMicro() - last
	if elapsed < e.settings.MinimumStakeTime.Microseconds() {
		return fmt.Errorf("%w: %s of %s elapsed", ErrMinimumStakeTimeNotElapsed,
			time.Duration(elapsed)*time.Microsecond, e.settings.MinimumStakeTime)
	}
	return nil
}

func (e *Engine) newBatch(opID uuid.UUID, ts time.Time) *ledger.Batch {
	return &ledger.Batch{
		BatchID:   uuid.New(),
		EventRef:  opID.String(),
		Sequence:  e.sequence,
		Timestamp: ts.UnixMicro(),
	}
}

func (e *Engine) addJournal(b *ledger.Batch, j ledger.Journal) {
	j.JournalID = uuid.New()
	j.BatchID = b.BatchID
	j.EventRef = b.EventRef
	j.Sequence = b.Sequence
	j.Timestamp = b.Timestamp
	b.Journals = append(b.Journals, j)
}

// applyBatch validates and applies a journal batch. An unbalanced or
// malformed batch at this point is a bug in the operation handler, not a
// caller error.
func (e *Engine) applyBatch(b *ledger.Batch) {
	if len(b.Journals) == 0 {
		return
	}
	if err := e.validator.ValidateBatchBalance(b); err != nil {
		panic(fmt.Sprintf("FATAL: unbalanced batch: %v", err))
	}
	if err := e.tracker.ApplyBatch(b); err != nil {
		panic(fmt.Sprintf("FATAL: apply batch: %v", err))
	}
	if err := e.validator.ValidateGlobalBalance(); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
	}
	if err := e.pool.ValidateTotal(); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
	}
}

// emit seals an envelope over the event and hands it to the persistence
// and publish channels. Persist send is blocking (backpressure); publish
// send drops on a full channel.
func (e *Engine) emit(evt event.Event, batch *ledger.Batch) {
	payload, err := json.Marshal(evt)
	if err != nil {
		panic(fmt.Sprintf("FATAL: marshal %s event: %v", evt.EventType(), err))
	}

	hash := event.ChainHash(e.prevHash, e.sequence, evt.IdempotencyKey(), evt.EventType(), payload)
	envelope := &event.Envelope{
		Sequence:       e.sequence,
		IdempotencyKey: evt.IdempotencyKey(),
		EventType:      evt.EventType(),
		Account:        evt.AccountContext(),
		Timestamp:      e.now(),
		Payload:        payload,
		StateHash:      hash,
		PrevHash:       e.prevHash,
	}
	e.prevHash = hash
	e.sequence++

	out := Output{Envelope: envelope, Batch: batch, Event: evt}

	if e.persistChan != nil {
		select {
		case e.persistChan <- out:
		default:
			if e.metrics != nil {
				e.metrics.PersistBackpressure.Inc()
			}
			e.persistChan <- out
		}
	}
	if e.publishChan != nil {
		select {
		case e.publishChan <- out:
		default:
			if e.metrics != nil {
				e.metrics.PublishDrops.Inc()
			}
		}
	}

	if e.metrics != nil {
		e.metrics.EngineSequence.Set(float64(e.sequence))
		e.metrics.TotalDebtShares.Set(float64(e.pool.TotalShares()))
	}
}

func (e *Engine) applied(op string, start time.Time) {
	if e.metrics != nil {
		e.metrics.OpsApplied.WithLabelValues(op).Inc()
		e.metrics.OpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}

func (e *Engine) reject(op string, err error) error {
	if e.metrics != nil {
		e.metrics.OpsRejected.WithLabelValues(op, RejectReason(err)).Inc()
	}
	e.log.Debug().Str("op", op).Err(err).Msg("operation rejected")
	return err
}
