package drawcalc

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Calculator computes a user's prize for a batch of draws. It is safe for
// concurrent use; every batch is evaluated against one settings snapshot.
type Calculator struct {
	settings *SettingsManager
	balances BalanceSource
	config   *CalculatorConfig
	hash     HashFunc
	logger   Logger
	mu       sync.RWMutex // 保护 config, hash 和 logger

	performanceMonitor *PerformanceMonitor
}

var _ PrizeCalculator = (*Calculator)(nil)

// NewCalculator creates a calculator with the default configuration
func NewCalculator(settings *SettingsManager, balances BalanceSource) *Calculator {
	return NewCalculatorWithConfigAndLogger(settings, balances, DefaultCalculatorConfig(), &DefaultLogger{})
}

// NewCalculatorWithConfig creates a calculator with a custom configuration
func NewCalculatorWithConfig(settings *SettingsManager, balances BalanceSource, config *CalculatorConfig) *Calculator {
	return NewCalculatorWithConfigAndLogger(settings, balances, config, &DefaultLogger{})
}

// NewCalculatorWithConfigAndLogger creates a calculator with a custom configuration and logger
func NewCalculatorWithConfigAndLogger(
	settings *SettingsManager, balances BalanceSource, config *CalculatorConfig, logger Logger,
) *Calculator {
	if config == nil {
		config = DefaultCalculatorConfig()
	}
	if logger == nil {
		logger = &DefaultLogger{}
	}

	if settings == nil {
		settings = NewSettingsManager(nil, logger)
	}

	// 共享的 SettingsManager 保留首个计算器的监控器
	monitor := NewPerformanceMonitor()
	settings.attachPerformanceMonitor(monitor)

	return &Calculator{
		settings: settings,
		balances: balances,
		config:   config.Clone(),
		hash:     DefaultHashFunc,
		logger:   logger,

		performanceMonitor: monitor,
	}
}

// SetLogger updates the logger at runtime
func (c *Calculator) SetLogger(logger Logger) {
	if logger == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.logger = logger
}

// GetLogger returns the current logger
func (c *Calculator) GetLogger() Logger {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.logger
}

// SetHashFunc replaces the hash used to derive user seeds and pick values
func (c *Calculator) SetHashFunc(hash HashFunc) {
	if hash == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.hash = hash
}

// GetConfig returns a copy of the current calculator configuration
func (c *Calculator) GetConfig() *CalculatorConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.config.Clone()
}

// UpdateConfig updates the calculator configuration at runtime
func (c *Calculator) UpdateConfig(config *CalculatorConfig) error {
	if config == nil {
		return ErrInvalidParameters.WithDetails("nil calculator config")
	}
	if err := config.Validate(); err != nil {
		c.GetLogger().Error("UpdateConfig validation failed: %v", err)
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.config = config.Clone()
	c.logger.Info("Calculator configuration updated: parallelism=%d, require_ascending_picks=%v, balance_timeout=%v",
		config.Parallelism, config.RequireAscendingPicks, config.BalanceTimeout)
	return nil
}

// Settings returns the settings manager
func (c *Calculator) Settings() *SettingsManager { return c.settings }

// GetPerformanceMonitor returns the performance monitor
func (c *Calculator) GetPerformanceMonitor() *PerformanceMonitor { return c.performanceMonitor }

// GetPerformanceMetrics 获取性能指标
func (c *Calculator) GetPerformanceMetrics() PerformanceMetrics {
	return c.performanceMonitor.GetMetrics()
}

// SetDrawSettings validates and installs new draw settings
func (c *Calculator) SetDrawSettings(ctx context.Context, settings *DrawSettings) (*SettingsSnapshot, error) {
	return c.settings.SetDrawSettings(ctx, settings)
}

// CalculatePrizeDistributionFraction returns the per-winner fraction of tier
// under the installed settings
func (c *Calculator) CalculatePrizeDistributionFraction(tier int) (*big.Int, error) {
	snapshot := c.settings.snapshot()
	if snapshot == nil {
		return nil, ErrSettingsNotInstalled
	}
	return CalculatePrizeDistributionFraction(&snapshot.Settings, tier)
}

// Calculate returns the awarded amount of every draw, in input order.
// Any failure fails the whole batch.
func (c *Calculator) Calculate(
	ctx context.Context,
	user common.Address,
	winningNumbers []*big.Int,
	timestamps []uint64,
	prizePools []*big.Int,
	encodedPicks []byte,
) ([]*big.Int, error) {
	result, err := c.CalculateDetailed(ctx, &CalculationRequest{
		User:           user,
		WinningNumbers: winningNumbers,
		Timestamps:     timestamps,
		PrizePools:     prizePools,
		EncodedPicks:   encodedPicks,
	})
	if err != nil {
		return nil, err
	}
	return result.Awarded(), nil
}

// CalculateDetailed evaluates the batch against the installed snapshot and
// returns the per-draw breakdown
func (c *Calculator) CalculateDetailed(ctx context.Context, req *CalculationRequest) (*CalculationResult, error) {
	snapshot := c.settings.snapshot()
	if snapshot == nil {
		return nil, ErrSettingsNotInstalled
	}
	return c.CalculateWithSnapshot(ctx, snapshot, req)
}

// CalculateWithSnapshot evaluates the batch against a given snapshot, e.g.
// to replay a past calculation with the settings version it used.
// The snapshot's settings are validated before any draw is evaluated.
func (c *Calculator) CalculateWithSnapshot(
	ctx context.Context, snapshot *SettingsSnapshot, req *CalculationRequest,
) (*CalculationResult, error) {
	if snapshot == nil {
		return nil, ErrSettingsNotInstalled
	}

	requestID := RequestIDFromContext(ctx)
	if requestID == "" {
		requestID = uuid.NewString()
		ctx = ContextWithRequestID(ctx, requestID)
	}

	logger := c.GetLogger()
	start := time.Now()

	// 回放的快照来自调用方, 必须重新校验
	err := snapshot.Settings.Validate()
	var result *CalculationResult
	if err == nil {
		result, err = c.calculate(ctx, requestID, snapshot, req)
	}
	duration := time.Since(start)

	if err != nil {
		c.performanceMonitor.RecordCalculation(false, 0, duration)
		err = annotateError(err, requestID, req)
		logger.Error("Calculation failed: request_id=%s, duration=%v, error=%v", requestID, duration, err)
		return nil, err
	}

	c.performanceMonitor.RecordCalculation(true, len(result.Draws), duration)
	logger.Debug("Calculation completed: request_id=%s, user=%s, draws=%d, settings_version=%d, total_awarded=%s, duration=%v",
		requestID, result.User.Hex(), len(result.Draws), result.SettingsVersion, result.TotalAwarded(), duration)
	return result, nil
}

func (c *Calculator) calculate(
	ctx context.Context, requestID string, snapshot *SettingsSnapshot, req *CalculationRequest,
) (*CalculationResult, error) {
	if req == nil {
		return nil, ErrInvalidParameters.WithDetails("nil calculation request")
	}

	// 长度校验必须先于任何外部调用
	n := len(req.WinningNumbers)
	if len(req.Timestamps) != n || len(req.PrizePools) != n {
		return nil, ErrInputLengthMismatch.WithDetailsf("winning_numbers=%d, timestamps=%d, prize_pools=%d",
			n, len(req.Timestamps), len(req.PrizePools))
	}

	picks, err := DecodePicks(req.EncodedPicks)
	if err != nil {
		return nil, err
	}
	if len(picks) != n {
		return nil, ErrInputLengthMismatch.WithDetailsf("draws=%d, pick lists=%d", n, len(picks))
	}

	config := c.GetConfig()
	if err := validateDrawInputs(req, picks, &snapshot.Settings, config); err != nil {
		return nil, err
	}

	result := &CalculationResult{
		RequestID:       requestID,
		User:            req.User,
		SettingsVersion: snapshot.Version,
		Draws:           make([]DrawPayout, n),
	}
	if n == 0 {
		return result, nil
	}

	balances, err := c.lookupBalances(ctx, req.User, req.Timestamps, config.BalanceTimeout)
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	hash := c.hash
	c.mu.RUnlock()

	seed := UserSeed(req.User, hash)
	evaluate := func(i int) error {
		payout, err := evaluateDraw(i, req, picks[i], balances[i], seed, snapshot, hash, config.IncludeMatches)
		if err != nil {
			return err
		}
		result.Draws[i] = *payout
		return nil
	}

	if config.Parallelism <= 1 || n == 1 {
		for i := 0; i < n; i++ {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if err := evaluate(i); err != nil {
				return nil, err
			}
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(config.Parallelism)
		for i := 0; i < n; i++ {
			i := i
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				return evaluate(i)
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	var total, winning uint64
	for i := range result.Draws {
		total += uint64(len(picks[i]))
		winning += result.Draws[i].WinningPicks()
	}
	c.performanceMonitor.RecordPicks(int(total), int(winning))

	return result, nil
}

// validateDrawInputs runs the checks that need no external data
func validateDrawInputs(req *CalculationRequest, picks [][]uint64, settings *DrawSettings, config *CalculatorConfig) error {
	for i := range req.WinningNumbers {
		if err := ValidateWinningNumber(req.WinningNumbers[i]); err != nil {
			return withDrawIndex(err, i)
		}
		if !inUint256Range(req.PrizePools[i]) {
			return ErrInvalidParameters.WithDetailsf("draw %d: prize pool must be in [0, 2^256)", i)
		}
		if settings.MaxPicksPerUser > 0 && uint64(len(picks[i])) > settings.MaxPicksPerUser {
			return ErrTooManyPicks.WithDetailsf("draw %d: picks=%d, max_picks_per_user=%d",
				i, len(picks[i]), settings.MaxPicksPerUser)
		}
		if config.RequireAscendingPicks {
			if err := ValidatePickOrder(picks[i]); err != nil {
				return withDrawIndex(err, i)
			}
		}
	}
	return nil
}

// lookupBalances fetches every draw's balance with a single source call
func (c *Calculator) lookupBalances(
	ctx context.Context, user common.Address, timestamps []uint64, timeout time.Duration,
) ([]*big.Int, error) {
	if c.balances == nil {
		return nil, ErrBalanceSourceUnavailable.WithDetails("no balance source configured")
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	balances, err := c.balances.BalancesAt(ctx, user, timestamps)
	c.performanceMonitor.RecordBalanceLookup(err == nil, time.Since(start))
	if err != nil {
		var calcErr *CalcError
		if errors.As(err, &calcErr) {
			return nil, err
		}
		return nil, ErrBalanceSourceUnavailable.WithDetailsf("user=%s", user.Hex()).WithCause(err)
	}

	if len(balances) != len(timestamps) {
		return nil, ErrBalanceCountMismatch.WithDetailsf("timestamps=%d, balances=%d", len(timestamps), len(balances))
	}
	for i, b := range balances {
		if b == nil || b.Sign() < 0 {
			return nil, ErrBalanceSourceUnavailable.WithDetailsf("invalid balance for draw %d", i)
		}
	}
	return balances, nil
}

// evaluateDraw matches the picks of draw i and converts the tier counts to
// an awarded amount
func evaluateDraw(
	i int,
	req *CalculationRequest,
	picks []uint64,
	balance *big.Int,
	seed []byte,
	snapshot *SettingsSnapshot,
	hash HashFunc,
	includeMatches bool,
) (*DrawPayout, error) {
	settings := &snapshot.Settings
	payout := &DrawPayout{
		Index:          i,
		Timestamp:      req.Timestamps[i],
		Balance:        new(big.Int).Set(balance),
		TotalUserPicks: CalculateNumberOfUserPicks(settings, balance),
		TierCounts:     make([]uint64, len(settings.Distributions)),
		PrizeFraction:  new(big.Int),
		Awarded:        new(big.Int),
	}

	if len(picks) == 0 {
		return payout, nil
	}

	matches, err := MatchPicks(req.WinningNumbers[i], seed, picks, payout.TotalUserPicks, snapshot, hash)
	if err != nil {
		return nil, withDrawIndex(err, i)
	}

	for _, m := range matches {
		if m.Winning {
			payout.TierCounts[m.Tier]++
		}
	}
	if includeMatches {
		payout.Matches = matches
	}

	payout.PrizeFraction = prizeFraction(snapshot.Fractions(), payout.TierCounts)
	payout.Awarded.Mul(payout.PrizeFraction, req.PrizePools[i])
	payout.Awarded.Quo(payout.Awarded, fixedPointOne)

	if payout.Awarded.BitLen() > AwardBits {
		return nil, ErrPrizeOverflow.WithDetailsf("draw %d: awarded=%s exceeds %d bits", i, payout.Awarded, AwardBits)
	}

	return payout, nil
}

// withDrawIndex tags err with the index of the failing draw
func withDrawIndex(err error, i int) error {
	var calcErr *CalcError
	if errors.As(err, &calcErr) {
		return calcErr.WithMetadata("draw", i)
	}
	return err
}

// annotateError attaches request context to calculation errors
func annotateError(err error, requestID string, req *CalculationRequest) error {
	var calcErr *CalcError
	if !errors.As(err, &calcErr) {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			calcErr = ErrSystemError.WithDetails("calculation cancelled").WithCause(err)
		} else {
			calcErr = ErrSystemError.WithDetails(err.Error()).WithCause(err)
		}
	}

	calcErr = calcErr.WithRequestID(requestID).WithOperation("calculate")
	if req != nil {
		calcErr = calcErr.WithUser(req.User.Hex())
	}
	return calcErr
}

// String implements fmt.Stringer for log output
func (r *CalculationRequest) String() string {
	if r == nil {
		return "<nil>"
	}
	return fmt.Sprintf("CalculationRequest{user=%s, draws=%d, picks=%d bytes}",
		r.User.Hex(), len(r.WinningNumbers), len(r.EncodedPicks))
}
