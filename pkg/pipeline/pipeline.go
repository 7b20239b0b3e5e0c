// Package pipeline runs one full control cycle: fetch inputs, estimate,
// classify, reserve, plan, filter, execute, persist. It owns no scheduling;
// RunCycle is invoked by main's ticker and by the trigger endpoint. A cycle
// never aborts on a degraded input, it falls back and records why.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Bokbacken/energy-dispatcher/pkg/baseline"
	"github.com/Bokbacken/energy-dispatcher/pkg/battery"
	"github.com/Bokbacken/energy-dispatcher/pkg/comfort"
	"github.com/Bokbacken/energy-dispatcher/pkg/ledger"
	"github.com/Bokbacken/energy-dispatcher/pkg/log"
	"github.com/Bokbacken/energy-dispatcher/pkg/planner"
	"github.com/Bokbacken/energy-dispatcher/pkg/pricing"
	"github.com/Bokbacken/energy-dispatcher/pkg/reserve"
	"github.com/Bokbacken/energy-dispatcher/pkg/storage"
	"github.com/Bokbacken/energy-dispatcher/pkg/telemetry"
	"github.com/Bokbacken/energy-dispatcher/pkg/types"
)

// Pipeline wires the decision core to its collaborators and carries the
// cross-cycle state (ledger, EMA seed, last cycle snapshot).
type Pipeline struct {
	db       storage.Database
	sources  *telemetry.Sources
	battery  battery.Controller
	baseline *baseline.Estimator
	reserve  *reserve.Calculator
	planner  *planner.Planner
	comfort  *comfort.Filter

	now func() time.Time

	// mu serializes cycles and all ledger mutations.
	mu          sync.Mutex
	ledger      *ledger.Ledger
	override    *types.Override
	last        *types.CycleResult
	lastCycleAt time.Time

	obsMu     sync.Mutex
	observers []func(types.CycleResult)
}

// New creates a Pipeline. Start must be called before the first cycle.
func New(db storage.Database, sources *telemetry.Sources, bat battery.Controller) *Pipeline {
	return &Pipeline{
		db:       db,
		sources:  sources,
		battery:  bat,
		baseline: baseline.New(),
		reserve:  reserve.New(),
		planner:  planner.New(),
		comfort:  comfort.New(),
		now:      time.Now,
	}
}

// Start seeds cross-cycle state from storage: the ledger record and the
// baseline EMA value.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	settings, err := p.settings(ctx)
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	l, err := ledger.Load(ctx, p.db, settings.BatteryCapacityKWH)
	if err != nil {
		return fmt.Errorf("failed to load ledger: %w", err)
	}
	p.ledger = l

	ema, err := p.db.LoadEMA(ctx)
	if err != nil {
		return fmt.Errorf("failed to load baseline ema: %w", err)
	}
	if ema.Seeded {
		p.baseline.SeedEMA(ema)
	}
	return nil
}

// Subscribe registers a callback invoked with every completed cycle result.
// Callbacks run on the cycle's goroutine and must not block.
func (p *Pipeline) Subscribe(fn func(types.CycleResult)) {
	p.obsMu.Lock()
	defer p.obsMu.Unlock()
	p.observers = append(p.observers, fn)
}

// RunCycle executes one control cycle and returns its result.
func (p *Pipeline) RunCycle(ctx context.Context) (types.CycleResult, error) {
	ctx = log.WithComponent(ctx, "pipeline")

	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	result := types.CycleResult{Timestamp: now}

	settings, err := p.settings(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to load settings: %w", err)
	}
	result.DryRun = settings.DryRun
	result.Paused = settings.Pause

	if settings.Pause {
		log.Ctx(ctx).InfoContext(ctx, "cycle skipped, updates paused")
		p.finish(ctx, &result)
		return result, nil
	}

	// inputs, each with its own fallback
	prices := p.fetchPrices(ctx, now, &result)
	history := p.fetchHistory(ctx, now, settings, &result)
	forecast := p.fetchForecast(ctx, &result)
	readings, fresh := p.fetchReadings(ctx, now, &result)

	est := p.estimateBaseline(ctx, now, settings, history, readings, fresh, &result)
	result.Baseline = est

	classified, thresholds := p.classify(ctx, settings, prices)
	result.Prices = classified
	log.Ctx(ctx).DebugContext(ctx, "classified prices",
		slog.Int("count", len(classified)),
		slog.Float64("cheapMax", thresholds.CheapMax),
		slog.Float64("highMin", thresholds.HighMin),
	)

	result.Reserve = p.reserve.Required(ctx, reserve.Input{
		Now:         now,
		Prices:      classified,
		CapacityKWH: settings.BatteryCapacityKWH,
		Baseline:    est,
		Forecast:    forecast,
	})

	plan := p.planner.Plan(ctx, planner.Input{
		Now:           now,
		Prices:        classified,
		Reserve:       result.Reserve,
		Baseline:      est,
		Forecast:      forecast,
		Readings:      readings,
		ReadingsFresh: fresh,
		Settings:      settings,
	})
	result.Plan = p.comfort.Apply(ctx, settings, plan)

	p.applyOverrideState(ctx, now, &result)

	p.accountLedger(ctx, now, classified, readings, fresh, &result)
	if p.ledger != nil {
		result.Ledger = p.ledger.State()
	}

	p.execute(ctx, settings, readings, fresh, &result)

	p.lastCycleAt = now
	p.finish(ctx, &result)
	return result, nil
}

// settings loads settings and applies any pending migration.
func (p *Pipeline) settings(ctx context.Context) (types.Settings, error) {
	settings, version, err := p.db.GetSettings(ctx)
	if err != nil {
		return types.Settings{}, err
	}
	migrated, changed, err := types.MigrateSettings(settings, version)
	if err != nil {
		return types.Settings{}, fmt.Errorf("settings migration failed: %w", err)
	}
	if changed {
		if err := p.db.SetSettings(ctx, migrated, types.CurrentSettingsVersion); err != nil {
			return types.Settings{}, fmt.Errorf("failed to store migrated settings: %w", err)
		}
		log.Ctx(ctx).InfoContext(ctx, "migrated settings",
			slog.Int("fromVersion", version),
			slog.Int("toVersion", types.CurrentSettingsVersion),
		)
	}
	return migrated, nil
}

// fetchPrices returns the price curve, falling back to stored history when
// the provider fails, and syncs newly settled hours into storage.
func (p *Pipeline) fetchPrices(ctx context.Context, now time.Time, result *types.CycleResult) []types.Price {
	prices, err := p.sources.Prices.Prices(ctx)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "price fetch failed, using stored history", slog.Any("err", err))
		result.Notes = append(result.Notes, fmt.Sprintf("price fetch failed: %v", err))
		stored, err := p.db.GetPriceHistory(ctx, now.Add(-48*time.Hour), now.Add(48*time.Hour))
		if err != nil {
			result.Notes = append(result.Notes, fmt.Sprintf("stored price fallback failed: %v", err))
			return nil
		}
		return stored
	}

	p.syncPriceHistory(ctx, now)
	return prices
}

// syncPriceHistory upserts settled hours newer than what storage already
// has. Failures are absorbed; the sync catches up next cycle.
func (p *Pipeline) syncPriceHistory(ctx context.Context, now time.Time) {
	latest, _, err := p.db.GetLatestPriceHistoryTime(ctx)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to get latest stored price time", slog.Any("err", err))
		return
	}
	if latest.IsZero() {
		latest = now.Add(-48 * time.Hour)
	}
	if !now.After(latest.Add(time.Hour)) {
		return
	}

	confirmed, err := p.sources.Prices.ConfirmedPrices(ctx, latest, now)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to fetch confirmed prices", slog.Any("err", err))
		return
	}
	for _, price := range confirmed {
		if !price.TSStart.After(latest) {
			continue
		}
		if err := p.db.UpsertPrice(ctx, price, types.CurrentPriceHistoryVersion); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to upsert price",
				slog.Time("tsStart", price.TSStart),
				slog.Any("err", err),
			)
			return
		}
	}
}

// fetchHistory returns the lookback window of power samples, empty on
// failure so the baseline falls back to its EMA.
func (p *Pipeline) fetchHistory(ctx context.Context, now time.Time, settings types.Settings, result *types.CycleResult) telemetry.History {
	if settings.LookbackHours <= 0 {
		return telemetry.History{}
	}
	start := now.Add(-time.Duration(settings.LookbackHours) * time.Hour)
	history, err := p.sources.History.History(ctx, start, now)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "history fetch failed", slog.Any("err", err))
		result.Notes = append(result.Notes, fmt.Sprintf("history fetch failed: %v", err))
		return telemetry.History{}
	}
	return history
}

// fetchForecast returns the solar forecast, nil on failure so the reserve
// runs without one.
func (p *Pipeline) fetchForecast(ctx context.Context, result *types.CycleResult) []types.SolarForecastPoint {
	forecast, err := p.sources.Forecast.Forecast(ctx)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "forecast fetch failed", slog.Any("err", err))
		result.Notes = append(result.Notes, fmt.Sprintf("forecast fetch failed: %v", err))
		return nil
	}
	return forecast
}

// fetchReadings returns the live snapshot and whether it is fresh enough to
// act on.
func (p *Pipeline) fetchReadings(ctx context.Context, now time.Time, result *types.CycleResult) (types.Readings, bool) {
	readings, err := p.sources.Live.Readings(ctx)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "live readings unavailable", slog.Any("err", err))
		result.Notes = append(result.Notes, fmt.Sprintf("live readings unavailable: %v", err))
		return types.Readings{}, false
	}
	fresh := readings.Fresh(now)
	if !fresh {
		result.Notes = append(result.Notes, fmt.Sprintf("live readings stale since %s", readings.Timestamp.Format(time.RFC3339)))
	}
	return readings, fresh
}

// estimateBaseline runs the estimator and persists its EMA state.
func (p *Pipeline) estimateBaseline(ctx context.Context, now time.Time, settings types.Settings, history telemetry.History, readings types.Readings, fresh bool, result *types.CycleResult) types.BaselineEstimate {
	est, err := p.baseline.Estimate(ctx, baseline.Input{
		Now:            now,
		LookbackHours:  settings.LookbackHours,
		UseDayparts:    settings.UseDayparts,
		Smoothing:      settings.EMASmoothing,
		HouseLoad:      history.HouseLoad,
		EVCharge:       history.EVCharge,
		PV:             history.PV,
		BatteryPower:   history.BatteryPower,
		LiveHouseLoadW: readings.HouseLoadW,
		LiveAvailable:  fresh,
	})
	if err != nil {
		// both fallbacks are reported, not fatal
		result.Notes = append(result.Notes, fmt.Sprintf("baseline degraded: %v", err))
	}

	if err := p.db.SaveEMA(ctx, p.baseline.EMAState()); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to persist baseline ema", slog.Any("err", err))
	}
	return est
}

// classify attaches cost levels using dynamic or static thresholds.
func (p *Pipeline) classify(ctx context.Context, settings types.Settings, prices []types.Price) ([]types.ClassifiedPrice, pricing.Thresholds) {
	c := pricing.New()
	if !settings.UseDynamicThresholds {
		c = pricing.NewStatic(settings.CheapMaxPerKWH, settings.HighMinPerKWH)
	}
	return c.Classify(ctx, prices)
}

// applyOverrideState attaches the active override to the result and clears
// an expired one, reverting control to the automatic plan.
func (p *Pipeline) applyOverrideState(ctx context.Context, now time.Time, result *types.CycleResult) {
	if p.override == nil {
		return
	}
	if !p.override.Active(now) {
		log.Ctx(ctx).InfoContext(ctx, "override expired, reverting to automatic plan",
			slog.Time("expiredAt", p.override.ExpiresAt),
		)
		p.override = nil
		return
	}
	o := *p.override
	result.Override = &o
}

// accountLedger feeds the observed battery flow since the previous cycle
// into the cost ledger. A stale gap re-anchors against the observed
// absolute energy instead of applying an unverifiable delta.
func (p *Pipeline) accountLedger(ctx context.Context, now time.Time, prices []types.ClassifiedPrice, readings types.Readings, fresh bool, result *types.CycleResult) {
	if p.ledger == nil || !fresh || p.lastCycleAt.IsZero() {
		return
	}
	elapsed := now.Sub(p.lastCycleAt)
	if elapsed <= 0 {
		return
	}

	// BatteryW is positive while discharging
	deltaKWH := readings.BatteryW / 1000.0 * elapsed.Hours()
	var err error
	switch {
	case deltaKWH < 0:
		err = p.ledger.Charge(ctx, now, -deltaKWH, currentPrice(prices, now))
	case deltaKWH > 0:
		err = p.ledger.Discharge(ctx, now, deltaKWH)
	default:
		return
	}

	if errors.Is(err, types.ErrLedgerStaleGap) {
		observed := p.ledger.State().CapacityKWH * readings.BatterySOC / 100.0
		result.Notes = append(result.Notes, fmt.Sprintf("ledger gap exceeded, re-anchored at %.2f kWh", observed))
		err = p.ledger.ReAnchor(ctx, now, observed)
	}
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "ledger update failed", slog.Any("err", err))
		result.Notes = append(result.Notes, fmt.Sprintf("ledger update failed: %v", err))
	}
}

// execute sends the cycle's decision to the battery. Precedence: active
// override, then peak shave, then the current slot's planned action. No
// command is sent in dry-run or without fresh readings.
func (p *Pipeline) execute(ctx context.Context, settings types.Settings, readings types.Readings, fresh bool, result *types.CycleResult) {
	kind, powerW := p.decideCommand(result)

	if settings.DryRun {
		log.Ctx(ctx).InfoContext(ctx, "dry run, not commanding battery",
			slog.String("kind", string(kind)),
			slog.Float64("powerW", powerW),
		)
		return
	}
	if !fresh && result.Override == nil {
		// without trustworthy readings the only safe command is none
		return
	}

	var err error
	switch kind {
	case types.ActionCharge:
		err = p.battery.CommandCharge(ctx, powerW)
	case types.ActionDischarge, types.ActionExport:
		err = p.battery.CommandDischarge(ctx, powerW)
	default:
		err = p.battery.Hold(ctx)
	}
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "battery command failed",
			slog.String("kind", string(kind)),
			slog.Any("err", err),
		)
		result.Notes = append(result.Notes, fmt.Sprintf("battery command failed: %v", err))
		return
	}
	log.Ctx(ctx).InfoContext(ctx, "battery commanded",
		slog.String("kind", string(kind)),
		slog.Float64("powerW", powerW),
	)
}

// decideCommand picks the command for this cycle from the result.
func (p *Pipeline) decideCommand(result *types.CycleResult) (types.ActionKind, float64) {
	if result.Override != nil {
		return result.Override.Mode, result.Override.PowerW
	}
	if result.Plan.PeakShave != nil {
		return types.ActionDischarge, result.Plan.PeakShave.DischargeW
	}
	if len(result.Plan.Actions) > 0 {
		a := result.Plan.Actions[0]
		return a.Kind, a.PowerW
	}
	return types.ActionHold, 0
}

// finish persists the cycle, snapshots it for observers, and notifies
// subscribers.
func (p *Pipeline) finish(ctx context.Context, result *types.CycleResult) {
	if err := p.db.InsertCycle(ctx, *result); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to persist cycle", slog.Any("err", err))
	}
	snapshot := *result
	p.last = &snapshot

	p.obsMu.Lock()
	observers := append([]func(types.CycleResult){}, p.observers...)
	p.obsMu.Unlock()
	for _, fn := range observers {
		fn(snapshot)
	}
}

// currentPrice returns the price covering now, 0 when unknown.
func currentPrice(prices []types.ClassifiedPrice, now time.Time) float64 {
	for _, p := range prices {
		if p.Covers(now) {
			return p.PerKWH
		}
	}
	return 0
}

// Last returns the most recent cycle result, nil before the first cycle.
func (p *Pipeline) Last() *types.CycleResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		return nil
	}
	snapshot := *p.last
	return &snapshot
}

// LedgerState returns the current cost ledger snapshot.
func (p *Pipeline) LedgerState() types.LedgerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ledger == nil {
		return types.LedgerState{}
	}
	return p.ledger.State()
}

// Settings returns the current (migrated) settings.
func (p *Pipeline) Settings(ctx context.Context) (types.Settings, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.settings(ctx)
}

// UpdateSettings validates and stores new settings.
func (p *Pipeline) UpdateSettings(ctx context.Context, settings types.Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.db.SetSettings(ctx, settings, types.CurrentSettingsVersion)
}

// SetOverride validates and applies a manual override.
func (p *Pipeline) SetOverride(ctx context.Context, o types.Override) error {
	now := p.now()
	if err := o.Validate(now); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.override = &o
	log.Ctx(ctx).InfoContext(ctx, "override set",
		slog.String("mode", string(o.Mode)),
		slog.Float64("powerW", o.PowerW),
		slog.Time("expiresAt", o.ExpiresAt),
	)
	return nil
}

// ClearOverride removes any active override.
func (p *Pipeline) ClearOverride(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.override != nil {
		log.Ctx(ctx).InfoContext(ctx, "override cleared")
		p.override = nil
	}
}

// Override returns the active override, nil when none.
func (p *Pipeline) Override() *types.Override {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.override == nil {
		return nil
	}
	o := *p.override
	return &o
}
