package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/maxvit/ctrader_meanrev/internal/domain"
	"github.com/maxvit/ctrader_meanrev/internal/protocol"
)

const (
	// maxOrderFailures caps rejection-driven retries: the first two
	// rejections after a marked trade re-arm it, the third is final.
	maxOrderFailures = 3

	maxHistory = 50

	orderTimeout = 30 * time.Second
)

// Broker is the engine's view of the connection layer.
type Broker interface {
	SymbolsList(ctx context.Context) ([]protocol.SymbolRef, error)
	SymbolInfo(ctx context.Context, symbolID int64) (*domain.SymbolInfo, error)
	SubscribeSpots(ctx context.Context, symbolID int64) error
	NewOrder(ctx context.Context, req protocol.NewOrderRequest) error
	AmendPositionSLTP(ctx context.Context, positionID int64, stopLoss, takeProfit float64) error
	Reconcile(ctx context.Context) ([]protocol.PositionRecord, error)
	Trendbars(ctx context.Context, symbolID int64, period string, fromMs, toMs int64) ([]protocol.Trendbar, error)
}

// dailySession is the per-trading-day state, cleared only by DailyReset.
type dailySession struct {
	todayOpen     *int64 // baseline, raw units; nil until fetched
	watching      bool
	tradeDone     bool
	failures      int
	lastResetDate string
}

type bracket struct {
	stopLoss   float64
	takeProfit float64
}

// Engine consumes decoded broker events and runs the bounded
// mean-reversion strategy: at most one trade per session, entered when
// price deviates from the session baseline by the configured offset,
// bracketed after fill.
type Engine struct {
	log    *zap.Logger
	broker Broker
	store  domain.StateStore
	sink   domain.NotificationSink
	clock  func() time.Time
	loc    *time.Location

	symbolName string
	symbols    symbolCache

	// placing is the single-flight order lock: ticks arriving while it is
	// held are ignored, never queued.
	placing atomic.Bool

	mu             sync.Mutex
	cfg            domain.StrategyConfig
	sess           dailySession
	pendingBracket *bracket
	positions      map[int64]domain.Position
	history        []domain.TradeRecord
	wins, losses   int
	balance        float64
	lastBid        float64
	lastAsk        float64
}

func New(broker Broker, store domain.StateStore, sink domain.NotificationSink,
	symbolName string, cfg domain.StrategyConfig, loc *time.Location, log *zap.Logger) *Engine {
	if loc == nil {
		loc = time.UTC
	}
	return &Engine{
		log:        log,
		broker:     broker,
		store:      store,
		sink:       sink,
		clock:      time.Now,
		loc:        loc,
		symbolName: symbolName,
		cfg:        cfg,
		positions:  make(map[int64]domain.Position),
	}
}

// Restore loads the persisted snapshot, if any.
func (e *Engine) Restore(ctx context.Context) error {
	snap, err := e.store.LoadState(ctx)
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	if snap == nil {
		return nil
	}
	e.mu.Lock()
	e.wins = snap.Wins
	e.losses = snap.Losses
	e.balance = snap.Balance
	e.sess.tradeDone = snap.TodayTradeDone
	e.sess.lastResetDate = snap.LastResetDate
	e.history = snap.History
	if snap.Config.LotSize > 0 {
		e.cfg = snap.Config
	}
	e.mu.Unlock()
	e.log.Info("state restored",
		zap.Int("wins", snap.Wins), zap.Int("losses", snap.Losses),
		zap.Bool("today_trade_done", snap.TodayTradeDone),
		zap.String("last_reset_date", snap.LastResetDate))
	return nil
}

func (e *Engine) notify(ev domain.Event) {
	if e.sink != nil {
		e.sink.Notify(ev)
	}
}

// OnAuthenticated is the critical recovery path after every (re)connect:
// resolve the instrument, re-subscribe to quotes, reconcile positions.
func (e *Engine) OnAuthenticated() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	info, err := e.ensureSymbol(ctx)
	if err != nil {
		e.log.Error("symbol resolution failed", zap.Error(err))
		e.notify(domain.TradeError{Reason: fmt.Sprintf("symbol resolution: %v", err)})
		return
	}
	if err := e.broker.SubscribeSpots(ctx, info.ID); err != nil {
		e.log.Error("spot subscription failed", zap.Error(err))
		return
	}
	e.log.Info("subscribed to quotes", zap.String("symbol", info.Name), zap.Int64("symbol_id", info.ID))
	e.Reconcile(ctx)
}

func (e *Engine) ensureSymbol(ctx context.Context) (*domain.SymbolInfo, error) {
	if info := e.symbols.get(); info != nil {
		return info, nil
	}
	refs, err := e.broker.SymbolsList(ctx)
	if err != nil {
		return nil, fmt.Errorf("symbols list: %w", err)
	}
	ref, ok := matchSymbol(refs, e.symbolName)
	if !ok {
		return nil, fmt.Errorf("symbol %q not offered by broker", e.symbolName)
	}
	info, err := e.broker.SymbolInfo(ctx, ref.ID)
	if err != nil {
		return nil, fmt.Errorf("symbol info: %w", err)
	}
	e.symbols.set(info)
	return info, nil
}

// HandleEnvelope routes unsolicited broker events. Wired as the session
// handler; runs on the single read-loop goroutine, in arrival order.
func (e *Engine) HandleEnvelope(env protocol.Envelope) {
	switch env.Type {
	case protocol.KindSpotEvent:
		var ev protocol.SpotEvent
		if err := protocol.DecodeBody(env, &ev); err != nil {
			e.log.Warn("bad spot event", zap.Error(err))
			return
		}
		e.handleQuote(ev)
	case protocol.KindExecutionEvent:
		var ev protocol.ExecutionEvent
		if err := protocol.DecodeBody(env, &ev); err != nil {
			e.log.Warn("bad execution event", zap.Error(err))
			return
		}
		e.handleExecution(ev)
	case protocol.KindOrderErrorEvent:
		var ev protocol.OrderErrorEvent
		if err := protocol.DecodeBody(env, &ev); err != nil {
			e.log.Warn("bad order error event", zap.Error(err))
			return
		}
		e.log.Warn("order error", zap.String("code", ev.Code), zap.String("description", ev.Description))
		e.recordRejection()
	case protocol.KindErrorEvent:
		var ev protocol.ErrorEvent
		if err := protocol.DecodeBody(env, &ev); err != nil {
			return
		}
		e.log.Warn("server error event", zap.String("code", ev.Code), zap.String("description", ev.Description))
	default:
		e.log.Debug("unhandled event", zap.String("type", string(env.Type)))
	}
}

func (e *Engine) handleQuote(ev protocol.SpotEvent) {
	info := e.symbols.get()
	if info == nil || ev.SymbolID != info.ID || ev.Bid == 0 {
		return
	}

	bid := domain.RealPrice(ev.Bid)
	ask := domain.RealPrice(ev.Ask)
	e.mu.Lock()
	e.lastBid = bid
	if ev.Ask != 0 {
		e.lastAsk = ask
	}
	e.mu.Unlock()

	e.notify(domain.PriceUpdate{Symbol: info.Name, Bid: bid, Ask: ask})
	e.evaluateEntry(info, ev.Bid)
}

// evaluateEntry applies the entry rule to one tick. A no-op unless the
// baseline is set, the session is armed and the instrument is trading.
func (e *Engine) evaluateEntry(info *domain.SymbolInfo, price int64) {
	e.mu.Lock()
	sess := e.sess
	cfg := e.cfg
	e.mu.Unlock()

	if sess.todayOpen == nil || sess.tradeDone || !sess.watching {
		return
	}
	if !WithinSchedule(info, e.clock()) {
		return
	}

	baseline := *sess.todayOpen
	side, ok := entrySide(price, baseline, domain.RawPrice(cfg.EntryOffset))
	if !ok {
		return
	}

	if !e.placing.CompareAndSwap(false, true) {
		return
	}
	go e.placeOrder(info, side, baseline)
}

// entrySide decides the trade direction for one tick, all values in raw
// price units. Short is checked first and the boundary is inclusive; the
// two branches are mutually exclusive around the symmetric threshold.
func entrySide(price, baseline, offset int64) (domain.Side, bool) {
	diff := price - baseline
	switch {
	case diff >= offset:
		return domain.SideShort, true
	case diff <= -offset:
		return domain.SideLong, true
	default:
		return "", false
	}
}

// placeOrder runs the single-flight placement path. Whatever happens, the
// lock is released and watching is disabled, so one failed attempt never
// turns into a retry storm on every subsequent tick.
func (e *Engine) placeOrder(info *domain.SymbolInfo, side domain.Side, baseline int64) {
	defer func() {
		e.mu.Lock()
		e.sess.watching = false
		e.mu.Unlock()
		e.placing.Store(false)
	}()

	e.mu.Lock()
	cfg := e.cfg
	e.mu.Unlock()

	volume := computeVolume(cfg.LotSize, info)
	base := domain.RealPrice(baseline)

	// Exit targets are anchored to the session baseline, not the fill
	// price, so entry slippage does not shift them.
	var br bracket
	if side == domain.SideLong {
		br = bracket{takeProfit: base + cfg.LongTakeProfit, stopLoss: base - cfg.LongStopLoss}
	} else {
		br = bracket{takeProfit: base - cfg.ShortTakeProfit, stopLoss: base + cfg.ShortStopLoss}
	}
	e.mu.Lock()
	e.pendingBracket = &br
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), orderTimeout)
	defer cancel()

	req := protocol.NewOrderRequest{
		SymbolID:      info.ID,
		OrderType:     "MARKET",
		Side:          wireSide(side),
		Volume:        volume,
		ClientOrderID: ulid.Make().String(),
	}
	e.log.Info("placing market order",
		zap.String("symbol", info.Name), zap.String("side", string(side)),
		zap.Int64("volume", volume), zap.Float64("baseline", base),
		zap.Float64("take_profit", br.takeProfit), zap.Float64("stop_loss", br.stopLoss))

	if err := e.broker.NewOrder(ctx, req); err != nil {
		e.log.Error("order placement failed", zap.Error(err))
		e.notify(domain.TradeError{Reason: fmt.Sprintf("order placement: %v", err)})
	}
}

// computeVolume converts configured lots to volume units, rounded down to
// the instrument's step and clamped to its minimum.
func computeVolume(lots float64, info *domain.SymbolInfo) int64 {
	units := int64(lots * float64(info.LotSize))
	if info.StepVolume > 0 {
		units -= units % info.StepVolume
	}
	if units < info.MinVolume {
		units = info.MinVolume
	}
	return units
}

func wireSide(s domain.Side) string {
	if s == domain.SideLong {
		return "BUY"
	}
	return "SELL"
}

func sideFromWire(s string) domain.Side {
	if s == "BUY" {
		return domain.SideLong
	}
	return domain.SideShort
}

func (e *Engine) handleExecution(ev protocol.ExecutionEvent) {
	switch ev.ExecutionType {
	case protocol.ExecOrderFilled:
		if ev.Deal != nil && ev.Deal.CloseDetail != nil {
			e.handleClosingFill(ev)
		} else {
			e.handleOpeningFill(ev)
		}
	case protocol.ExecOrderRejected:
		e.recordRejection()
	default:
		e.log.Debug("execution event", zap.String("type", ev.ExecutionType))
	}
}

func (e *Engine) handleClosingFill(ev protocol.ExecutionEvent) {
	detail := ev.Deal.CloseDetail
	profit := domain.RealMoney(detail.GrossProfit + detail.Swap + detail.Commission)
	balance := domain.RealMoney(detail.Balance)

	rec := domain.TradeRecord{
		DealID:   ev.Deal.ID,
		Side:     sideFromWire(ev.Deal.Side),
		Profit:   profit,
		Balance:  balance,
		ClosedAt: time.UnixMilli(ev.Deal.TimestampMs),
	}

	e.mu.Lock()
	if profit >= 0 {
		e.wins++
	} else {
		e.losses++
	}
	e.history = append([]domain.TradeRecord{rec}, e.history...)
	if len(e.history) > maxHistory {
		e.history = e.history[:maxHistory]
	}
	if ev.Position != nil {
		delete(e.positions, ev.Position.ID)
	}
	e.balance = balance
	wins, losses := e.wins, e.losses
	e.mu.Unlock()

	e.log.Info("position closed",
		zap.Int64("deal_id", rec.DealID), zap.Float64("profit", profit),
		zap.Float64("balance", balance), zap.Int("wins", wins), zap.Int("losses", losses))

	e.persist(context.Background())
	e.notify(domain.TradeClosed{Record: rec, Wins: wins, Losses: losses})
	e.notify(domain.AccountUpdate{Balance: balance})
}

func (e *Engine) handleOpeningFill(ev protocol.ExecutionEvent) {
	info := e.symbols.get()

	e.mu.Lock()
	e.sess.tradeDone = true
	var br *bracket
	if e.pendingBracket != nil && ev.Position != nil {
		br = e.pendingBracket
		e.pendingBracket = nil
	}
	e.mu.Unlock()

	e.persist(context.Background())

	if ev.Position != nil {
		volume := float64(ev.Position.Volume)
		if info != nil && info.LotSize > 0 {
			volume = float64(ev.Position.Volume) / float64(info.LotSize)
		}
		e.notify(domain.TradeOpened{
			Symbol: e.symbolName,
			Side:   sideFromWire(ev.Position.Side),
			Volume: volume,
			Price:  ev.Position.EntryPrice,
		})
		e.log.Info("order filled",
			zap.Int64("position_id", ev.Position.ID),
			zap.String("side", ev.Position.Side),
			zap.Float64("entry_price", ev.Position.EntryPrice))
	}

	ctx, cancel := context.WithTimeout(context.Background(), orderTimeout)
	defer cancel()

	if br != nil {
		if err := e.broker.AmendPositionSLTP(ctx, ev.Position.ID, br.stopLoss, br.takeProfit); err != nil {
			e.log.Error("bracket attachment failed",
				zap.Int64("position_id", ev.Position.ID), zap.Error(err))
			e.notify(domain.TradeError{Reason: fmt.Sprintf("bracket attachment: %v", err)})
		} else {
			e.log.Info("bracket attached",
				zap.Int64("position_id", ev.Position.ID),
				zap.Float64("stop_loss", br.stopLoss), zap.Float64("take_profit", br.takeProfit))
		}
	}

	e.Reconcile(ctx)
}

// recordRejection applies the bounded rejection-retry rule: the first two
// rejections after a marked trade re-arm the session, the cap makes the
// third final so a structurally rejecting broker cannot cause a loop.
func (e *Engine) recordRejection() {
	e.mu.Lock()
	e.sess.failures++
	failures := e.sess.failures
	retried := false
	if e.sess.tradeDone && failures < maxOrderFailures {
		e.sess.tradeDone = false
		retried = true
	}
	e.mu.Unlock()

	e.persist(context.Background())

	if retried {
		e.log.Warn("order rejected, re-arming for retry", zap.Int("failures", failures))
		e.notify(domain.TradeError{Reason: fmt.Sprintf("order rejected (attempt %d of %d)", failures, maxOrderFailures)})
		return
	}
	e.log.Error("order rejected, retry cap reached; trading disabled for the session",
		zap.Int("failures", failures))
	e.notify(domain.TradeError{
		Reason: fmt.Sprintf("order rejected %d times, giving up for the session", failures),
		Fatal:  true,
	})
}

// Reconcile replaces the local position cache with the broker's
// authoritative list. It never mutates tradeDone: a pre-existing position
// from a prior session is not "today's trade".
func (e *Engine) Reconcile(ctx context.Context) {
	records, err := e.broker.Reconcile(ctx)
	if err != nil {
		// Keep the last-known-good cache rather than clearing it.
		e.log.Error("reconciliation failed, keeping cached positions", zap.Error(err))
		e.notify(domain.TradeError{Reason: fmt.Sprintf("reconciliation: %v", err)})
		return
	}

	info := e.symbols.get()
	fresh := make(map[int64]domain.Position, len(records))
	list := make([]domain.Position, 0, len(records))
	for _, r := range records {
		volume := float64(r.Volume)
		if info != nil && info.LotSize > 0 {
			volume = float64(r.Volume) / float64(info.LotSize)
		}
		p := domain.Position{
			ID:         r.ID,
			Symbol:     e.symbolName,
			Side:       sideFromWire(r.Side),
			EntryPrice: r.EntryPrice,
			Volume:     volume,
			OpenedAt:   time.UnixMilli(r.OpenedAtMs),
		}
		fresh[p.ID] = p
		list = append(list, p)
	}

	e.mu.Lock()
	e.positions = fresh
	e.mu.Unlock()

	e.log.Info("positions reconciled", zap.Int("count", len(list)))
	e.notify(domain.PositionsReconciled{Positions: list})
}

// DailyReset clears the per-session state, at most once per trading day
// unless forced. Returns whether state was mutated.
func (e *Engine) DailyReset(ctx context.Context, force bool) bool {
	e.mu.Lock()
	today := tradingDay(e.clock(), e.loc)
	if !force && e.sess.lastResetDate == today {
		e.mu.Unlock()
		return false
	}
	e.sess = dailySession{lastResetDate: today}
	e.pendingBracket = nil
	e.mu.Unlock()
	e.placing.Store(false)

	e.persist(ctx)
	e.log.Info("daily session reset", zap.String("date", today), zap.Bool("forced", force))
	return true
}

// PollBaseline acquires the session baseline once bar data is available
// and arms watching after the configured delay past the open.
func (e *Engine) PollBaseline(ctx context.Context) {
	now := e.clock()

	e.mu.Lock()
	cfg := e.cfg
	hasBaseline := e.sess.todayOpen != nil
	watching := e.sess.watching
	tradeDone := e.sess.tradeDone
	e.mu.Unlock()

	if tradeDone && hasBaseline {
		return
	}

	open, _ := TradingWindow(now, IsDST(now, e.loc))
	if now.Before(open.Add(time.Duration(cfg.BaselineOffsetMin) * time.Minute)) {
		return
	}

	if !hasBaseline {
		raw, ok, err := e.fetchBaseline(ctx, now)
		if err != nil {
			e.log.Error("baseline fetch failed", zap.Error(err))
			e.notify(domain.TradeError{Reason: fmt.Sprintf("baseline fetch: %v", err)})
			return
		}
		if !ok {
			e.log.Debug("baseline bar not yet available")
			return
		}
		e.mu.Lock()
		e.sess.todayOpen = &raw
		e.mu.Unlock()
		hasBaseline = true
		e.log.Info("baseline acquired", zap.Float64("price", domain.RealPrice(raw)))
	}

	if hasBaseline && !watching && !now.Before(open.Add(time.Duration(cfg.WatchAfterOpenMin)*time.Minute)) {
		e.mu.Lock()
		e.sess.watching = true
		e.mu.Unlock()
		e.log.Info("entry watching enabled")
	}
}

// UpdateConfig swaps the strategy parameters and persists before
// acknowledging.
func (e *Engine) UpdateConfig(ctx context.Context, cfg domain.StrategyConfig) error {
	e.mu.Lock()
	e.cfg = cfg
	snap := e.snapshotLocked()
	e.mu.Unlock()

	if err := e.store.SaveState(ctx, snap); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	e.log.Info("strategy config updated")
	return nil
}

func (e *Engine) Config() domain.StrategyConfig {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

func (e *Engine) snapshotLocked() *domain.Snapshot {
	history := make([]domain.TradeRecord, len(e.history))
	copy(history, e.history)
	return &domain.Snapshot{
		Wins:           e.wins,
		Losses:         e.losses,
		Balance:        e.balance,
		TodayTradeDone: e.sess.tradeDone,
		LastResetDate:  e.sess.lastResetDate,
		History:        history,
		Config:         e.cfg,
	}
}

func (e *Engine) persist(ctx context.Context) {
	e.mu.Lock()
	snap := e.snapshotLocked()
	e.mu.Unlock()
	if err := e.store.SaveState(ctx, snap); err != nil {
		e.log.Error("state persistence failed", zap.Error(err))
	}
}

// Status is the dashboard's view of the engine.
type Status struct {
	Symbol        string                `json:"symbol"`
	Baseline      *float64              `json:"baseline,omitempty"`
	Watching      bool                  `json:"watching"`
	TradeDone     bool                  `json:"trade_done"`
	Failures      int                   `json:"failures"`
	LastResetDate string                `json:"last_reset_date"`
	Wins          int                   `json:"wins"`
	Losses        int                   `json:"losses"`
	Balance       float64               `json:"balance"`
	Bid           float64               `json:"bid"`
	Ask           float64               `json:"ask"`
	Positions     []domain.Position     `json:"positions"`
	History       []domain.TradeRecord  `json:"history"`
	Config        domain.StrategyConfig `json:"config"`
}

func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := Status{
		Symbol:        e.symbolName,
		Watching:      e.sess.watching,
		TradeDone:     e.sess.tradeDone,
		Failures:      e.sess.failures,
		LastResetDate: e.sess.lastResetDate,
		Wins:          e.wins,
		Losses:        e.losses,
		Balance:       e.balance,
		Bid:           e.lastBid,
		Ask:           e.lastAsk,
		Config:        e.cfg,
	}
	if e.sess.todayOpen != nil {
		b := domain.RealPrice(*e.sess.todayOpen)
		st.Baseline = &b
	}
	st.Positions = make([]domain.Position, 0, len(e.positions))
	for _, p := range e.positions {
		st.Positions = append(st.Positions, p)
	}
	st.History = make([]domain.TradeRecord, len(e.history))
	copy(st.History, e.history)
	return st
}
