package notify

import (
	"go.uber.org/zap"

	"github.com/maxvit/ctrader_meanrev/internal/domain"
)

// LogSink writes every engine event to the structured log.
type LogSink struct {
	log *zap.Logger
}

func NewLogSink(log *zap.Logger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Notify(ev domain.Event) {
	switch e := ev.(type) {
	case domain.TradeOpened:
		s.log.Info("notify: trade opened",
			zap.String("symbol", e.Symbol), zap.String("side", string(e.Side)),
			zap.Float64("volume", e.Volume), zap.Float64("price", e.Price))
	case domain.TradeClosed:
		s.log.Info("notify: trade closed",
			zap.Int64("deal_id", e.Record.DealID), zap.Float64("profit", e.Record.Profit),
			zap.Int("wins", e.Wins), zap.Int("losses", e.Losses))
	case domain.TradeError:
		if e.Fatal {
			s.log.Error("notify: trade error", zap.String("reason", e.Reason), zap.Bool("fatal", true))
		} else {
			s.log.Warn("notify: trade error", zap.String("reason", e.Reason))
		}
	case domain.PositionsReconciled:
		s.log.Info("notify: positions reconciled", zap.Int("count", len(e.Positions)))
	case domain.AccountUpdate:
		s.log.Info("notify: account update", zap.Float64("balance", e.Balance))
	case domain.PriceUpdate:
		// Quote ticks are too chatty for info level.
		s.log.Debug("notify: price update",
			zap.String("symbol", e.Symbol), zap.Float64("bid", e.Bid), zap.Float64("ask", e.Ask))
	}
}

// Fanout delivers each event to every registered sink in order.
type Fanout []domain.NotificationSink

func (f Fanout) Notify(ev domain.Event) {
	for _, s := range f {
		s.Notify(ev)
	}
}

// AsyncSink decouples delivery from the engine's event handlers: Notify
// never blocks, and events are dropped when the buffer is full.
type AsyncSink struct {
	next domain.NotificationSink
	ch   chan domain.Event
	done chan struct{}
}

func NewAsyncSink(next domain.NotificationSink, buffer int) *AsyncSink {
	if buffer <= 0 {
		buffer = 256
	}
	s := &AsyncSink{
		next: next,
		ch:   make(chan domain.Event, buffer),
		done: make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *AsyncSink) run() {
	for ev := range s.ch {
		s.next.Notify(ev)
	}
	close(s.done)
}

func (s *AsyncSink) Notify(ev domain.Event) {
	select {
	case s.ch <- ev:
	default:
	}
}

// Close stops the delivery goroutine after draining buffered events.
func (s *AsyncSink) Close() {
	close(s.ch)
	<-s.done
}
