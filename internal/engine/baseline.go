package engine

import (
	"context"
	"fmt"
	"time"
)

// fetchBaseline resolves the session's opening reference price from
// one-minute bars anchored BaselineOffsetMin after the seasonally
// adjusted open. Absence of the exact-minute bar means the bar is not
// published yet; callers poll again later.
func (e *Engine) fetchBaseline(ctx context.Context, now time.Time) (int64, bool, error) {
	info := e.symbols.get()
	if info == nil {
		return 0, false, fmt.Errorf("baseline: symbol metadata not loaded")
	}

	e.mu.Lock()
	offsetMin := e.cfg.BaselineOffsetMin
	e.mu.Unlock()

	open, _ := TradingWindow(now, IsDST(now, e.loc))
	target := open.Add(time.Duration(offsetMin) * time.Minute).Truncate(time.Minute)

	// Small window around the target minute; broker bar feeds can lag or
	// include neighbours.
	from := target.Add(-2 * time.Minute)
	to := target.Add(3 * time.Minute)

	bars, err := e.broker.Trendbars(ctx, info.ID, "M1", from.UnixMilli(), to.UnixMilli())
	if err != nil {
		return 0, false, fmt.Errorf("baseline: %w", err)
	}

	targetMin := target.Unix() / 60
	for _, b := range bars {
		if b.TimestampMin == targetMin {
			// Bar opens are encoded as an offset from the low.
			return b.Low + b.DeltaOpen, true, nil
		}
	}
	return 0, false, nil
}
