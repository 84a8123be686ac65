package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maxvit/ctrader_meanrev/internal/domain"
)

func TestTradingWindow(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		now       time.Time
		isDST     bool
		wantOpen  time.Time
		wantClose time.Time
	}{
		{
			name:      "standard time",
			now:       time.Date(2026, 1, 15, 18, 0, 0, 0, time.UTC),
			isDST:     false,
			wantOpen:  time.Date(2026, 1, 15, 14, 30, 0, 0, time.UTC),
			wantClose: time.Date(2026, 1, 15, 21, 0, 0, 0, time.UTC),
		},
		{
			name:      "daylight saving shifts the open an hour earlier",
			now:       time.Date(2026, 7, 15, 18, 0, 0, 0, time.UTC),
			isDST:     true,
			wantOpen:  time.Date(2026, 7, 15, 13, 30, 0, 0, time.UTC),
			wantClose: time.Date(2026, 7, 15, 20, 0, 0, 0, time.UTC),
		},
		{
			name:      "non-UTC input is normalized",
			now:       time.Date(2026, 1, 15, 9, 0, 0, 0, time.FixedZone("EST", -5*3600)),
			isDST:     false,
			wantOpen:  time.Date(2026, 1, 15, 14, 30, 0, 0, time.UTC),
			wantClose: time.Date(2026, 1, 15, 21, 0, 0, 0, time.UTC),
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			open, close := TradingWindow(tt.now, tt.isDST)
			assert.True(t, open.Equal(tt.wantOpen), "open %v", open)
			assert.True(t, close.Equal(tt.wantClose), "close %v", close)
		})
	}
}

func TestIsDST(t *testing.T) {
	t.Parallel()

	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	assert.False(t, IsDST(time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC), ny))
	assert.True(t, IsDST(time.Date(2026, 7, 15, 12, 0, 0, 0, time.UTC), ny))
	assert.False(t, IsDST(time.Date(2026, 7, 15, 12, 0, 0, 0, time.UTC), time.UTC))
}

func TestWeekSecond(t *testing.T) {
	t.Parallel()

	// Week starts Sunday 00:00 UTC.
	sunday := time.Date(2026, 8, 23, 0, 0, 0, 0, time.UTC)
	assert.Zero(t, weekSecond(sunday))

	friday := time.Date(2026, 8, 28, 16, 0, 30, 0, time.UTC)
	assert.Equal(t, 5*86400+16*3600+30, weekSecond(friday))
}

func TestWithinSchedule(t *testing.T) {
	t.Parallel()

	// Friday 2026-08-28 16:00 UTC -> week second 5*86400 + 57600.
	now := time.Date(2026, 8, 28, 16, 0, 0, 0, time.UTC)
	fridaySession := domain.WeekInterval{StartSec: 5*86400 + 14*3600, EndSec: 5*86400 + 21*3600}
	mondaySession := domain.WeekInterval{StartSec: 1 * 86400, EndSec: 2 * 86400}

	tests := []struct {
		name string
		info domain.SymbolInfo
		want bool
	}{
		{"empty schedule always open", domain.SymbolInfo{}, true},
		{"inside interval", domain.SymbolInfo{Schedule: []domain.WeekInterval{fridaySession}}, true},
		{"outside every interval", domain.SymbolInfo{Schedule: []domain.WeekInterval{mondaySession}}, false},
		{
			"full-day holiday closes an otherwise open market",
			domain.SymbolInfo{
				Schedule: []domain.WeekInterval{fridaySession},
				Holidays: []domain.Holiday{{Date: "2026-08-28"}},
			},
			false,
		},
		{
			"intraday holiday range closes only that window",
			domain.SymbolInfo{
				Schedule: []domain.WeekInterval{fridaySession},
				Holidays: []domain.Holiday{{Date: "2026-08-28", StartSec: 15 * 3600, EndSec: 17 * 3600}},
			},
			false,
		},
		{
			"intraday holiday elsewhere in the day has no effect",
			domain.SymbolInfo{
				Schedule: []domain.WeekInterval{fridaySession},
				Holidays: []domain.Holiday{{Date: "2026-08-28", StartSec: 18 * 3600, EndSec: 20 * 3600}},
			},
			true,
		},
		{
			"non-recurring holiday from another year is ignored",
			domain.SymbolInfo{
				Schedule: []domain.WeekInterval{fridaySession},
				Holidays: []domain.Holiday{{Date: "2025-08-28"}},
			},
			true,
		},
		{
			"recurring holiday matches by month and day",
			domain.SymbolInfo{
				Schedule: []domain.WeekInterval{fridaySession},
				Holidays: []domain.Holiday{{Date: "2020-08-28", Recurring: true}},
			},
			false,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, WithinSchedule(&tt.info, now))
		})
	}
}

func TestTradingDay(t *testing.T) {
	t.Parallel()

	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	// 01:00 UTC is still the previous calendar day in New York.
	now := time.Date(2026, 8, 29, 1, 0, 0, 0, time.UTC)
	assert.Equal(t, "2026-08-28", tradingDay(now, ny))
	assert.Equal(t, "2026-08-29", tradingDay(now, time.UTC))
}
