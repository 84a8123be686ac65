package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maxvit/ctrader_meanrev/internal/protocol"
)

func TestNormalizeSymbol(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "JP225", normalizeSymbol("jp225"))
	assert.Equal(t, "JP225CASH", normalizeSymbol("JP225.cash"))
	assert.Equal(t, "US30", normalizeSymbol("US 30"))
}

func TestMatchSymbol(t *testing.T) {
	t.Parallel()

	refs := []protocol.SymbolRef{
		{ID: 1, Name: "EURUSD"},
		{ID: 2, Name: "JP225.cash"},
		{ID: 3, Name: "JP225"},
	}

	t.Run("exact name wins over prefix", func(t *testing.T) {
		t.Parallel()
		ref, ok := matchSymbol(refs, "JP225")
		require.True(t, ok)
		assert.Equal(t, int64(3), ref.ID)
	})

	t.Run("normalized equality", func(t *testing.T) {
		t.Parallel()
		ref, ok := matchSymbol(refs, "eur usd")
		require.True(t, ok)
		assert.Equal(t, int64(1), ref.ID)
	})

	t.Run("normalized prefix fallback", func(t *testing.T) {
		t.Parallel()
		ref, ok := matchSymbol([]protocol.SymbolRef{{ID: 2, Name: "JP225.cash"}}, "jp225")
		require.True(t, ok)
		assert.Equal(t, int64(2), ref.ID)
	})

	t.Run("not offered", func(t *testing.T) {
		t.Parallel()
		_, ok := matchSymbol(refs, "XAUUSD")
		assert.False(t, ok)
	})
}
