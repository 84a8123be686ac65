package engine

import (
	"strings"
	"sync"
	"time"

	"github.com/maxvit/ctrader_meanrev/internal/domain"
	"github.com/maxvit/ctrader_meanrev/internal/protocol"
)

const symbolCacheTTL = 12 * time.Hour

// symbolCache holds the instrument metadata for the process lifetime,
// bounded by a TTL so schedule changes are eventually picked up.
type symbolCache struct {
	mu   sync.Mutex
	info *domain.SymbolInfo
}

func (c *symbolCache) get() *domain.SymbolInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.info == nil || time.Since(c.info.FetchedAt) > symbolCacheTTL {
		return nil
	}
	return c.info
}

func (c *symbolCache) set(info *domain.SymbolInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	info.FetchedAt = time.Now()
	c.info = info
}

func normalizeSymbol(s string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(s) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// matchSymbol finds the requested symbol in the broker's candidate list:
// exact name first, then normalized equality, then normalized prefix.
func matchSymbol(refs []protocol.SymbolRef, want string) (protocol.SymbolRef, bool) {
	for _, r := range refs {
		if r.Name == want {
			return r, true
		}
	}
	norm := normalizeSymbol(want)
	for _, r := range refs {
		if normalizeSymbol(r.Name) == norm {
			return r, true
		}
	}
	for _, r := range refs {
		if strings.HasPrefix(normalizeSymbol(r.Name), norm) {
			return r, true
		}
	}
	return protocol.SymbolRef{}, false
}
