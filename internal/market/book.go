// Package market provides the local order book mirror.
//
// Book mirrors the StandX depth stream for a single perpetual symbol. It is
// updated from full snapshots delivered on the depth_book channel
// (ApplySnapshot) and from incremental per-level updates (ApplyDelta). The
// Book is concurrency-safe (RWMutex protected) and provides derived values
// like Mid and SpreadBps for the quoting layer.
package market

import (
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/cyberatlas-baseeth/makerbot/pkg/types"
)

// Book maintains a local mirror of the depth book for one symbol. Levels are
// keyed by price; a zero size removes the level. Frames tagged with a symbol
// other than the active one are dropped, which keeps a stream that races a
// symbol switch from polluting the new book.
type Book struct {
	mu      sync.RWMutex
	symbol  string
	bids    map[float64]float64
	asks    map[float64]float64
	updated time.Time
}

// NewBook creates an empty local book for a symbol.
func NewBook(symbol string) *Book {
	return &Book{
		symbol: symbol,
		bids:   make(map[float64]float64),
		asks:   make(map[float64]float64),
	}
}

// Symbol returns the symbol this book currently mirrors.
func (b *Book) Symbol() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.symbol
}

// ApplySnapshot replaces both sides of the book with a full depth frame.
// Levels arrive as string-encoded [price, size] pairs; unparseable pairs are
// skipped. Frames for a different symbol are ignored.
func (b *Book) ApplySnapshot(data types.WSDepthData) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if data.Symbol != "" && data.Symbol != b.symbol {
		return
	}

	b.bids = parseLevels(data.Bids)
	b.asks = parseLevels(data.Asks)
	b.updated = time.Now()
}

// ApplyDelta updates a single price level. Size zero deletes the level.
// Unknown prices with zero size are a no-op.
func (b *Book) ApplyDelta(side types.Side, price, size float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	levels := b.bids
	if side == types.Sell {
		levels = b.asks
	}
	if size == 0 {
		delete(levels, price)
	} else {
		levels[price] = size
	}
	b.updated = time.Now()
}

// Reset clears both sides and rebinds the book to a new symbol. Called from
// the symbol-switch barrier before the feed resubscribes.
func (b *Book) Reset(symbol string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.symbol = symbol
	b.bids = make(map[float64]float64)
	b.asks = make(map[float64]float64)
	b.updated = time.Time{}
}

// BestBid returns the highest bid price. ok is false when the side is empty.
func (b *Book) BestBid() (float64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return bestOf(b.bids, func(p, best float64) bool { return p > best })
}

// BestAsk returns the lowest ask price. ok is false when the side is empty.
func (b *Book) BestAsk() (float64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return bestOf(b.asks, func(p, best float64) bool { return p < best })
}

// Mid returns (bestBid + bestAsk) / 2. ok is false when either side is empty
// or the book is crossed (bid >= ask); a crossed mirror means the feed is in
// an inconsistent intermediate state and must not drive quoting.
func (b *Book) Mid() (float64, bool) {
	bid, okB := b.BestBid()
	ask, okA := b.BestAsk()
	if !okB || !okA || bid >= ask {
		return 0, false
	}
	return (bid + ask) / 2, true
}

// SpreadBps returns the current market spread in basis points of mid.
func (b *Book) SpreadBps() (float64, bool) {
	bid, okB := b.BestBid()
	ask, okA := b.BestAsk()
	if !okB || !okA || bid >= ask {
		return 0, false
	}
	mid := (bid + ask) / 2
	return (ask - bid) / mid * 10000.0, true
}

// TopLevels returns up to depth levels per side, bids descending and asks
// ascending, for the dashboard snapshot.
func (b *Book) TopLevels(depth int) (bids, asks []types.PriceLevel) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	bids = sortedLevels(b.bids, b.updated, true)
	asks = sortedLevels(b.asks, b.updated, false)
	if len(bids) > depth {
		bids = bids[:depth]
	}
	if len(asks) > depth {
		asks = asks[:depth]
	}
	return bids, asks
}

// IsStale reports whether no depth data has arrived within maxAge. A book
// that has never been updated is stale.
func (b *Book) IsStale(maxAge time.Duration) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.updated.IsZero() {
		return true
	}
	return time.Since(b.updated) > maxAge
}

// LastUpdate returns the timestamp of the last applied frame.
func (b *Book) LastUpdate() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.updated
}

func parseLevels(pairs [][]string) map[float64]float64 {
	out := make(map[float64]float64, len(pairs))
	for _, pair := range pairs {
		if len(pair) < 2 {
			continue
		}
		price, err := strconv.ParseFloat(pair[0], 64)
		if err != nil {
			continue
		}
		size, err := strconv.ParseFloat(pair[1], 64)
		if err != nil || size <= 0 {
			continue
		}
		out[price] = size
	}
	return out
}

func bestOf(levels map[float64]float64, better func(p, best float64) bool) (float64, bool) {
	if len(levels) == 0 {
		return 0, false
	}
	var best float64
	first := true
	for p := range levels {
		if first || better(p, best) {
			best = p
			first = false
		}
	}
	return best, true
}

func sortedLevels(levels map[float64]float64, ts time.Time, desc bool) []types.PriceLevel {
	out := make([]types.PriceLevel, 0, len(levels))
	for p, s := range levels {
		out = append(out, types.PriceLevel{Price: p, Size: s, Timestamp: ts})
	}
	sort.Slice(out, func(i, j int) bool {
		if desc {
			return out[i].Price > out[j].Price
		}
		return out[i].Price < out[j].Price
	})
	return out
}
