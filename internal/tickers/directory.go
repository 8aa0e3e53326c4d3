// Package tickers keeps the market directory bots choose symbols from.
package tickers

import (
	"context"
	"errors"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/0x-ximon/portman/bots/internal/models"
)

// ErrNoOpenTickers is returned by PickSymbol when no market is OPEN, including
// before the first successful Refresh.
var ErrNoOpenTickers = errors.New("tickers: no open tickers")

// Lister fetches the full ticker list.
type Lister interface {
	ListTickers(ctx context.Context) ([]models.Ticker, error)
}

// Directory caches the ticker list and hands out OPEN symbols at random.
// It is safe for concurrent use.
type Directory struct {
	lister Lister

	mu      sync.RWMutex
	tickers map[string]models.Ticker
	open    []string

	rndMu sync.Mutex
	rnd   *rand.Rand
}

func NewDirectory(lister Lister) *Directory {
	return NewDirectoryWithSeed(lister, time.Now().UnixNano())
}

// NewDirectoryWithSeed fixes the random source so symbol choice is
// reproducible.
func NewDirectoryWithSeed(lister Lister, seed int64) *Directory {
	return &Directory{
		lister:  lister,
		tickers: map[string]models.Ticker{},
		rnd:     rand.New(rand.NewSource(seed)),
	}
}

// Refresh replaces the cached list. On error the previous list is kept.
func (d *Directory) Refresh(ctx context.Context) error {
	list, err := d.lister.ListTickers(ctx)
	if err != nil {
		return err
	}

	byName := make(map[string]models.Ticker, len(list))
	open := make([]string, 0, len(list))
	for _, t := range list {
		byName[t.Symbol] = t
		if t.Status == models.TickerStatusOpen {
			open = append(open, t.Symbol)
		}
	}
	sort.Strings(open)

	d.mu.Lock()
	d.tickers = byName
	d.open = open
	d.mu.Unlock()
	return nil
}

// Len returns the number of cached tickers.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.tickers)
}

// Open returns the OPEN symbols in lexical order.
func (d *Directory) Open() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]string(nil), d.open...)
}

func (d *Directory) Lookup(symbol string) (models.Ticker, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	t, ok := d.tickers[symbol]
	return t, ok
}

func (d *Directory) PickSymbol() (string, error) {
	d.mu.RLock()
	n := len(d.open)
	if n == 0 {
		d.mu.RUnlock()
		return "", ErrNoOpenTickers
	}
	open := d.open
	d.mu.RUnlock()

	d.rndMu.Lock()
	i := d.rnd.Intn(n)
	d.rndMu.Unlock()
	return open[i], nil
}
