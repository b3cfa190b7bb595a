// Package memory estimates heap headroom and frees cached images when it runs low.
package memory

import (
	"runtime"
	"runtime/debug"
	"sync"

	"pixsqueeze/internal/metrics"

	"github.com/sirupsen/logrus"
)

// DefaultFloor is the headroom below which a pre-emptive free is considered.
const DefaultFloor = 100 * 1024 * 1024

// HeapProbe reports heap usage. Limit returns 0 when no limit is known.
type HeapProbe interface {
	Used() int64
	Limit() int64
}

// Releaser drops cached data on request.
type Releaser interface {
	Release()
}

// ReleaserFunc adapts a function to Releaser.
type ReleaserFunc func()

// Release calls f.
func (f ReleaserFunc) Release() { f() }

// RuntimeProbe reads the Go runtime heap against GOMEMLIMIT.
type RuntimeProbe struct{}

// Used returns the bytes of allocated heap objects.
func (RuntimeProbe) Used() int64 {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	return int64(stats.Alloc)
}

// Limit returns GOMEMLIMIT, or 0 when it is unset.
func (RuntimeProbe) Limit() int64 {
	if limit := debug.SetMemoryLimit(-1); limit > 0 && limit < 1<<62 {
		return limit
	}
	return 0
}

// Config holds memory guard configuration.
type Config struct {
	// FloorBytes is the headroom threshold for pre-emptive frees.
	FloorBytes int64
	// ForceGC runs a collection and returns memory to the OS after releasing caches.
	ForceGC bool
}

// DefaultConfig returns the default guard configuration.
func DefaultConfig() Config {
	return Config{
		FloorBytes: DefaultFloor,
		ForceGC:    true,
	}
}

// Guard decides when to free memory and does so.
type Guard struct {
	config Config
	probe  HeapProbe
	logger *logrus.Logger

	mu        sync.Mutex
	releasers []Releaser
}

// NewGuard returns a guard using probe. A nil probe selects RuntimeProbe.
func NewGuard(config Config, probe HeapProbe, logger *logrus.Logger) *Guard {
	if probe == nil {
		probe = RuntimeProbe{}
	}
	if config.FloorBytes <= 0 {
		config.FloorBytes = DefaultFloor
	}
	return &Guard{
		config: config,
		probe:  probe,
		logger: logger,
	}
}

// Register adds r to the set released by FreeMemory.
func (g *Guard) Register(r Releaser) {
	if r == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.releasers = append(g.releasers, r)
}

// EstimateAvailable returns the estimated heap headroom.
// ok is false when the probe has no limit to measure against.
func (g *Guard) EstimateAvailable() (available int64, ok bool) {
	limit := g.probe.Limit()
	if limit <= 0 {
		metrics.MemoryAvailableBytes.Set(-1)
		return 0, false
	}
	available = limit - g.probe.Used()
	if available < 0 {
		available = 0
	}
	metrics.MemoryAvailableBytes.Set(float64(available))
	return available, true
}

// ShouldPreemptivelyFree reports whether headroom is known, below need and below the floor.
func (g *Guard) ShouldPreemptivelyFree(need int64) bool {
	available, ok := g.EstimateAvailable()
	if !ok {
		return false
	}
	return available < need && available < g.config.FloorBytes
}

// FreeMemory releases every registered cache, then optionally collects garbage.
// It is safe to call repeatedly.
func (g *Guard) FreeMemory() {
	g.mu.Lock()
	releasers := make([]Releaser, len(g.releasers))
	copy(releasers, g.releasers)
	g.mu.Unlock()

	for _, r := range releasers {
		r.Release()
	}

	if g.config.ForceGC {
		runtime.GC()
		debug.FreeOSMemory()
	}

	metrics.MemoryFreesTotal.Inc()
	if g.logger != nil {
		g.logger.WithField("releasers", len(releasers)).Debug("Freed cached images")
	}
}

// Mitigate frees memory when ShouldPreemptivelyFree(need) holds.
// It returns true when a free ran, so callers can surface a warning.
func (g *Guard) Mitigate(need int64) bool {
	if !g.ShouldPreemptivelyFree(need) {
		return false
	}
	if g.logger != nil {
		g.logger.WithField("need", need).Warn("High memory usage detected, clearing caches")
	}
	g.FreeMemory()
	return true
}
