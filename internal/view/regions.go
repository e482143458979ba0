package view

import "context"

// Region is an independently refreshed part of the page. Requests in the same
// region supersede each other; requests in different regions do not.
type Region int

const (
	RegionTable Region = iota
	RegionPlatforms
	RegionPlatformTypes
	RegionPlatformData
	RegionImport
	RegionCrates
	RegionCrateView
	RegionSimulation
	RegionExport
	RegionUpload
	regionCount
)

var regionNames = [regionCount]string{
	"table", "platforms", "platform_types", "platform_data", "import",
	"crates", "crate_view", "simulation", "export", "upload",
}

func (r Region) String() string {
	if r < 0 || r >= regionCount {
		return "unknown"
	}
	return regionNames[r]
}

type regionSlot struct {
	gen    uint64
	cancel context.CancelFunc
}

type token struct {
	region Region
	gen    uint64
}

// begin starts a request in region r. The previous in-flight request of the
// region is cancelled and can no longer commit. The returned release func
// must be called when the request finishes.
func (c *Controller) begin(ctx context.Context, r Region) (context.Context, token, func()) {
	rctx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	slot := &c.regions[r]
	if slot.cancel != nil {
		slot.cancel()
	}
	slot.gen++
	slot.cancel = cancel
	tok := token{region: r, gen: slot.gen}
	if c.closed {
		cancel()
	}
	c.mu.Unlock()

	release := func() {
		c.mu.Lock()
		if s := &c.regions[r]; s.gen == tok.gen {
			s.cancel = nil
		}
		c.mu.Unlock()
		cancel()
	}
	return rctx, tok, release
}

// invalidateLocked supersedes whatever is in flight in r. c.mu must be held.
func (c *Controller) invalidateLocked(r Region) {
	slot := &c.regions[r]
	if slot.cancel != nil {
		slot.cancel()
		slot.cancel = nil
	}
	slot.gen++
}

func (c *Controller) currentLocked(tok token) bool {
	return !c.closed && c.regions[tok.region].gen == tok.gen
}

// commit applies fn to the state if tok is still the newest request of its
// region. It reports whether fn ran.
func (c *Controller) commit(tok token, fn func(*State)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.currentLocked(tok) {
		return false
	}
	fn(&c.state)
	c.bumpLocked()
	return true
}

// update applies fn unconditionally. Used for local-only changes.
func (c *Controller) update(fn func(*State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.state)
	c.bumpLocked()
}
