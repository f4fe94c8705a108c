package resilience

import (
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// DefaultIdle is how long a Group keeps a breaker nobody used.
const DefaultIdle = 10 * time.Minute

// Group hands out one breaker per key.
type Group struct {
	settings Settings
	breakers *ttlcache.Cache[string, *Breaker]
	stopOnce sync.Once
}

// NewGroup creates a group whose breakers share settings. Breakers unused
// for DefaultIdle are dropped, which also resets their state.
func NewGroup(settings Settings) *Group {
	g := &Group{
		settings: settings,
		breakers: ttlcache.New[string, *Breaker](
			ttlcache.WithTTL[string, *Breaker](DefaultIdle),
		),
	}
	go g.breakers.Start()
	return g
}

// Get returns the breaker for key, creating it on first use.
func (g *Group) Get(key string) *Breaker {
	item, _ := g.breakers.GetOrSet(key, New(key, g.settings))
	return item.Value()
}

// Len returns the number of tracked keys.
func (g *Group) Len() int {
	return g.breakers.Len()
}

// Stop ends the expiry loop. Later calls do nothing.
func (g *Group) Stop() {
	g.stopOnce.Do(g.breakers.Stop)
}
