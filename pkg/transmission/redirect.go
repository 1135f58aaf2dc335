package transmission

import "sync"

// redirectCache remembers 308 permanent-redirect targets per original
// endpoint, with a bounded number of follows so a misbehaving server cannot
// bounce transmissions forever.
type redirectCache struct {
	mu      sync.Mutex
	targets map[string]string
	follows map[string]int
	max     int
}

func newRedirectCache(maxFollows int) *redirectCache {
	if maxFollows <= 0 {
		maxFollows = 10
	}
	return &redirectCache{
		targets: make(map[string]string),
		follows: make(map[string]int),
		max:     maxFollows,
	}
}

// Resolve returns the cached target for an endpoint, or the endpoint itself.
func (c *redirectCache) Resolve(endpoint string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if target, ok := c.targets[endpoint]; ok {
		return target
	}
	return endpoint
}

// Store records a redirect target for an endpoint. It reports false once
// the follow budget for that endpoint is exhausted.
func (c *redirectCache) Store(endpoint, target string) bool {
	if target == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.follows[endpoint] >= c.max {
		return false
	}
	c.follows[endpoint]++
	c.targets[endpoint] = target
	return true
}
