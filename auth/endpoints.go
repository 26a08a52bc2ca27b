package auth

import (
	"math/rand"
	"sync"
)

// defaultEndpoints are the interchangeable API base URLs. The orchestrator
// spreads calls across them and avoids reusing the endpoint that just failed.
var defaultEndpoints = []string{
	"https://api2.axiom.trade",
	"https://api3.axiom.trade",
	"https://api6.axiom.trade",
	"https://api7.axiom.trade",
	"https://api8.axiom.trade",
	"https://api9.axiom.trade",
	"https://api10.axiom.trade",
}

// endpointPool hands out base URLs at random, excluding the last one used
// when more than one is available.
type endpointPool struct {
	mu        sync.Mutex
	endpoints []string
	last      string
}

func newEndpointPool(endpoints []string) *endpointPool {
	if len(endpoints) == 0 {
		endpoints = defaultEndpoints
	}
	return &endpointPool{endpoints: append([]string(nil), endpoints...)}
}

// Next returns the base URL for the next call.
func (p *endpointPool) Next() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	candidates := p.endpoints
	if p.last != "" && len(p.endpoints) > 1 {
		candidates = make([]string, 0, len(p.endpoints)-1)
		for _, e := range p.endpoints {
			if e != p.last {
				candidates = append(candidates, e)
			}
		}
	}

	endpoint := candidates[rand.Intn(len(candidates))]
	p.last = endpoint
	return endpoint
}

// Last reports the most recently selected base URL.
func (p *endpointPool) Last() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}
