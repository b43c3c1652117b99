package permission

import (
	"context"
	"sync"
)

// StaticPlatform is a Platform with a fixed API level and a granted set that
// only changes through OnRequest. It backs hosts where access is decided by
// system policy rather than an interactive prompt.
type StaticPlatform struct {
	Level int

	// OnRequest, when set, decides which of the requested capabilities the
	// user grants. Nil grants nothing.
	OnRequest func(caps []Capability) []Capability

	mu      sync.Mutex
	granted map[Capability]bool
	prompts int
}

// NewStaticPlatform returns a StaticPlatform holding granted.
func NewStaticPlatform(level int, granted ...Capability) *StaticPlatform {
	p := &StaticPlatform{Level: level, granted: make(map[Capability]bool)}
	for _, c := range granted {
		p.granted[c] = true
	}
	return p
}

func (p *StaticPlatform) APILevel() int { return p.Level }

func (p *StaticPlatform) Granted(c Capability) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.granted[c]
}

func (p *StaticPlatform) Request(ctx context.Context, caps []Capability) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	p.prompts++
	decide := p.OnRequest
	p.mu.Unlock()

	if decide == nil {
		return nil
	}
	for _, c := range decide(caps) {
		p.Grant(c)
	}
	return nil
}

// Grant adds c to the granted set.
func (p *StaticPlatform) Grant(c Capability) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.granted == nil {
		p.granted = make(map[Capability]bool)
	}
	p.granted[c] = true
}

// Revoke removes c from the granted set.
func (p *StaticPlatform) Revoke(c Capability) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.granted, c)
}

// Prompts returns how many times Request was called.
func (p *StaticPlatform) Prompts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.prompts
}
