package segmented

import "sync"

// Pause is a bistable condition, either output is paused (filtering) or resumed.
type Pause struct {
	mu      sync.Mutex
	paused  bool
	resumed chan struct{}
}

func NewPause() *Pause {
	resumed := make(chan struct{})
	close(resumed)

	return &Pause{
		resumed: resumed,
	}
}

// Pause returns true if the state changed.
func (p *Pause) Pause() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.paused {
		return false
	}

	p.paused = true
	p.resumed = make(chan struct{})
	return true
}

// Resume returns true if the state changed.
func (p *Pause) Resume() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.paused {
		return false
	}

	p.paused = false
	close(p.resumed)
	return true
}

func (p *Pause) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

// Resumed returns a channel that is closed once output is not paused.
func (p *Pause) Resumed() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resumed
}
