package chat

import (
	"sync"
	"time"
)

const DefaultSuggestionInterval = 10 * time.Second

// SuggestionCycler rotates through the latest suggestions on a fixed
// interval. Setting a new list restarts the rotation at its first item.
type SuggestionCycler struct {
	interval  time.Duration
	onChange  func(items []string, current string)
	newTicker func(time.Duration) (<-chan time.Time, func())

	mu    sync.Mutex
	items []string
	index int
	gen   uint64
	stop  chan struct{}
	done  chan struct{}
}

// NewSuggestionCycler calls onChange with the full list and the item now
// shown whenever either changes. onChange runs without locks held.
func NewSuggestionCycler(interval time.Duration, onChange func(items []string, current string)) *SuggestionCycler {
	if interval <= 0 {
		interval = DefaultSuggestionInterval
	}
	return &SuggestionCycler{
		interval: interval,
		onChange: onChange,
		newTicker: func(d time.Duration) (<-chan time.Time, func()) {
			t := time.NewTicker(d)
			return t.C, t.Stop
		},
	}
}

func (c *SuggestionCycler) Set(items []string) {
	items = append([]string(nil), items...)
	c.mu.Lock()
	c.halt()
	c.items = items
	c.index = 0
	c.gen++
	if len(items) > 0 {
		c.stop = make(chan struct{})
		c.done = make(chan struct{})
		ticks, stopTicker := c.newTicker(c.interval)
		go c.loop(c.gen, ticks, stopTicker, c.stop, c.done)
	}
	c.mu.Unlock()
	c.emit()
}

func (c *SuggestionCycler) loop(gen uint64, ticks <-chan time.Time, stopTicker func(), stop, done chan struct{}) {
	defer close(done)
	defer stopTicker()
	for {
		select {
		case <-stop:
			return
		case <-ticks:
			c.step(gen, 1)
		}
	}
}

// Next moves to the following suggestion, wrapping around.
func (c *SuggestionCycler) Next() { c.step(0, 1) }

// Previous moves to the preceding suggestion, wrapping around.
func (c *SuggestionCycler) Previous() { c.step(0, -1) }

// step moves by delta. A non-zero gen is a tick from the rotation loop and
// is ignored once the list has been replaced.
func (c *SuggestionCycler) step(gen uint64, delta int) {
	c.mu.Lock()
	n := len(c.items)
	if n == 0 || (gen != 0 && gen != c.gen) {
		c.mu.Unlock()
		return
	}
	c.index = ((c.index+delta)%n + n) % n
	c.mu.Unlock()
	c.emit()
}

func (c *SuggestionCycler) Current() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.items) == 0 {
		return ""
	}
	return c.items[c.index]
}

func (c *SuggestionCycler) Items() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.items...)
}

// Stop ends the rotation. The current list is kept.
func (c *SuggestionCycler) Stop() {
	c.mu.Lock()
	done := c.done
	c.halt()
	c.mu.Unlock()
	if done != nil {
		<-done
	}
}

// halt signals the running loop. Callers hold mu.
func (c *SuggestionCycler) halt() {
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
		c.done = nil
	}
}

func (c *SuggestionCycler) emit() {
	if c.onChange == nil {
		return
	}
	c.mu.Lock()
	items := append([]string(nil), c.items...)
	current := ""
	if len(items) > 0 {
		current = items[c.index]
	}
	c.mu.Unlock()
	c.onChange(items, current)
}
