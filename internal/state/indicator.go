package state

import (
	"sync"
	"time"
)

// Indicator is the transient "copied" flag of one tab. Trigger sets it and
// arms a timer that clears it after the reset window; a Trigger while set
// restarts the window.
type Indicator struct {
	mu       sync.Mutex
	window   time.Duration
	copied   bool
	timer    *time.Timer
	gen      uint64
	onChange func(copied bool)
}

func NewIndicator(window time.Duration, onChange func(copied bool)) *Indicator {
	return &Indicator{window: window, onChange: onChange}
}

func (i *Indicator) Window() time.Duration { return i.window }

func (i *Indicator) Copied() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.copied
}

func (i *Indicator) Trigger() {
	i.mu.Lock()
	wasCopied := i.copied
	i.copied = true
	i.gen++
	gen := i.gen
	if i.timer != nil {
		i.timer.Stop()
	}
	i.timer = time.AfterFunc(i.window, func() { i.expire(gen) })
	i.mu.Unlock()

	if !wasCopied && i.onChange != nil {
		i.onChange(true)
	}
}

func (i *Indicator) expire(gen uint64) {
	i.mu.Lock()
	// a newer Trigger owns the flag now
	if gen != i.gen || !i.copied {
		i.mu.Unlock()
		return
	}
	i.copied = false
	i.timer = nil
	i.mu.Unlock()

	if i.onChange != nil {
		i.onChange(false)
	}
}

// Stop cancels a pending reset without notifying.
func (i *Indicator) Stop() {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.timer != nil {
		i.timer.Stop()
		i.timer = nil
	}
	i.gen++
	i.copied = false
}
