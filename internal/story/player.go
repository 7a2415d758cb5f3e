package story

import (
	"fmt"
	"sync"
	"time"

	"example.com/socialstream/internal/models"
)

// Playback cadence: +2 progress every 100ms, so a story runs ~5 seconds.
const (
	progressDone        = 100
	progressStep        = 2
	defaultTickInterval = 100 * time.Millisecond
)

// PlayerState is a snapshot of the client-local playback machine.
type PlayerState struct {
	Viewing  bool
	Index    int
	Progress int
}

// Player is the per-client playback state machine: Idle -> Viewing(reel,
// index, progress). It is never persisted. At most one session is active;
// opening while viewing restarts the session. Every exit transition cancels
// the progress timer.
type Player struct {
	mu       sync.Mutex
	tick     time.Duration
	reel     Reel
	index    int
	progress int
	viewing  bool
	stop     chan struct{}
}

func NewPlayer() *Player {
	return &Player{tick: defaultTickInterval}
}

// Open enters Viewing at the start of the reel and starts the progress
// timer. An already running session is cancelled first.
func (p *Player) Open(reel Reel) error {
	if len(reel.Stories) == 0 {
		return fmt.Errorf("%w: empty reel", models.ErrValidation)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.cancelLocked()
	p.reel = reel
	p.index = 0
	p.progress = 0
	p.viewing = true

	stop := make(chan struct{})
	p.stop = stop
	go p.run(stop)
	return nil
}

// run drives progress until its session is cancelled.
func (p *Player) run(stop chan struct{}) {
	ticker := time.NewTicker(p.tick)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			p.advance(stop)
		}
	}
}

// advance applies one timer tick. The stop channel identifies the session:
// a tick from a superseded session is ignored.
func (p *Player) advance(stop chan struct{}) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.viewing || p.stop != stop {
		return
	}

	p.progress += progressStep
	if p.progress < progressDone {
		return
	}

	if p.index < len(p.reel.Stories)-1 {
		p.index++
		p.progress = 0
	} else {
		p.cancelLocked()
	}
}

// Next moves forward one story; past the last entry it closes the viewer.
func (p *Player) Next() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.viewing {
		return
	}
	if p.index < len(p.reel.Stories)-1 {
		p.index++
		p.progress = 0
	} else {
		p.cancelLocked()
	}
}

// Prev moves back one story; at the first entry it is a no-op.
func (p *Player) Prev() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.viewing || p.index == 0 {
		return
	}
	p.index--
	p.progress = 0
}

// Close cancels the timer and returns to Idle.
func (p *Player) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelLocked()
}

// cancelLocked stops the active session's timer and resets to Idle. Callers
// hold p.mu.
func (p *Player) cancelLocked() {
	if p.stop != nil {
		close(p.stop)
		p.stop = nil
	}
	p.viewing = false
	p.index = 0
	p.progress = 0
}

// Current returns the story under the cursor.
func (p *Player) Current() (models.Story, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.viewing {
		return models.Story{}, false
	}
	return p.reel.Stories[p.index], true
}

// State snapshots the machine for rendering.
func (p *Player) State() PlayerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PlayerState{Viewing: p.viewing, Index: p.index, Progress: p.progress}
}
