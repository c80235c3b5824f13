package playback

import "sync"

// GainStage is the shared low-level gain node the live feed's audio path
// also runs through. The dashboard's audio layer provides it.
type GainStage interface {
	SetGain(v float64)
}

// AudioContext is the lazily created audio resource shared by every
// playback path. Acquire is idempotent; callers never need existence
// checks.
type AudioContext struct {
	once    sync.Once
	factory func() GainStage

	mu   sync.Mutex
	gain GainStage
}

// NewAudioContext creates the manager without touching audio hardware.
// factory runs at most once, on first Acquire.
func NewAudioContext(factory func() GainStage) *AudioContext {
	return &AudioContext{factory: factory}
}

// Acquire initializes the context on first use and returns the shared gain
// stage.
func (a *AudioContext) Acquire() GainStage {
	a.once.Do(func() {
		a.mu.Lock()
		a.gain = a.factory()
		a.mu.Unlock()
	})
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.gain
}

// SetGain applies a volume to the shared stage, initializing it if needed.
func (a *AudioContext) SetGain(v float64) {
	a.Acquire().SetGain(v)
}
