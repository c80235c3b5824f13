package playback

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// instance is one pool-scoped audio control bound to a call.
type instance struct {
	player  Player
	playing bool

	// onStateChange resets the owning UI control when the coordinator
	// pauses this instance from elsewhere. May be nil.
	onStateChange func(playing bool)
}

// Coordinator owns every audio instance across all playback pools (map
// popups, talkgroup history, live feed) and enforces the one global rule:
// at most one instance is playing at any time. No other component starts
// playback directly.
type Coordinator struct {
	mu       sync.Mutex
	pools    map[string]map[int64]*instance
	volume   float64
	factory  PlayerFactory
	audioCtx *AudioContext
	logger   *slog.Logger
}

// New creates a coordinator with the given initial global volume.
func New(factory PlayerFactory, audioCtx *AudioContext, volume float64, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		pools:    make(map[string]map[int64]*instance),
		volume:   clampVolume(volume),
		factory:  factory,
		audioCtx: audioCtx,
		logger:   logger,
	}
}

func clampVolume(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// CreateInstance builds (or rebuilds) the instance for a (pool, call) pair.
// An existing instance is disposed first; a disposal racing an in-flight
// load is expected and ignored. The global volume applies at creation.
func (c *Coordinator) CreateInstance(poolID string, callID int64, audioRef string, onStateChange func(bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pool, ok := c.pools[poolID]
	if !ok {
		pool = make(map[int64]*instance)
		c.pools[poolID] = pool
	}

	if prev, ok := pool[callID]; ok {
		if err := prev.player.Dispose(); err != nil && !errors.Is(err, ErrPlaybackAborted) {
			c.logger.Debug("instance disposal error", "pool", poolID, "callId", callID, "error", err)
		}
	}

	player := c.factory(audioRef)
	player.SetVolume(c.volume)
	pool[callID] = &instance{player: player, onStateChange: onStateChange}
}

// Play starts the requested instance after pausing every other instance in
// every pool. ErrPlaybackAborted from a superseded load is swallowed; real
// failures are returned for inline surfacing.
func (c *Coordinator) Play(poolID string, callID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	inst, ok := c.lookupLocked(poolID, callID)
	if !ok {
		return fmt.Errorf("no instance for pool %s call %d", poolID, callID)
	}

	c.pauseAllLocked(inst)

	if err := inst.player.Play(); err != nil {
		if errors.Is(err, ErrPlaybackAborted) {
			return nil
		}
		return fmt.Errorf("starting playback for call %d: %w", callID, err)
	}
	inst.playing = true
	if inst.onStateChange != nil {
		inst.onStateChange(true)
	}
	return nil
}

// Pause stops the instance if it is playing.
func (c *Coordinator) Pause(poolID string, callID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	inst, ok := c.lookupLocked(poolID, callID)
	if !ok || !inst.playing {
		return
	}
	inst.player.Pause()
	inst.playing = false
	if inst.onStateChange != nil {
		inst.onStateChange(false)
	}
}

// RemoveInstance disposes one instance, e.g. when its call leaves the
// store.
func (c *Coordinator) RemoveInstance(poolID string, callID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pool, ok := c.pools[poolID]
	if !ok {
		return
	}
	if inst, ok := pool[callID]; ok {
		_ = inst.player.Dispose()
		delete(pool, callID)
	}
}

// RemovePool disposes every instance in a pool, for view teardown.
func (c *Coordinator) RemovePool(poolID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, inst := range c.pools[poolID] {
		_ = inst.player.Dispose()
	}
	delete(c.pools, poolID)
}

// SetGlobalVolume clamps v to [0,1] and propagates it synchronously to
// every live instance in every pool and to the shared gain stage.
func (c *Coordinator) SetGlobalVolume(v float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.volume = clampVolume(v)
	for _, pool := range c.pools {
		for _, inst := range pool {
			inst.player.SetVolume(c.volume)
		}
	}
	if c.audioCtx != nil {
		c.audioCtx.SetGain(c.volume)
	}
}

// GlobalVolume returns the current global volume.
func (c *Coordinator) GlobalVolume() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.volume
}

// Playing returns the (pool, call) currently in the playing state, if any.
func (c *Coordinator) Playing() (string, int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for poolID, pool := range c.pools {
		for callID, inst := range pool {
			if inst.playing {
				return poolID, callID, true
			}
		}
	}
	return "", 0, false
}

// PlayingCount returns how many instances report the playing state; the
// coordinator's invariant keeps this at zero or one.
func (c *Coordinator) PlayingCount() int {
	count := 0
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, pool := range c.pools {
		for _, inst := range pool {
			if inst.playing {
				count++
			}
		}
	}
	return count
}

func (c *Coordinator) lookupLocked(poolID string, callID int64) (*instance, bool) {
	pool, ok := c.pools[poolID]
	if !ok {
		return nil, false
	}
	inst, ok := pool[callID]
	return inst, ok
}

// pauseAllLocked pauses every instance except keep and resets their UI
// controls to the paused representation.
func (c *Coordinator) pauseAllLocked(keep *instance) {
	for _, pool := range c.pools {
		for _, inst := range pool {
			if inst == keep || !inst.playing {
				continue
			}
			inst.player.Pause()
			inst.playing = false
			if inst.onStateChange != nil {
				inst.onStateChange(false)
			}
		}
	}
}
