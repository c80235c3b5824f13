package playback

import (
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePlayer records calls for assertions.
type fakePlayer struct {
	mu       sync.Mutex
	playing  bool
	volume   float64
	disposed bool
	playErr  error
}

func (p *fakePlayer) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.playErr != nil {
		return p.playErr
	}
	p.playing = true
	return nil
}

func (p *fakePlayer) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.playing = false
}

func (p *fakePlayer) Dispose() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disposed = true
	return nil
}

func (p *fakePlayer) SetVolume(v float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.volume = v
}

type fakeGain struct {
	mu    sync.Mutex
	gain  float64
	inits int
}

func (g *fakeGain) SetGain(v float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.gain = v
}

func newTestCoordinator(t *testing.T) (*Coordinator, map[string]*fakePlayer, *fakeGain) {
	players := make(map[string]*fakePlayer)
	gain := &fakeGain{}
	factory := func(audioRef string) Player {
		p := &fakePlayer{}
		players[audioRef] = p
		return p
	}
	audioCtx := NewAudioContext(func() GainStage {
		gain.inits++
		return gain
	})
	return New(factory, audioCtx, 1.0, slog.Default()), players, gain
}

func TestPlay_Exclusivity(t *testing.T) {
	c, _, _ := newTestCoordinator(t)

	c.CreateInstance("map", 1, "a/1.mp3", nil)
	c.CreateInstance("map", 2, "a/2.mp3", nil)
	c.CreateInstance("history", 3, "a/3.mp3", nil)

	require.NoError(t, c.Play("map", 1))
	assert.Equal(t, 1, c.PlayingCount())

	// Playing from another pool pauses the first.
	require.NoError(t, c.Play("history", 3))
	assert.Equal(t, 1, c.PlayingCount())

	pool, callID, ok := c.Playing()
	require.True(t, ok)
	assert.Equal(t, "history", pool)
	assert.Equal(t, int64(3), callID)
}

func TestPlay_ResetsPausedControls(t *testing.T) {
	c, _, _ := newTestCoordinator(t)

	var states []bool
	c.CreateInstance("map", 1, "a/1.mp3", func(playing bool) { states = append(states, playing) })
	c.CreateInstance("map", 2, "a/2.mp3", nil)

	require.NoError(t, c.Play("map", 1))
	require.NoError(t, c.Play("map", 2))

	assert.Equal(t, []bool{true, false}, states, "first control plays then is reset to paused")
}

func TestPlay_UnknownInstance(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	assert.Error(t, c.Play("map", 99))
}

func TestPlay_AbortedIsSwallowed(t *testing.T) {
	c, players, _ := newTestCoordinator(t)
	c.CreateInstance("map", 1, "a/1.mp3", nil)
	players["a/1.mp3"].playErr = ErrPlaybackAborted

	assert.NoError(t, c.Play("map", 1), "a superseded load is not an error")
	assert.Equal(t, 0, c.PlayingCount())
}

func TestPlay_RealFailureSurfaces(t *testing.T) {
	c, players, _ := newTestCoordinator(t)
	c.CreateInstance("map", 1, "a/1.mp3", nil)
	players["a/1.mp3"].playErr = ErrPlaybackFailed

	assert.ErrorIs(t, c.Play("map", 1), ErrPlaybackFailed)
}

func TestCreateInstance_DisposesPrior(t *testing.T) {
	c, players, _ := newTestCoordinator(t)

	c.CreateInstance("map", 1, "a/old.mp3", nil)
	c.CreateInstance("map", 1, "a/new.mp3", nil)

	assert.True(t, players["a/old.mp3"].disposed)
	assert.False(t, players["a/new.mp3"].disposed)
}

func TestCreateInstance_AppliesGlobalVolume(t *testing.T) {
	c, players, _ := newTestCoordinator(t)
	c.SetGlobalVolume(0.4)

	c.CreateInstance("map", 1, "a/1.mp3", nil)
	assert.Equal(t, 0.4, players["a/1.mp3"].volume)
}

func TestSetGlobalVolume_ClampsAndPropagates(t *testing.T) {
	c, players, gain := newTestCoordinator(t)
	c.CreateInstance("map", 1, "a/1.mp3", nil)
	c.CreateInstance("feed", 2, "a/2.mp3", nil)

	c.SetGlobalVolume(1.7)
	assert.Equal(t, 1.0, c.GlobalVolume())
	assert.Equal(t, 1.0, players["a/1.mp3"].volume)

	c.SetGlobalVolume(-0.2)
	assert.Equal(t, 0.0, c.GlobalVolume())
	assert.Equal(t, 0.0, players["a/2.mp3"].volume)
	assert.Equal(t, 0.0, gain.gain, "shared gain stage follows global volume")
}

func TestPause(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	c.CreateInstance("map", 1, "a/1.mp3", nil)

	require.NoError(t, c.Play("map", 1))
	c.Pause("map", 1)
	assert.Equal(t, 0, c.PlayingCount())

	// Pausing a non-playing instance is a no-op.
	c.Pause("map", 1)
	c.Pause("map", 99)
}

func TestRemovePool_DisposesAll(t *testing.T) {
	c, players, _ := newTestCoordinator(t)
	c.CreateInstance("history", 1, "a/1.mp3", nil)
	c.CreateInstance("history", 2, "a/2.mp3", nil)

	c.RemovePool("history")
	assert.True(t, players["a/1.mp3"].disposed)
	assert.True(t, players["a/2.mp3"].disposed)
	assert.Error(t, c.Play("history", 1))
}

func TestAudioContext_IdempotentInit(t *testing.T) {
	gain := &fakeGain{}
	ac := NewAudioContext(func() GainStage {
		gain.inits++
		return gain
	})

	ac.Acquire()
	ac.Acquire()
	ac.SetGain(0.5)

	assert.Equal(t, 1, gain.inits, "factory runs exactly once")
	assert.Equal(t, 0.5, gain.gain)
}
