package playback

import "errors"

// ErrPlaybackAborted marks the benign outcome of a playback request being
// superseded or torn down mid-decode. Callers suppress it; it never reaches
// a user-facing error surface.
var ErrPlaybackAborted = errors.New("playback aborted")

// ErrPlaybackFailed marks a genuine decode or network failure, surfaced
// inline near the affected control.
var ErrPlaybackFailed = errors.New("playback failed")

// Player is the audio-decoding/playback primitive. The dashboard supplies
// the real implementation; the decode is asynchronous, so Play may return
// ErrPlaybackAborted when a teardown races it.
type Player interface {
	Play() error
	Pause()
	Dispose() error
	SetVolume(v float64)
}

// PlayerFactory creates a player for an audio reference.
type PlayerFactory func(audioRef string) Player
