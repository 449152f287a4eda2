package main

// Animation clips the host tracks for avatars
const (
	ClipIdle  = "idle"
	ClipGetup = "getup"
)

// Animator plays avatar clips and reports when a one-shot clip has ended
type Animator interface {
	Play(clip string)
	IsComplete(clip string) bool
}

// TimedAnimator stands in for the client-side animation system on the
// host: a clip is complete once its configured duration has elapsed or
// the client reports it finished.
type TimedAnimator struct {
	durations map[string]float64
	clip      string
	elapsed   float64
	finished  bool
}

// NewTimedAnimator creates an animator with per-clip durations in seconds.
// Clips without a duration never complete on their own.
func NewTimedAnimator(durations map[string]float64) *TimedAnimator {
	return &TimedAnimator{durations: durations, clip: ClipIdle}
}

// Play starts clip from the beginning
func (a *TimedAnimator) Play(clip string) {
	a.clip = clip
	a.elapsed = 0
	a.finished = false
}

// Advance moves the current clip forward by dt seconds
func (a *TimedAnimator) Advance(dt float64) {
	a.elapsed += dt
}

// Finish marks clip complete if it is the one playing
func (a *TimedAnimator) Finish(clip string) {
	if a.clip == clip {
		a.finished = true
	}
}

// Current returns the clip being played
func (a *TimedAnimator) Current() string { return a.clip }

// IsComplete reports whether clip is playing and has ended
func (a *TimedAnimator) IsComplete(clip string) bool {
	if a.clip != clip {
		return false
	}
	if a.finished {
		return true
	}
	d, ok := a.durations[clip]
	return ok && a.elapsed >= d
}
