// Package vad implements an energy based voice activity detector over frame
// energy samples on a 0-255 scale. It only classifies; capture lifecycle and
// hard timeouts belong to the recording controller.
package vad

import "time"

// Config holds the detection tuning. Threshold and durations are configurable
// because microphone gain varies by device.
type Config struct {
	// EnergyThreshold separates active from silent frames (0-255 scale).
	EnergyThreshold float64
	// SustainedFrames is the number of consecutive active frames required
	// before speech counts as started. Rejects clicks and pops.
	SustainedFrames int
	// SilenceWindow is how long silence must persist after sustained speech
	// before the utterance counts as finished. Long enough to survive
	// mid-utterance pauses.
	SilenceWindow time.Duration
}

// State tracks one recording attempt. Reset it before reuse.
type State struct {
	HasSustainedSpeech bool
	ConsecutiveSpeech  int
	ConsecutiveSilence int
	// SilenceDeadline is zero while no deadline is armed.
	SilenceDeadline time.Time
}

// Reset returns the state to its initial values.
func (s *State) Reset() {
	*s = State{}
}

// Detector applies Config to a stream of frame energies.
type Detector struct {
	cfg Config
}

func New(cfg Config) *Detector {
	return &Detector{cfg: cfg}
}

// Observe classifies one frame energy sample and advances the state.
// Called once per check interval by the recording controller.
func (d *Detector) Observe(s *State, energy float64, now time.Time) {
	if energy > d.cfg.EnergyThreshold {
		s.ConsecutiveSilence = 0
		s.SilenceDeadline = time.Time{}
		if !s.HasSustainedSpeech {
			s.ConsecutiveSpeech++
			if s.ConsecutiveSpeech >= d.cfg.SustainedFrames {
				s.HasSustainedSpeech = true
			}
		}
		return
	}

	s.ConsecutiveSpeech = 0
	s.ConsecutiveSilence++
	if s.HasSustainedSpeech && s.SilenceDeadline.IsZero() {
		s.SilenceDeadline = now.Add(d.cfg.SilenceWindow)
	}
}

// SpeechEnded reports whether an armed silence deadline has elapsed without
// an intervening active frame. If energy never crossed the threshold this
// never fires; an outer timeout must apply.
func (d *Detector) SpeechEnded(s *State, now time.Time) bool {
	return !s.SilenceDeadline.IsZero() && !now.Before(s.SilenceDeadline)
}
