package stave

import "fmt"

// AudioSourceRef points a clip at external audio material. The source can be
// backed by a URL the playback engine streams from, or by an in-memory
// buffer received over the collaboration transport. Synced and Err report
// the source's synchronization state; the core never loads audio itself.
type AudioSourceRef struct {
	SourceID string  `yaml:"sourceId" json:"sourceId"`
	URL      string  `yaml:"url,omitempty" json:"url,omitempty"`
	Buffer   []byte  `yaml:"buffer,omitempty" json:"buffer,omitempty"`
	Duration float64 `yaml:"duration,omitempty" json:"duration,omitempty"`
	Synced   bool    `yaml:"synced" json:"synced"`
	Err      string  `yaml:"err,omitempty" json:"err,omitempty"`
}

// AudioClipData is the audio-specific payload of a Clip: the source
// reference plus a gain/fade envelope.
type AudioClipData struct {
	Source  AudioSourceRef `yaml:"source" json:"source"`
	Gain    float64        `yaml:"gain" json:"gain"`
	FadeIn  float64        `yaml:"fadeIn,omitempty" json:"fadeIn,omitempty"`
	FadeOut float64        `yaml:"fadeOut,omitempty" json:"fadeOut,omitempty"`
}

// SetGain sets the clip gain, rejecting negative values.
func (c *Clip) SetGain(gain float64) error {
	if c.Audio == nil {
		return ErrNotAudioClip
	}
	if gain < 0 {
		return fmt.Errorf("%w: %v", ErrInvalidGain, gain)
	}
	c.Audio.Gain = gain
	c.touch()
	return nil
}

// SetFadeIn sets the fade-in duration in seconds, rejecting negative values.
func (c *Clip) SetFadeIn(d float64) error {
	if c.Audio == nil {
		return ErrNotAudioClip
	}
	if d < 0 {
		return fmt.Errorf("%w: fade in %v", ErrInvalidFade, d)
	}
	c.Audio.FadeIn = d
	c.touch()
	return nil
}

// SetFadeOut sets the fade-out duration in seconds, rejecting negative
// values.
func (c *Clip) SetFadeOut(d float64) error {
	if c.Audio == nil {
		return ErrNotAudioClip
	}
	if d < 0 {
		return fmt.Errorf("%w: fade out %v", ErrInvalidFade, d)
	}
	c.Audio.FadeOut = d
	c.touch()
	return nil
}

// EffectiveGain returns the gain at time t, with linear fade-in and fade-out
// ramps anchored at the clip's start and end. Each ramp is clamped to [0,1].
// Outside the clip's range, and for non-audio clips, the gain is 0.
func (c *Clip) EffectiveGain(t float64) float64 {
	if c.Audio == nil || !c.Range.ContainsTime(t) {
		return 0
	}
	return c.Audio.Gain * c.fadeRampIn(t) * c.fadeRampOut(t)
}

func (c *Clip) fadeRampIn(t float64) float64 {
	if c.Audio.FadeIn <= 0 {
		return 1
	}
	return clamp01((t - c.Range.Start) / c.Audio.FadeIn)
}

func (c *Clip) fadeRampOut(t float64) float64 {
	if c.Audio.FadeOut <= 0 {
		return 1
	}
	return clamp01((c.Range.End() - t) / c.Audio.FadeOut)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// ReadyForPlayback reports whether the playback engine can schedule this
// clip: either the source carries a pre-fetched in-memory buffer, or it
// reports itself synced. A source in an error state is never ready.
func (c *Clip) ReadyForPlayback() bool {
	if c.Audio == nil {
		return false
	}
	src := c.Audio.Source
	if src.Err != "" {
		return false
	}
	if len(src.Buffer) > 0 {
		return true
	}
	return src.Synced
}
