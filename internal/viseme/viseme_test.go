package viseme

import (
	"math"
	"testing"
)

func TestForPhoneme(t *testing.T) {
	cases := map[string]Viseme{
		"P":       PP,
		"b":       PP,
		"F":       FF,
		"TH":      TH,
		"ng":      KK,
		"CH":      CH,
		"AA":      AA,
		"oo":      OO,
		"W":       UU,
		"H":       Silence,
		"":        Silence,
		"ZZZ":     Silence,
		"unknown": Silence,
	}
	for code, want := range cases {
		if got := ForPhoneme(code); got != want {
			t.Errorf("ForPhoneme(%q) = %s, want %s", code, got, want)
		}
	}
}

func TestBlendShapes(t *testing.T) {
	t.Run("silence_all_zero", func(t *testing.T) {
		for ch, v := range BlendShapes(Silence, 1, 1) {
			if v != 0 {
				t.Errorf("channel %s = %f, want 0", ch, v)
			}
		}
	})

	t.Run("full_intensity_full_amplitude_hits_targets", func(t *testing.T) {
		got := BlendShapes(AA, 1, 1)
		for _, ch := range Channels {
			if math.Abs(got[ch]-Target(AA, ch)) > 1e-9 {
				t.Errorf("channel %s = %f, want %f", ch, got[ch], Target(AA, ch))
			}
		}
	})

	t.Run("amplitude_scales_opening_channels_only", func(t *testing.T) {
		quiet := BlendShapes(AA, 1, 0)
		loud := BlendShapes(AA, 1, 1)
		// Zero amplitude still produces half the opening.
		if math.Abs(quiet[MouthOpen]-0.5*loud[MouthOpen]) > 1e-9 {
			t.Errorf("quiet mouth_open = %f, want %f", quiet[MouthOpen], 0.5*loud[MouthOpen])
		}
		if math.Abs(quiet[JawOpen]-0.5*loud[JawOpen]) > 1e-9 {
			t.Errorf("quiet jaw_open = %f, want %f", quiet[JawOpen], 0.5*loud[JawOpen])
		}
		if quiet[MouthWide] != loud[MouthWide] {
			t.Errorf("mouth_wide changed with amplitude: %f vs %f", quiet[MouthWide], loud[MouthWide])
		}
	})

	t.Run("inputs_clamped", func(t *testing.T) {
		over := BlendShapes(AA, 5, 5)
		norm := BlendShapes(AA, 1, 1)
		for _, ch := range Channels {
			if over[ch] != norm[ch] {
				t.Errorf("channel %s not clamped: %f vs %f", ch, over[ch], norm[ch])
			}
		}
	})

	t.Run("every_channel_present", func(t *testing.T) {
		for _, v := range All() {
			got := BlendShapes(v, 0.5, 0.5)
			if len(got) != len(Channels) {
				t.Fatalf("viseme %s produced %d channels, want %d", v, len(got), len(Channels))
			}
		}
	})
}

func TestTargetsWithinRange(t *testing.T) {
	for _, v := range All() {
		for _, ch := range Channels {
			tv := Target(v, ch)
			if tv < 0 || tv > 1 {
				t.Errorf("target %s/%s = %f out of [0,1]", v, ch, tv)
			}
		}
	}
}
