// Package viseme maps phonetic units to mouth-shape categories and their
// blend-shape targets. The table is static configuration: lookups are pure
// and total, and unknown phoneme codes resolve to silence rather than error.
package viseme

// Viseme is one of a fixed set of visually distinguishable mouth shapes,
// based on the Preston Blair phoneme grouping.
type Viseme string

const (
	Silence Viseme = "sil"
	PP      Viseme = "PP" // p, b, m
	FF      Viseme = "FF" // f, v
	TH      Viseme = "TH" // th, dh
	DD      Viseme = "DD" // t, d, l
	KK      Viseme = "KK" // k, g, ng
	CH      Viseme = "CH" // ch, j, sh, zh
	SS      Viseme = "SS" // s, z
	NN      Viseme = "NN" // n
	RR      Viseme = "RR" // r, er
	AA      Viseme = "AA" // open vowels
	EE      Viseme = "EE" // e
	II      Viseme = "II" // i
	OO      Viseme = "OO" // o (rounded)
	UU      Viseme = "UU" // u, w (rounded)
)

// Channel is a named animation-parameter channel driving a facial deformation.
type Channel string

const (
	MouthOpen  Channel = "mouth_open"
	MouthWide  Channel = "mouth_wide"
	JawOpen    Channel = "jaw_open"
	LipPucker  Channel = "lip_pucker"
	LipStretch Channel = "lip_stretch"
)

// Channels lists every blend-shape channel in a stable order.
var Channels = []Channel{MouthOpen, MouthWide, JawOpen, LipPucker, LipStretch}

// amplitudeSensitive marks channels that scale with audio energy in
// addition to viseme intensity: the opening channels.
var amplitudeSensitive = map[Channel]bool{
	MouthOpen: true,
	JawOpen:   true,
}

var phonemeToViseme = map[string]Viseme{
	// Bilabials
	"P": PP, "B": PP, "M": PP,
	// Labiodentals
	"F": FF, "V": FF,
	// Dentals
	"TH": TH, "DH": TH,
	// Alveolar stops and laterals
	"T": DD, "D": DD, "L": DD,
	// Velars
	"K": KK, "G": KK, "NG": KK, "C": KK, "Q": KK, "X": KK,
	// Postalveolars
	"CH": CH, "JH": CH, "J": CH, "SH": CH, "ZH": CH,
	// Sibilants
	"S": SS, "Z": SS,
	// Nasals
	"N": NN,
	// Rhotics
	"R": RR, "ER": RR,
	// Glides
	"W": UU, "WH": UU, "Y": EE,
	// H opens the mouth without a distinct shape
	"H": Silence, "PH": FF,
	// Vowels (doubled codes come from the rule-table decomposition)
	"AA": AA, "AE": AA, "AH": AA, "AW": AA, "AY": AA, "A": AA,
	"EH": EE, "EY": EE, "EE": EE, "E": EE,
	"IH": II, "IY": II, "II": II, "I": II,
	"AO": OO, "OW": OO, "OY": OO, "OO": OO, "O": OO,
	"UH": UU, "UW": UU, "UU": UU, "U": UU,
}

// targets holds the authored blend-shape maxima per viseme. Values are the
// channel positions at full intensity; BlendShapes scales them down.
var targets = map[Viseme]map[Channel]float64{
	Silence: {MouthOpen: 0.0, MouthWide: 0.0, JawOpen: 0.0, LipPucker: 0.0, LipStretch: 0.0},
	PP:      {MouthOpen: 0.0, MouthWide: 0.1, JawOpen: 0.0, LipPucker: 0.3, LipStretch: 0.0},
	FF:      {MouthOpen: 0.1, MouthWide: 0.3, JawOpen: 0.1, LipPucker: 0.0, LipStretch: 0.2},
	TH:      {MouthOpen: 0.2, MouthWide: 0.2, JawOpen: 0.2, LipPucker: 0.0, LipStretch: 0.0},
	DD:      {MouthOpen: 0.3, MouthWide: 0.2, JawOpen: 0.3, LipPucker: 0.0, LipStretch: 0.0},
	KK:      {MouthOpen: 0.4, MouthWide: 0.2, JawOpen: 0.4, LipPucker: 0.0, LipStretch: 0.2},
	CH:      {MouthOpen: 0.3, MouthWide: 0.4, JawOpen: 0.3, LipPucker: 0.3, LipStretch: 0.0},
	SS:      {MouthOpen: 0.2, MouthWide: 0.5, JawOpen: 0.2, LipPucker: 0.0, LipStretch: 0.3},
	NN:      {MouthOpen: 0.2, MouthWide: 0.2, JawOpen: 0.2, LipPucker: 0.0, LipStretch: 0.0},
	RR:      {MouthOpen: 0.3, MouthWide: 0.3, JawOpen: 0.3, LipPucker: 0.4, LipStretch: 0.0},
	AA:      {MouthOpen: 0.8, MouthWide: 0.4, JawOpen: 0.7, LipPucker: 0.0, LipStretch: 0.2},
	EE:      {MouthOpen: 0.4, MouthWide: 0.7, JawOpen: 0.3, LipPucker: 0.0, LipStretch: 0.4},
	II:      {MouthOpen: 0.3, MouthWide: 0.6, JawOpen: 0.2, LipPucker: 0.0, LipStretch: 0.4},
	OO:      {MouthOpen: 0.6, MouthWide: 0.2, JawOpen: 0.5, LipPucker: 0.5, LipStretch: 0.0},
	UU:      {MouthOpen: 0.4, MouthWide: 0.1, JawOpen: 0.4, LipPucker: 0.6, LipStretch: 0.0},
}

// ForPhoneme returns the viseme for a phoneme code. Total and
// deterministic: unrecognized codes map to Silence, never an error.
func ForPhoneme(code string) Viseme {
	if v, ok := phonemeToViseme[upper(code)]; ok {
		return v
	}
	return Silence
}

// BlendShapes computes the channel values for a viseme at the given
// intensity and audio amplitude, both expected in [0, 1]. Every channel
// scales with intensity; the opening channels additionally scale by
// 0.5 + 0.5*amplitude so quiet speech still moves the mouth and loud
// passages never exceed the authored maxima.
func BlendShapes(v Viseme, intensity, amplitude float64) map[Channel]float64 {
	intensity = clamp01(intensity)
	amplitude = clamp01(amplitude)

	base, ok := targets[v]
	if !ok {
		base = targets[Silence]
	}

	out := make(map[Channel]float64, len(Channels))
	for _, ch := range Channels {
		val := base[ch] * intensity
		if amplitudeSensitive[ch] {
			val *= 0.5 + 0.5*amplitude
		}
		out[ch] = val
	}
	return out
}

// Target returns the authored maximum for a single channel of a viseme.
func Target(v Viseme, ch Channel) float64 {
	if base, ok := targets[v]; ok {
		return base[ch]
	}
	return 0
}

// All returns every viseme in the table in a stable order.
func All() []Viseme {
	return []Viseme{Silence, PP, FF, TH, DD, KK, CH, SS, NN, RR, AA, EE, II, OO, UU}
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// upper avoids pulling strings for a hot single-purpose path.
func upper(s string) string {
	b := []byte(s)
	changed := false
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - 32
			changed = true
		}
	}
	if !changed {
		return s
	}
	return string(b)
}
