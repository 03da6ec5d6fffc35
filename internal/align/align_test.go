package align

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestPhonemize(t *testing.T) {
	cases := map[string][]string{
		"hello":   {"H", "EE", "L", "L", "OO"},
		"the":     {"TH", "EE"},
		"ship":    {"SH", "II", "P"},
		"singing": {"S", "II", "NG", "II", "NG"},
		"why":     {"WH", "Y"},
		"a":       {"AA"},
		"123":     {"AA"},
		"":        {"AA"},
	}
	for word, want := range cases {
		got := Phonemize(word)
		if !reflect.DeepEqual(got, want) {
			t.Errorf("Phonemize(%q) = %v, want %v", word, got, want)
		}
	}
}

func TestPhonemizeVowelsDoubled(t *testing.T) {
	for _, v := range []string{"a", "e", "i", "o", "u"} {
		got := Phonemize(v)
		if len(got) != 1 || len(got[0]) != 2 || got[0][0] != got[0][1] {
			t.Errorf("Phonemize(%q) = %v, want doubled vowel code", v, got)
		}
	}
}

func TestEstimate(t *testing.T) {
	t.Run("proportional_to_char_count", func(t *testing.T) {
		// "Hello" has 5 chars and "there." has 6, so the second word
		// gets the larger share.
		words := Estimate("Hello there.", 1.0)
		if len(words) != 2 {
			t.Fatalf("got %d words, want 2", len(words))
		}
		if math.Abs(words[0].End-words[0].Start-5.0/11.0) > 1e-9 {
			t.Errorf("first word span = %f, want %f", words[0].End-words[0].Start, 5.0/11.0)
		}
		if words[1].Start != words[0].End {
			t.Errorf("gap between words: %f vs %f", words[0].End, words[1].Start)
		}
		if words[1].End != 1.0 {
			t.Errorf("last word ends at %f, want 1.0", words[1].End)
		}
	})

	t.Run("marks_estimate_confidence", func(t *testing.T) {
		for _, w := range Estimate("one two three", 2.0) {
			if w.Confidence != EstimateConfidence {
				t.Errorf("word %q confidence = %f, want %f", w.Word, w.Confidence, EstimateConfidence)
			}
		}
	})

	t.Run("phonemes_tile_word_span", func(t *testing.T) {
		words := Estimate("hello", 1.0)
		ph := words[0].Phonemes
		if len(ph) == 0 {
			t.Fatal("no phonemes")
		}
		if ph[0].Start != words[0].Start {
			t.Errorf("first phoneme starts at %f, want %f", ph[0].Start, words[0].Start)
		}
		if ph[len(ph)-1].End != words[0].End {
			t.Errorf("last phoneme ends at %f, want %f", ph[len(ph)-1].End, words[0].End)
		}
		for i := 1; i < len(ph); i++ {
			if math.Abs(ph[i].Start-ph[i-1].End) > 1e-9 {
				t.Errorf("phoneme %d not contiguous: %f vs %f", i, ph[i].Start, ph[i-1].End)
			}
		}
	})

	t.Run("empty_text", func(t *testing.T) {
		if got := Estimate("", 1.0); got != nil {
			t.Errorf("got %v, want nil", got)
		}
	})

	t.Run("zero_duration_floored", func(t *testing.T) {
		words := Estimate("hi", 0)
		if words[0].End <= words[0].Start {
			t.Errorf("word span not positive: [%f, %f]", words[0].Start, words[0].End)
		}
	})
}

type failingBackend struct{}

func (failingBackend) AlignWords(context.Context, string, []float64, int) ([]WordTiming, error) {
	return nil, errors.New("backend down")
}

func TestAlignFallsBackOnBackendError(t *testing.T) {
	a := New(failingBackend{}, zerolog.Nop())
	samples := make([]float64, 22050) // 1s
	words, err := a.Align(context.Background(), "Hello there.", samples, 22050)
	if err != nil {
		t.Fatalf("Align: %v", err)
	}
	if len(words) != 2 {
		t.Fatalf("got %d words, want 2", len(words))
	}
	for _, w := range words {
		if w.Confidence != EstimateConfidence {
			t.Errorf("word %q confidence = %f, want %f", w.Word, w.Confidence, EstimateConfidence)
		}
	}
}

func TestAlignCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a := New(failingBackend{}, zerolog.Nop())
	if _, err := a.Align(ctx, "hello", make([]float64, 22050), 22050); err == nil {
		t.Error("expected error for canceled context")
	}
}

func TestAlignNilBackend(t *testing.T) {
	a := New(nil, zerolog.Nop())
	words, err := a.Align(context.Background(), "one two", make([]float64, 44100), 22050)
	if err != nil {
		t.Fatalf("Align: %v", err)
	}
	if len(words) != 2 {
		t.Fatalf("got %d words, want 2", len(words))
	}
	if words[1].End != 2.0 {
		t.Errorf("timeline ends at %f, want 2.0", words[1].End)
	}
}

func TestWhisperBackend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		if got := r.FormValue("response_format"); got != "verbose_json" {
			t.Errorf("response_format = %q", got)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"text":     "hello world",
			"duration": 1.0,
			"words": []map[string]any{
				{"word": "hello", "start": 0.0, "end": 0.4},
				{"word": "world", "start": 0.5, "end": 1.0},
			},
		})
	}))
	defer srv.Close()

	wb := NewWhisperBackend(srv.URL, "whisper-1", 5*time.Second)
	words, err := wb.AlignWords(context.Background(), "hello world", make([]float64, 22050), 22050)
	if err != nil {
		t.Fatalf("AlignWords: %v", err)
	}
	if len(words) != 2 {
		t.Fatalf("got %d words, want 2", len(words))
	}
	if words[0].Word != "hello" || words[0].End != 0.4 {
		t.Errorf("first word = %+v", words[0])
	}
	if words[0].Confidence != 1.0 {
		t.Errorf("acoustic confidence = %f, want 1.0", words[0].Confidence)
	}
}

func TestAlignBackendPhonemesFilledIn(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"words": []map[string]any{{"word": "go", "start": 0.0, "end": 0.5}},
		})
	}))
	defer srv.Close()

	a := New(NewWhisperBackend(srv.URL, "", 5*time.Second), zerolog.Nop())
	words, err := a.Align(context.Background(), "go", make([]float64, 11025), 22050)
	if err != nil {
		t.Fatalf("Align: %v", err)
	}
	if len(words) != 1 {
		t.Fatalf("got %d words, want 1", len(words))
	}
	if len(words[0].Phonemes) == 0 {
		t.Error("backend words missing phoneme subdivision")
	}
}
