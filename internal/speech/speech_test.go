package speech

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/sushil32/Neura/internal/audio"
)

type stubEngine struct {
	res *Result
	err error
}

func (s stubEngine) Speak(context.Context, Request) (*Result, error) {
	return s.res, s.err
}

func TestSynthesizeSuccess(t *testing.T) {
	want := &Result{Samples: make([]float64, 22050), SampleRate: 22050}
	syn := New(stubEngine{res: want}, zerolog.Nop())

	got, err := syn.Synthesize(context.Background(), Request{Text: "hello"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if got.Degraded {
		t.Error("successful synthesis marked degraded")
	}
	if math.Abs(got.Duration-1.0) > 1e-9 {
		t.Errorf("duration = %f, want 1.0", got.Duration)
	}
}

func TestSynthesizeFallbackOnError(t *testing.T) {
	syn := New(stubEngine{err: errors.New("engine down")}, zerolog.Nop())

	// 30 chars at the speaking rate is 2 seconds of silence.
	got, err := syn.Synthesize(context.Background(), Request{Text: "abcdefghijklmnopqrstuvwxyz1234"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if !got.Degraded {
		t.Error("fallback result not marked degraded")
	}
	wantLen := int(2.0 * audio.DefaultSampleRate)
	if math.Abs(float64(len(got.Samples)-wantLen)) > 1 {
		t.Errorf("got %d samples, want ~%d", len(got.Samples), wantLen)
	}
	for _, s := range got.Samples[:100] {
		if s != 0 {
			t.Fatal("fallback audio is not silent")
		}
	}
}

func TestSynthesizeNilEngine(t *testing.T) {
	syn := New(nil, zerolog.Nop())
	got, err := syn.Synthesize(context.Background(), Request{Text: "hi"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if !got.Degraded || len(got.Samples) == 0 {
		t.Errorf("nil engine result = degraded %v, %d samples", got.Degraded, len(got.Samples))
	}
}

func TestSynthesizeCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	syn := New(stubEngine{err: context.Canceled}, zerolog.Nop())
	if _, err := syn.Synthesize(ctx, Request{Text: "hi"}); err == nil {
		t.Error("expected error for canceled context")
	}
}

func TestHTTPEngine(t *testing.T) {
	pcm := audio.EncodePCM16(make([]float64, 2205))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req speakRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Text != "hello" || req.VoiceID != "ava" {
			t.Errorf("request = %+v", req)
		}
		json.NewEncoder(w).Encode(speakResponse{
			Audio:      base64.StdEncoding.EncodeToString(pcm),
			SampleRate: 22050,
			Duration:   0.1,
			WordTimings: []WordTiming{
				{Word: "hello", Start: 0, End: 0.1},
			},
		})
	}))
	defer srv.Close()

	eng := NewHTTPEngine(srv.URL, 5*time.Second)
	res, err := eng.Speak(context.Background(), Request{Text: "hello", VoiceID: "ava"})
	if err != nil {
		t.Fatalf("Speak: %v", err)
	}
	if res.SampleRate != 22050 {
		t.Errorf("rate = %d, want 22050", res.SampleRate)
	}
	if len(res.Samples) != 2205 {
		t.Errorf("got %d samples, want 2205", len(res.Samples))
	}
	if len(res.WordTimings) != 1 || res.WordTimings[0].Word != "hello" {
		t.Errorf("word timings = %+v", res.WordTimings)
	}
}

func TestHTTPEngineBoundsConcurrentRequests(t *testing.T) {
	var inflight, peak atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := inflight.Add(1)
		defer inflight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		json.NewEncoder(w).Encode(speakResponse{
			Audio:      base64.StdEncoding.EncodeToString(audio.EncodePCM16(make([]float64, 220))),
			SampleRate: 22050,
		})
	}))
	defer srv.Close()

	eng := NewHTTPEngine(srv.URL, 5*time.Second)

	var wg sync.WaitGroup
	errs := make(chan error, 2*maxInflight)
	for i := 0; i < 2*maxInflight; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := eng.Speak(context.Background(), Request{Text: "hello"})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("Speak: %v", err)
		}
	}
	if p := peak.Load(); p > maxInflight {
		t.Errorf("peak concurrent requests = %d, want <= %d", p, maxInflight)
	}
}

func TestHTTPEngineServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	eng := NewHTTPEngine(srv.URL, 5*time.Second)
	if _, err := eng.Speak(context.Background(), Request{Text: "hello"}); err == nil {
		t.Error("expected error for 503 response")
	}
}

func TestHTTPEngineBadAudioPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(speakResponse{Audio: "not-base64!!!"})
	}))
	defer srv.Close()

	eng := NewHTTPEngine(srv.URL, 5*time.Second)
	if _, err := eng.Speak(context.Background(), Request{Text: "hello"}); err == nil {
		t.Error("expected error for undecodable audio")
	}
}
