package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/sushil32/Neura/internal/audio"
)

// maxInflight caps concurrent requests to the speech service. Batch
// workers and live sessions share the one engine, so the cap holds
// across both paths.
const maxInflight = 8

// HTTPEngine calls a text-to-speech HTTP service speaking JSON on both
// sides. The response carries base64 PCM16 audio plus optional word
// timestamps.
type HTTPEngine struct {
	url    string
	client *http.Client
	sem    *semaphore.Weighted
}

type speakRequest struct {
	Text     string  `json:"text"`
	VoiceID  string  `json:"voice_id,omitempty"`
	Language string  `json:"language,omitempty"`
	Speed    float64 `json:"speed,omitempty"`
}

type speakResponse struct {
	Audio       string       `json:"audio"`
	SampleRate  int          `json:"sample_rate"`
	Duration    float64      `json:"duration"`
	WordTimings []WordTiming `json:"word_timings"`
}

// NewHTTPEngine creates an engine for the given endpoint.
func NewHTTPEngine(url string, timeout time.Duration) *HTTPEngine {
	return &HTTPEngine{
		url: url,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxConnsPerHost:     maxInflight,
				MaxIdleConnsPerHost: maxInflight,
			},
		},
		sem: semaphore.NewWeighted(maxInflight),
	}
}

// Speak posts the request and decodes the audio payload.
func (e *HTTPEngine) Speak(ctx context.Context, sreq Request) (*Result, error) {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer e.sem.Release(1)

	payload, err := json.Marshal(speakRequest{
		Text:     sreq.Text,
		VoiceID:  sreq.VoiceID,
		Language: sreq.Language,
		Speed:    sreq.Speed,
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("speech request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("speech API error (status %d): %s", resp.StatusCode, truncate(body, 256))
	}

	var sr speakResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	pcm, err := base64.StdEncoding.DecodeString(sr.Audio)
	if err != nil {
		return nil, fmt.Errorf("decode audio payload: %w", err)
	}
	rate := sr.SampleRate
	if rate <= 0 {
		rate = audio.DefaultSampleRate
	}

	return &Result{
		Samples:     audio.DecodePCM16(pcm),
		SampleRate:  rate,
		Duration:    sr.Duration,
		WordTimings: sr.WordTimings,
	}, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
