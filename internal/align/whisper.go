package align

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/sushil32/Neura/internal/audio"
)

// WhisperBackend aligns words against an OpenAI-compatible
// /v1/audio/transcriptions endpoint, using word-level timestamps from the
// verbose_json response format.
type WhisperBackend struct {
	url    string
	model  string
	client *http.Client
}

type whisperResponse struct {
	Text     string  `json:"text"`
	Duration float64 `json:"duration"`
	Words    []struct {
		Word  string  `json:"word"`
		Start float64 `json:"start"`
		End   float64 `json:"end"`
	} `json:"words"`
}

// NewWhisperBackend creates a backend for the given endpoint. An empty
// model means the server's default.
func NewWhisperBackend(url, model string, timeout time.Duration) *WhisperBackend {
	return &WhisperBackend{
		url:    url,
		model:  model,
		client: &http.Client{Timeout: timeout},
	}
}

// AlignWords sends the audio as an in-memory WAV and returns the word
// timestamps the server reports. The prompt field carries the known text
// to bias decoding toward it.
func (wb *WhisperBackend) AlignWords(ctx context.Context, text string, samples []float64, sampleRate int) ([]WordTiming, error) {
	wav, err := audio.EncodeWAV(samples, sampleRate)
	if err != nil {
		return nil, fmt.Errorf("encode audio: %w", err)
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", "speech.wav")
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(wav); err != nil {
		return nil, fmt.Errorf("write audio data: %w", err)
	}

	if wb.model != "" {
		w.WriteField("model", wb.model)
	}
	w.WriteField("language", "en")
	w.WriteField("response_format", "verbose_json")
	w.WriteField("timestamp_granularities[]", "word")
	if text != "" {
		w.WriteField("prompt", text)
	}
	w.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, wb.url, &buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := wb.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("alignment request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("alignment API error (status %d): %s", resp.StatusCode, string(body))
	}

	var result whisperResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	out := make([]WordTiming, 0, len(result.Words))
	for _, rw := range result.Words {
		out = append(out, WordTiming{
			Word:       rw.Word,
			Start:      rw.Start,
			End:        rw.End,
			Confidence: 1.0,
		})
	}
	return out, nil
}
