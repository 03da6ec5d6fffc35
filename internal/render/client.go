package render

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/sushil32/Neura/internal/motion"
)

// Client talks to the neural rendering service: submit a task, poll its
// progress, download the finished segment. Connection failures and 5xx
// responses surface as ErrUnavailable, unknown tasks as ErrNotFound.
// Requests to the service are bounded by a semaphore so a burst of jobs
// or live sessions cannot overwhelm the GPU backend.
type Client struct {
	baseURL      string
	client       *http.Client
	sem          *semaphore.Weighted
	pollInterval time.Duration
	log          zerolog.Logger
}

// ClientOptions configure a Client. Zero values select defaults.
type ClientOptions struct {
	BaseURL      string
	Timeout      time.Duration
	PollInterval time.Duration
	// MaxInflight caps concurrent requests to the service. Default 8.
	MaxInflight int
	Logger      zerolog.Logger
}

// NewClient creates a rendering service client.
func NewClient(opts ClientOptions) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	if opts.MaxInflight <= 0 {
		opts.MaxInflight = 8
	}
	return &Client{
		baseURL: opts.BaseURL,
		client: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxConnsPerHost:     opts.MaxInflight,
				MaxIdleConnsPerHost: opts.MaxInflight,
			},
		},
		sem:          semaphore.NewWeighted(int64(opts.MaxInflight)),
		pollInterval: opts.PollInterval,
		log:          opts.Logger.With().Str("component", "render").Logger(),
	}
}

type submitRequest struct {
	JobID       string         `json:"job_id"`
	Model       Model          `json:"model"`
	ReferenceID string         `json:"reference_id"`
	Audio       string         `json:"audio"`
	Frames      []motion.Frame `json:"frames"`
	Width       int            `json:"width"`
	Height      int            `json:"height"`
	FPS         int            `json:"fps"`
}

type submitResponse struct {
	TaskID string `json:"task_id"`
}

type taskStatus struct {
	Status      string  `json:"status"`
	Progress    float64 `json:"progress"`
	CurrentStep string  `json:"current_step"`
	Error       string  `json:"error"`
}

// RenderClip submits the request and polls until the task finishes, then
// downloads the video segment. Honors ctx at every suspension point.
func (c *Client) RenderClip(ctx context.Context, req ClipRequest) (*Clip, error) {
	taskID, err := c.submit(ctx, req)
	if err != nil {
		return nil, err
	}

	log := c.log.With().Str("job_id", req.JobID).Str("task_id", taskID).Logger()

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		st, err := c.poll(ctx, taskID)
		if err != nil {
			return nil, err
		}
		switch st.Status {
		case "completed":
			video, err := c.download(ctx, taskID)
			if err != nil {
				return nil, err
			}
			log.Debug().Int("bytes", len(video)).Msg("Render task completed")
			return &Clip{Video: video, Width: req.Width, Height: req.Height, FPS: req.FPS}, nil
		case "failed":
			return nil, fmt.Errorf("render task failed: %s", st.Error)
		default:
			log.Trace().Str("status", st.Status).Float64("progress", st.Progress).
				Str("step", st.CurrentStep).Msg("Render task in progress")
		}
	}
}

// RenderFrame renders a single frame synchronously, for live sessions.
func (c *Client) RenderFrame(ctx context.Context, p FrameParams) ([]byte, error) {
	payload, err := json.Marshal(map[string]any{
		"reference_id": p.ReferenceID,
		"model":        p.Model,
		"frame":        p.Frame,
		"width":        p.Width,
		"height":       p.Height,
	})
	if err != nil {
		return nil, fmt.Errorf("encode frame request: %w", err)
	}

	body, status, err := c.do(ctx, http.MethodPost, c.baseURL+"/v1/frames", payload)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, statusError(status, body)
	}
	return body, nil
}

func (c *Client) submit(ctx context.Context, req ClipRequest) (string, error) {
	payload, err := json.Marshal(submitRequest{
		JobID:       req.JobID,
		Model:       req.Model,
		ReferenceID: req.ReferenceID,
		Audio:       base64.StdEncoding.EncodeToString(req.AudioWAV),
		Frames:      req.Frames,
		Width:       req.Width,
		Height:      req.Height,
		FPS:         req.FPS,
	})
	if err != nil {
		return "", fmt.Errorf("encode submit request: %w", err)
	}

	body, status, err := c.do(ctx, http.MethodPost, c.baseURL+"/v1/tasks", payload)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK && status != http.StatusAccepted {
		return "", statusError(status, body)
	}

	var sr submitResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return "", fmt.Errorf("decode submit response: %w", err)
	}
	if sr.TaskID == "" {
		return "", fmt.Errorf("submit response missing task_id")
	}
	return sr.TaskID, nil
}

func (c *Client) poll(ctx context.Context, taskID string) (*taskStatus, error) {
	body, status, err := c.do(ctx, http.MethodGet, c.baseURL+"/v1/tasks/"+taskID, nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, statusError(status, body)
	}
	var st taskStatus
	if err := json.Unmarshal(body, &st); err != nil {
		return nil, fmt.Errorf("decode task status: %w", err)
	}
	return &st, nil
}

func (c *Client) download(ctx context.Context, taskID string) ([]byte, error) {
	body, status, err := c.do(ctx, http.MethodGet, c.baseURL+"/v1/tasks/"+taskID+"/result", nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, statusError(status, body)
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("empty render result")
	}
	return body, nil
}

func (c *Client) do(ctx context.Context, method, url string, payload []byte) ([]byte, int, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, 0, err
	}
	defer c.sem.Release(1)

	var rd io.Reader
	if payload != nil {
		rd = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, 0, ctx.Err()
		}
		return nil, 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("read response: %w", err)
	}
	return body, resp.StatusCode, nil
}

func statusError(status int, body []byte) error {
	switch {
	case status == http.StatusNotFound:
		return fmt.Errorf("%w (status %d)", ErrNotFound, status)
	case status >= 500 || status == http.StatusTooManyRequests:
		return fmt.Errorf("%w (status %d): %s", ErrUnavailable, status, truncate(body, 256))
	default:
		return fmt.Errorf("render API error (status %d): %s", status, truncate(body, 256))
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
