package render

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sushil32/Neura/internal/motion"
	"github.com/sushil32/Neura/internal/viseme"
)

func testFrames(n int) []motion.Frame {
	frames := make([]motion.Frame, n)
	for i := range frames {
		frames[i] = motion.Frame{
			Index:     i,
			Timestamp: float64(i) / 30.0,
			Viseme:    viseme.AA,
			Intensity: 0.9,
			BlendShapes: map[viseme.Channel]float64{
				viseme.MouthOpen: 0.6,
				viseme.MouthWide: 0.3,
				viseme.JawOpen:   0.5,
			},
		}
	}
	return frames
}

func TestClientRenderClip(t *testing.T) {
	var polls atomic.Int32
	video := []byte("mp4-segment-bytes")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/tasks":
			var req submitRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Errorf("decode submit: %v", err)
			}
			if req.JobID != "job-1" || req.Model != ModelLipSync {
				t.Errorf("submit request = %+v", req)
			}
			w.WriteHeader(http.StatusAccepted)
			json.NewEncoder(w).Encode(submitResponse{TaskID: "task-9"})
		case r.Method == http.MethodGet && r.URL.Path == "/v1/tasks/task-9":
			st := taskStatus{Status: "processing", Progress: 0.5}
			if polls.Add(1) >= 2 {
				st = taskStatus{Status: "completed", Progress: 1}
			}
			json.NewEncoder(w).Encode(st)
		case r.Method == http.MethodGet && r.URL.Path == "/v1/tasks/task-9/result":
			w.Write(video)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewClient(ClientOptions{BaseURL: srv.URL, PollInterval: 5 * time.Millisecond})
	clip, err := c.RenderClip(context.Background(), ClipRequest{
		JobID: "job-1", Model: ModelLipSync, Frames: testFrames(3),
		Width: 640, Height: 360, FPS: 30,
	})
	if err != nil {
		t.Fatalf("RenderClip: %v", err)
	}
	if !bytes.Equal(clip.Video, video) {
		t.Errorf("video = %q", clip.Video)
	}
	if clip.Placeholder {
		t.Error("service clip marked placeholder")
	}
}

func TestClientUnreachableIsUnavailable(t *testing.T) {
	c := NewClient(ClientOptions{BaseURL: "http://127.0.0.1:1", Timeout: 200 * time.Millisecond})
	_, err := c.RenderClip(context.Background(), ClipRequest{JobID: "j"})
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
}

func TestClientStatusMapping(t *testing.T) {
	cases := map[string]struct {
		status int
		want   error
	}{
		"not_found":  {http.StatusNotFound, ErrNotFound},
		"server_err": {http.StatusInternalServerError, ErrUnavailable},
		"overloaded": {http.StatusTooManyRequests, ErrUnavailable},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			c := NewClient(ClientOptions{BaseURL: srv.URL})
			_, err := c.RenderClip(context.Background(), ClipRequest{JobID: "j"})
			if !errors.Is(err, tc.want) {
				t.Errorf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestClientTaskFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			json.NewEncoder(w).Encode(submitResponse{TaskID: "t"})
			return
		}
		json.NewEncoder(w).Encode(taskStatus{Status: "failed", Error: "oom"})
	}))
	defer srv.Close()

	c := NewClient(ClientOptions{BaseURL: srv.URL, PollInterval: 5 * time.Millisecond})
	_, err := c.RenderClip(context.Background(), ClipRequest{JobID: "j"})
	if err == nil || errors.Is(err, ErrUnavailable) {
		t.Errorf("err = %v, want task failure", err)
	}
}

func TestClientCancellationDuringPoll(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			json.NewEncoder(w).Encode(submitResponse{TaskID: "t"})
			return
		}
		json.NewEncoder(w).Encode(taskStatus{Status: "processing"})
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	c := NewClient(ClientOptions{BaseURL: srv.URL, PollInterval: 10 * time.Millisecond})
	_, err := c.RenderClip(ctx, ClipRequest{JobID: "j"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}

func TestClientBoundsConcurrentRequests(t *testing.T) {
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
		w.Write([]byte("png-bytes"))
	}))
	defer srv.Close()

	c := NewClient(ClientOptions{BaseURL: srv.URL, MaxInflight: 2})

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.RenderFrame(context.Background(), FrameParams{Frame: testFrames(1)[0]})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("RenderFrame: %v", err)
		}
	}
	if p := peak.Load(); p > 2 {
		t.Errorf("peak concurrent requests = %d, want <= 2", p)
	}
}

func TestPlaceholderDeterministic(t *testing.T) {
	p := NewPlaceholder()
	req := ClipRequest{JobID: "j", Frames: testFrames(5), Width: 64, Height: 36, FPS: 30}

	a, err := p.RenderClip(context.Background(), req)
	if err != nil {
		t.Fatalf("RenderClip: %v", err)
	}
	b, err := p.RenderClip(context.Background(), req)
	if err != nil {
		t.Fatalf("RenderClip: %v", err)
	}

	if !a.Placeholder {
		t.Error("placeholder clip not marked")
	}
	if len(a.Frames) != 5 {
		t.Fatalf("got %d frames, want 5", len(a.Frames))
	}
	for i := range a.Frames {
		if !bytes.Equal(a.Frames[i], b.Frames[i]) {
			t.Fatalf("frame %d differs between identical runs", i)
		}
	}
}

func TestPlaceholderFramesDecode(t *testing.T) {
	p := NewPlaceholder()
	clip, err := p.RenderClip(context.Background(), ClipRequest{Frames: testFrames(1), Width: 64, Height: 36})
	if err != nil {
		t.Fatalf("RenderClip: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(clip.Frames[0]))
	if err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if img.Bounds().Dx() != 64 || img.Bounds().Dy() != 36 {
		t.Errorf("frame bounds = %v", img.Bounds())
	}
}

func TestPlaceholderRenderFrame(t *testing.T) {
	p := NewPlaceholder()
	b, err := p.RenderFrame(context.Background(), FrameParams{Frame: testFrames(1)[0]})
	if err != nil {
		t.Fatalf("RenderFrame: %v", err)
	}
	if _, err := png.Decode(bytes.NewReader(b)); err != nil {
		t.Errorf("decode frame: %v", err)
	}
}
