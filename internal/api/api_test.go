package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/sushil32/Neura/internal/align"
	"github.com/sushil32/Neura/internal/assets"
	"github.com/sushil32/Neura/internal/config"
	"github.com/sushil32/Neura/internal/credits"
	"github.com/sushil32/Neura/internal/events"
	"github.com/sushil32/Neura/internal/jobs"
	"github.com/sushil32/Neura/internal/live"
	"github.com/sushil32/Neura/internal/render"
	"github.com/sushil32/Neura/internal/speech"
	"github.com/sushil32/Neura/internal/storage"
)

// stubMuxer writes a marker file so finalize has something to upload.
// Handler tests never exec ffmpeg.
type stubMuxer struct{}

func (stubMuxer) Mux(_ context.Context, _ *render.Clip, _ []byte, _ string, outPath string) error {
	return os.WriteFile(outPath, []byte("mp4"), 0o644)
}

type apiRig struct {
	store     *jobs.MemoryStore
	pool      *jobs.WorkerPool
	bus       *events.Bus
	artifacts *storage.LocalStore
	ts        *httptest.Server
}

func newTestServer(t *testing.T, cfg *config.Config) *apiRig {
	t.Helper()

	assetRoot := t.TempDir()
	facePath := filepath.Join(assetRoot, "faces", "ava.png")
	if err := os.MkdirAll(filepath.Dir(facePath), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(facePath, []byte("png"), 0o644); err != nil {
		t.Fatal(err)
	}
	catalog, err := assets.NewCatalog(assetRoot, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}

	rig := &apiRig{
		store:     jobs.NewMemoryStore(),
		bus:       events.NewBus(256),
		artifacts: storage.NewLocalStore(t.TempDir()),
	}
	synth := speech.New(nil, zerolog.Nop())
	aligner := align.New(nil, zerolog.Nop())
	orch := jobs.NewOrchestrator(jobs.OrchestratorOptions{
		Store:        rig.store,
		Speech:       synth,
		Aligner:      aligner,
		Muxer:        stubMuxer{},
		Artifacts:    rig.artifacts,
		Assets:       catalog,
		Estimator:    credits.NewEstimator(0),
		Charger:      credits.NewNoopCharger(zerolog.Nop()),
		Bus:          rig.bus,
		ScratchDir:   t.TempDir(),
		RetryBackoff: time.Millisecond,
		Log:          zerolog.Nop(),
	})
	// The pool is never started: submitted jobs stay pending, which keeps
	// handler behavior deterministic.
	rig.pool = jobs.NewWorkerPool(jobs.WorkerPoolOptions{
		Store:        rig.store,
		Orchestrator: orch,
		Log:          zerolog.Nop(),
	})

	manager := live.NewManager(0, zerolog.Nop())
	factory := func(tr live.Transport, faceID, voiceID string) *live.Session {
		return live.NewSession(tr, live.Options{
			Speech:  synth,
			Aligner: aligner,
			FaceID:  faceID,
			VoiceID: voiceID,
			Log:     zerolog.Nop(),
		})
	}

	if cfg == nil {
		cfg = &config.Config{}
	}
	srv := NewServer(cfg, Deps{
		Store:      rig.store,
		Pool:       rig.pool,
		Bus:        rig.bus,
		Artifacts:  rig.artifacts,
		Assets:     catalog,
		Live:       manager,
		NewSession: factory,
		Version:    "test",
		StartTime:  time.Now(),
	}, zerolog.Nop())

	rig.ts = httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		rig.ts.Close()
		manager.CloseAll()
	})
	return rig
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestJobRoutes(t *testing.T) {
	rig := newTestServer(t, nil)
	base := rig.ts.URL + "/api/v1"

	t.Run("submit", func(t *testing.T) {
		resp := doJSON(t, http.MethodPost, base+"/jobs", jobs.Request{Text: "hello", FaceID: "ava", UserID: "u1"})
		if resp.StatusCode != http.StatusAccepted {
			t.Fatalf("status = %d, want 202", resp.StatusCode)
		}
		job := decodeBody[jobs.Job](t, resp)
		if job.ID == "" || job.Status != jobs.StatusPending {
			t.Fatalf("job = %+v", job)
		}
		if job.Width != 1280 || job.FPS != 30 {
			t.Errorf("defaults not applied: %dx%d@%d", job.Width, job.Height, job.FPS)
		}
	})

	t.Run("submit_empty_text", func(t *testing.T) {
		resp := doJSON(t, http.MethodPost, base+"/jobs", jobs.Request{FaceID: "ava"})
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", resp.StatusCode)
		}
	})

	t.Run("submit_bad_body", func(t *testing.T) {
		resp, err := http.Post(base+"/jobs", "application/json", strings.NewReader("{not json"))
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", resp.StatusCode)
		}
	})

	t.Run("get_and_list", func(t *testing.T) {
		resp := doJSON(t, http.MethodPost, base+"/jobs", jobs.Request{Text: "second", FaceID: "ava"})
		created := decodeBody[jobs.Job](t, resp)

		resp = doJSON(t, http.MethodGet, base+"/jobs/"+created.ID, nil)
		got := decodeBody[jobs.Job](t, resp)
		if got.ID != created.ID || got.Text != "second" {
			t.Fatalf("got = %+v", got)
		}

		resp = doJSON(t, http.MethodGet, base+"/jobs?status=pending", nil)
		list := decodeBody[struct {
			Jobs  []jobs.Job `json:"jobs"`
			Count int        `json:"count"`
		}](t, resp)
		if list.Count < 2 || len(list.Jobs) != list.Count {
			t.Fatalf("list = %+v", list)
		}
	})

	t.Run("get_unknown", func(t *testing.T) {
		resp := doJSON(t, http.MethodGet, base+"/jobs/nope", nil)
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("status = %d, want 404", resp.StatusCode)
		}
	})

	t.Run("list_bad_status", func(t *testing.T) {
		resp := doJSON(t, http.MethodGet, base+"/jobs?status=bogus", nil)
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", resp.StatusCode)
		}
	})

	t.Run("cancel", func(t *testing.T) {
		resp := doJSON(t, http.MethodPost, base+"/jobs", jobs.Request{Text: "doomed", FaceID: "ava"})
		created := decodeBody[jobs.Job](t, resp)

		resp = doJSON(t, http.MethodDelete, base+"/jobs/"+created.ID, nil)
		resp.Body.Close()
		if resp.StatusCode != http.StatusAccepted {
			t.Fatalf("cancel status = %d, want 202", resp.StatusCode)
		}

		// Second cancel conflicts: the job is already terminal.
		resp = doJSON(t, http.MethodDelete, base+"/jobs/"+created.ID, nil)
		resp.Body.Close()
		if resp.StatusCode != http.StatusConflict {
			t.Fatalf("repeat cancel status = %d, want 409", resp.StatusCode)
		}

		resp = doJSON(t, http.MethodDelete, base+"/jobs/nope", nil)
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("unknown cancel status = %d, want 404", resp.StatusCode)
		}
	})

	t.Run("queue_stats", func(t *testing.T) {
		resp := doJSON(t, http.MethodGet, base+"/queue", nil)
		stats := decodeBody[jobs.QueueStats](t, resp)
		if stats.Pending == 0 {
			t.Error("expected pending jobs in queue stats")
		}
	})
}

func TestArtifactRoute(t *testing.T) {
	rig := newTestServer(t, nil)
	base := rig.ts.URL + "/api/v1"

	job := jobs.NewJob(jobs.Request{Text: "done", FaceID: "ava"})
	job.ArtifactKey = jobs.ArtifactKeyFor(job.ID)
	if err := rig.store.Create(context.Background(), job); err != nil {
		t.Fatal(err)
	}
	payload := []byte("fake-video-bytes")
	if err := rig.artifacts.Save(context.Background(), job.ArtifactKey, payload, "video/mp4"); err != nil {
		t.Fatal(err)
	}

	resp := doJSON(t, http.MethodGet, base+"/jobs/"+job.ID+"/artifact", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "video/mp4" {
		t.Errorf("content type = %q", ct)
	}
	var buf bytes.Buffer
	buf.ReadFrom(resp.Body)
	if !bytes.Equal(buf.Bytes(), payload) {
		t.Errorf("body = %q", buf.String())
	}

	// Job without an artifact yet.
	pending := jobs.NewJob(jobs.Request{Text: "later", FaceID: "ava"})
	if err := rig.store.Create(context.Background(), pending); err != nil {
		t.Fatal(err)
	}
	resp = doJSON(t, http.MethodGet, base+"/jobs/"+pending.ID+"/artifact", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("pending artifact status = %d, want 404", resp.StatusCode)
	}
}

func TestAssetRoutes(t *testing.T) {
	rig := newTestServer(t, nil)
	resp := doJSON(t, http.MethodGet, rig.ts.URL+"/api/v1/assets/faces", nil)
	faces := decodeBody[struct {
		Faces []struct {
			ID string `json:"id"`
		} `json:"faces"`
		Count int `json:"count"`
	}](t, resp)
	if faces.Count != 1 || faces.Faces[0].ID != "ava" {
		t.Fatalf("faces = %+v", faces)
	}

	resp = doJSON(t, http.MethodGet, rig.ts.URL+"/api/v1/assets/voices", nil)
	voices := decodeBody[struct {
		Count int `json:"count"`
	}](t, resp)
	if voices.Count != 0 {
		t.Fatalf("voices count = %d, want 0", voices.Count)
	}
}

func TestHealthRoute(t *testing.T) {
	rig := newTestServer(t, nil)
	resp := doJSON(t, http.MethodGet, rig.ts.URL+"/api/v1/health", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	health := decodeBody[HealthResponse](t, resp)
	if health.Version != "test" {
		t.Errorf("version = %q", health.Version)
	}
	if health.Checks["database"] != "not_configured" {
		t.Errorf("database check = %q", health.Checks["database"])
	}
	if health.Checks["storage"] != "local" {
		t.Errorf("storage check = %q", health.Checks["storage"])
	}
	if health.Queue == nil {
		t.Error("queue stats missing")
	}
}

func TestAuthToken(t *testing.T) {
	rig := newTestServer(t, &config.Config{AuthToken: "sekrit"})
	base := rig.ts.URL + "/api/v1"

	resp := doJSON(t, http.MethodGet, base+"/jobs", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d, want 401", resp.StatusCode)
	}

	// Health stays open for probes.
	resp = doJSON(t, http.MethodGet, base+"/health", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d, want 200", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, base+"/jobs", nil)
	req.Header.Set("Authorization", "Bearer sekrit")
	authed, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	authed.Body.Close()
	if authed.StatusCode != http.StatusOK {
		t.Fatalf("authenticated status = %d, want 200", authed.StatusCode)
	}
}

func TestEventStreamReplay(t *testing.T) {
	rig := newTestServer(t, nil)

	rig.bus.Publish(events.EventData{Type: "job", SubType: "created", JobID: "a"})
	rig.bus.Publish(events.EventData{Type: "job", SubType: "progress", JobID: "a"})
	rig.bus.Publish(events.EventData{Type: "session", SubType: "started", SessionID: "s"})
	buffered := rig.bus.ReplaySince("", events.Filter{})
	if len(buffered) != 3 {
		t.Fatalf("buffered = %d, want 3", len(buffered))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rig.ts.URL+"/api/v1/events/stream?types=job", nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Last-Event-ID", buffered[0].ID)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	// One job event follows the Last-Event-ID cursor; the session event is
	// filtered out.
	scanner := bufio.NewScanner(resp.Body)
	var ids []string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "id: ") {
			ids = append(ids, strings.TrimPrefix(line, "id: "))
			if len(ids) == 1 {
				break
			}
		}
	}
	if len(ids) != 1 || ids[0] != buffered[1].ID {
		t.Fatalf("replayed ids = %v, want [%s]", ids, buffered[1].ID)
	}
}

func TestLiveWebSocket(t *testing.T) {
	rig := newTestServer(t, nil)

	wsURL := "ws" + strings.TrimPrefix(rig.ts.URL, "http") + "/api/v1/live?face_id=ava"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))

	var hello struct {
		Type      string       `json:"type"`
		SessionID string       `json:"session_id"`
		Quality   live.Quality `json:"quality"`
	}
	if err := conn.ReadJSON(&hello); err != nil {
		t.Fatalf("hello: %v", err)
	}
	if hello.Type != "session" || hello.SessionID == "" {
		t.Fatalf("hello = %+v", hello)
	}
	if hello.Quality.Width == 0 {
		t.Errorf("quality not set: %+v", hello.Quality)
	}

	if err := conn.WriteJSON(clientMessage{Type: "say", Text: "hi"}); err != nil {
		t.Fatal(err)
	}

	var gotAudio, gotFrame bool
	for !(gotAudio && gotFrame) {
		kind, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v (audio=%v frame=%v)", err, gotAudio, gotFrame)
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		if len(msg) < 9 {
			t.Fatalf("short binary message: %d bytes", len(msg))
		}
		switch msg[0] {
		case wsKindAudio:
			gotAudio = true
		case wsKindFrame:
			gotFrame = true
			ts := math.Float64frombits(binary.BigEndian.Uint64(msg[1:9]))
			if ts < 0 {
				t.Errorf("frame timestamp = %v", ts)
			}
			if len(msg) == 9 {
				t.Error("empty frame payload")
			}
		}
	}

	conn.WriteJSON(clientMessage{Type: "close"})
}

func TestLiveRequiresFaceID(t *testing.T) {
	rig := newTestServer(t, nil)
	resp := doJSON(t, http.MethodGet, rig.ts.URL+"/api/v1/live", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}
