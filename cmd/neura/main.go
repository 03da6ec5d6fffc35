package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/sushil32/Neura/internal/align"
	"github.com/sushil32/Neura/internal/api"
	"github.com/sushil32/Neura/internal/assets"
	"github.com/sushil32/Neura/internal/config"
	"github.com/sushil32/Neura/internal/credits"
	"github.com/sushil32/Neura/internal/database"
	"github.com/sushil32/Neura/internal/encode"
	"github.com/sushil32/Neura/internal/events"
	"github.com/sushil32/Neura/internal/jobs"
	"github.com/sushil32/Neura/internal/live"
	"github.com/sushil32/Neura/internal/metrics"
	"github.com/sushil32/Neura/internal/render"
	"github.com/sushil32/Neura/internal/speech"
	"github.com/sushil32/Neura/internal/storage"
)

var version = "dev"

// pipelineStats joins the worker pool and the live session manager into
// the view the metrics collector scrapes.
type pipelineStats struct {
	pool *jobs.WorkerPool
	live *live.Manager
}

func (s pipelineStats) QueuedJobCount() int64 { return s.pool.QueuedJobCount() }
func (s pipelineStats) ActiveJobCount() int64 { return s.pool.ActiveJobCount() }
func (s pipelineStats) LiveSessionCount() int { return s.live.LiveSessionCount() }

func main() {
	startTime := time.Now()

	var overrides config.Overrides
	flag.StringVar(&overrides.EnvFile, "env", "", "path to .env file")
	flag.StringVar(&overrides.HTTPAddr, "addr", "", "HTTP listen address")
	flag.StringVar(&overrides.LogLevel, "log-level", "", "log level (trace, debug, info, warn, error)")
	flag.StringVar(&overrides.DatabaseURL, "db", "", "PostgreSQL connection URL")
	flag.StringVar(&overrides.ScratchDir, "scratch", "", "scratch directory for in-flight jobs")
	flag.StringVar(&overrides.ArtifactDir, "artifacts", "", "artifact output directory")
	flag.StringVar(&overrides.AssetDir, "assets", "", "reference asset directory")
	flag.IntVar(&overrides.Workers, "workers", 0, "number of job workers")
	flag.Parse()

	cfg, err := config.Load(overrides)
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	log.Info().Str("version", version).Msg("neura starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Job store: PostgreSQL when configured, in-memory otherwise. The
	// in-memory store loses jobs on restart, which is fine for dev.
	var store jobs.Store
	var db *database.DB
	var pgPool *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		dbLog := log.With().Str("component", "database").Logger()
		db, err = database.Connect(ctx, cfg.DatabaseURL, dbLog)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer db.Close()
		if err := db.InitSchema(ctx); err != nil {
			log.Fatal().Err(err).Msg("schema init failed")
		}
		if err := db.Migrate(ctx); err != nil {
			log.Fatal().Err(err).Msg("migration failed")
		}
		store = database.NewJobStore(db)
		pgPool = db.Pool
	} else {
		log.Warn().Msg("no DATABASE_URL set, using in-memory job store")
		store = jobs.NewMemoryStore()
	}

	// Artifact storage, optionally tiered into S3.
	storageLog := log.With().Str("component", "storage").Logger()
	artifacts, services, err := storage.New(storage.Options{
		ArtifactDir: cfg.ArtifactDir,
		Bucket:      cfg.S3Bucket,
		Region:      cfg.S3Region,
		Endpoint:    cfg.S3Endpoint,
		AccessKey:   cfg.S3AccessKey,
		SecretKey:   cfg.S3SecretKey,
		PathStyle:   cfg.S3PathStyle,
		Retention:   time.Duration(cfg.ArtifactMaxDays) * 24 * time.Hour,
		JobDone: func(ctx context.Context, id string) bool {
			job, err := store.Get(ctx, id)
			if err != nil {
				return true // orphaned directory, safe to age out
			}
			return job.Status.Terminal()
		},
	}, storageLog)
	if err != nil {
		log.Fatal().Err(err).Msg("storage init failed")
	}
	for _, svc := range services {
		svc.Start()
		defer svc.Stop()
	}

	// Reference assets with hot reload.
	catalog, err := assets.NewCatalog(cfg.AssetDir, log)
	if err != nil {
		log.Fatal().Err(err).Str("dir", cfg.AssetDir).Msg("asset catalog init failed")
	}
	defer catalog.Close()
	if err := catalog.Watch(); err != nil {
		log.Warn().Err(err).Msg("asset watching unavailable, changes need a restart")
	}

	// Event distribution, optionally mirrored to MQTT.
	bus := events.NewBus(1024)
	var mqttPub *events.MQTTPublisher
	if cfg.MQTTBrokerURL != "" {
		mqttPub, err = events.NewMQTTPublisher(bus, events.MQTTOptions{
			BrokerURL: cfg.MQTTBrokerURL,
			ClientID:  cfg.MQTTClientID,
			Topic:     cfg.MQTTTopic,
			Username:  cfg.MQTTUsername,
			Password:  cfg.MQTTPassword,
			Log:       log,
		})
		if err != nil {
			log.Warn().Err(err).Msg("mqtt unavailable, continuing without event mirroring")
		} else {
			defer mqttPub.Close()
		}
	}

	// Pipeline collaborators. Unset URLs select the in-process fallbacks.
	var ttsEngine speech.Engine
	if cfg.TTSURL != "" {
		ttsEngine = speech.NewHTTPEngine(cfg.TTSURL, cfg.TTSTimeout)
	} else {
		log.Warn().Msg("no TTS_URL set, speech degrades to silence")
	}
	synth := speech.New(ttsEngine, log)

	var alignBackend align.Backend
	if cfg.AlignURL != "" {
		alignBackend = align.NewWhisperBackend(cfg.AlignURL, cfg.AlignModel, cfg.AlignTimeout)
	}
	aligner := align.New(alignBackend, log)

	var renderer render.ClipRenderer
	var frames render.FrameRenderer
	if cfg.RenderURL != "" {
		client := render.NewClient(render.ClientOptions{
			BaseURL: cfg.RenderURL,
			Timeout: cfg.RenderTimeout,
			Logger:  log,
		})
		renderer = client
		frames = client
	} else {
		log.Warn().Msg("no RENDER_URL set, rendering degrades to placeholder video")
	}

	if err := encode.CheckFFmpeg(); err != nil {
		log.Warn().Err(err).Msg("ffmpeg not found, jobs will fail at the encode step")
	}

	orch := jobs.NewOrchestrator(jobs.OrchestratorOptions{
		Store:      store,
		Speech:     synth,
		Aligner:    aligner,
		Renderer:   renderer,
		Muxer:      encode.NewMuxer(log),
		Artifacts:  artifacts,
		Assets:     catalog,
		Estimator:  credits.NewEstimator(0),
		Charger:    credits.NewNoopCharger(log),
		Bus:        bus,
		ScratchDir: cfg.ScratchDir,
		Log:        log,
	})

	if n := jobs.SweepScratch(ctx, cfg.ScratchDir, store, log); n > 0 {
		log.Info().Int("removed", n).Msg("swept stale scratch directories")
	}

	pool := jobs.NewWorkerPool(jobs.WorkerPoolOptions{
		Store:        store,
		Orchestrator: orch,
		Workers:      cfg.Workers,
		DefaultFPS:   cfg.OutputFPS,
		Log:          log,
	})
	pool.Start()
	if n, err := pool.Recover(ctx); err != nil {
		log.Warn().Err(err).Msg("job recovery failed")
	} else if n > 0 {
		log.Info().Int("jobs", n).Msg("recovered pending jobs")
	}

	// Periodic recovery drains jobs that were submitted while the queue
	// was full.
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				pool.Recover(ctx)
			}
		}
	}()

	manager := live.NewManager(cfg.LiveMaxSessions, log)
	prometheus.MustRegister(metrics.NewCollector(pgPool, pipelineStats{pool: pool, live: manager}))

	factory := func(tr live.Transport, faceID, voiceID string) *live.Session {
		return live.NewSession(tr, live.Options{
			Speech:  synth,
			Aligner: aligner,
			Frames:  frames,
			FaceID:  faceID,
			VoiceID: voiceID,
			Model:   render.Model(cfg.RenderModel),
			Log:     log,
		})
	}

	httpLog := log.With().Str("component", "http").Logger()
	srv := api.NewServer(cfg, api.Deps{
		DB:         db,
		Store:      store,
		Pool:       pool,
		Bus:        bus,
		MQTT:       mqttPub,
		Artifacts:  artifacts,
		Assets:     catalog,
		Live:       manager,
		NewSession: factory,
		Version:    version,
		StartTime:  startTime,
	}, httpLog)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}

	manager.CloseAll()
	pool.Stop()

	log.Info().Msg("neura stopped")
}
