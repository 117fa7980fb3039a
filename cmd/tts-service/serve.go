package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/tts-gateway/internal/api"
	"github.com/book-expert/tts-gateway/internal/config"
	"github.com/book-expert/tts-gateway/internal/core"
	"github.com/book-expert/tts-gateway/internal/objectstore"
	"github.com/book-expert/tts-gateway/internal/service"
	"github.com/book-expert/tts-gateway/internal/slots"
	"github.com/book-expert/tts-gateway/internal/stats"
	"github.com/book-expert/tts-gateway/internal/tts"
	"github.com/book-expert/tts-gateway/internal/tts/text"
	"github.com/book-expert/tts-gateway/internal/worker"
	"github.com/labstack/echo/v4"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v3"
)

const (
	workerQueue      = "tts-gateway"
	shutdownTimeout  = 10 * time.Second
	redisPingTimeout = 2 * time.Second
	redisIOTimeout   = 200 * time.Millisecond
	redisMaxRetries  = 1
	statsBuffer      = 4096
)

// ErrNATSURLEmpty indicates serve was started without a NATS server to
// store text and audio in.
var ErrNATSURLEmpty = errors.New("nats.url is required to serve")

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP API and the NATS worker",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, log, err := bootstrap(cmd.String(flagConfig))
			if err != nil {
				return err
			}
			defer closeLogger(log)

			err = serve(ctx, cfg, log)
			if err != nil {
				log.Error("Gateway stopped: %v", err)
			}

			return err
		},
	}
}

func serve(parent context.Context, cfg *config.Config, log *logger.Logger) error {
	if cfg.NATS.URL == "" {
		return ErrNATSURLEmpty
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	natsConnection, err := nats.Connect(cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}
	defer natsConnection.Close()

	jetStream, err := natsConnection.JetStream()
	if err != nil {
		return fmt.Errorf("failed to get JetStream context: %w", err)
	}

	inputs, err := objectstore.New(jetStream, cfg.NATS.TextObjectStoreBucket, cfg.NATS.PublicURLPrefix)
	if err != nil {
		return err
	}

	outputs, err := objectstore.New(jetStream, cfg.NATS.AudioObjectStoreBucket, cfg.NATS.PublicURLPrefix)
	if err != nil {
		return err
	}

	scheduler, err := buildScheduler(cfg, log)
	if err != nil {
		return err
	}

	memory := stats.NewMemoryRecorder()

	recorder, closeRecorder := buildRecorder(ctx, cfg.Redis, memory, log)
	defer closeRecorder()

	svc, err := buildService(cfg, service.Dependencies{
		Scheduler: scheduler,
		Inputs:    inputs,
		Outputs:   outputs,
		Recorder:  recorder,
		Log:       log,
	})
	if err != nil {
		return err
	}

	var natsWorker *worker.NatsWorker

	if cfg.NATS.TextProcessedSubject != "" {
		natsWorker, err = worker.NewNatsWorker(natsConnection, worker.Config{
			Subject:      cfg.NATS.TextProcessedSubject,
			Queue:        workerQueue,
			AudioSubject: cfg.NATS.AudioChunkCreatedSubject,
			Timeout:      cfg.TTS.Timeout(),
		}, svc, log)
		if err != nil {
			return err
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	api.SetupRouter(e, api.RouterConfig{
		Service:       svc,
		Log:           log,
		UserHeader:    cfg.Server.UserHeader,
		RatePerSecond: cfg.Server.RateLimitPerSecond,
		Burst:         cfg.Server.RateLimitBurst,
		Stats:         memory,
	})

	var waitGroup sync.WaitGroup

	errChan := make(chan error, 2)

	waitGroup.Add(1)

	go func() {
		defer waitGroup.Done()

		log.System("HTTP API listening on %s with %d slots", cfg.Server.ListenAddr, len(cfg.Slots))

		startErr := e.Start(cfg.Server.ListenAddr)
		if startErr != nil && !errors.Is(startErr, http.ErrServerClosed) {
			errChan <- fmt.Errorf("http server: %w", startErr)
		}
	}()

	if natsWorker != nil {
		waitGroup.Add(1)

		go func() {
			defer waitGroup.Done()

			runErr := natsWorker.Run(ctx)
			if runErr != nil {
				errChan <- fmt.Errorf("nats worker: %w", runErr)
			}
		}()
	}

	var runErr error

	select {
	case <-ctx.Done():
		log.System("Shutdown signal received, draining")
	case runErr = <-errChan:
	}

	// Stops the worker; the HTTP server is shut down below.
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	shutdownErr := e.Shutdown(shutdownCtx)
	if shutdownErr != nil {
		log.Warn("HTTP shutdown: %v", shutdownErr)
	}

	waitGroup.Wait()

	return runErr
}

// buildScheduler creates one synthesizer per configured slot and a
// round-robin scheduler over them.
func buildScheduler(cfg *config.Config, log *logger.Logger) (*slots.Scheduler[core.Synthesizer], error) {
	registry, err := slots.NewRegistry(cfg.SlotNames(), func(name string) (core.Synthesizer, error) {
		slotCfg, _ := cfg.Slot(name)

		return tts.NewSynthesizer(slotCfg, log)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build slot registry: %w", err)
	}

	return slots.NewScheduler(registry), nil
}

// buildRecorder always records into memory and additionally into Redis when
// an address is configured. The returned func closes the Redis client.
func buildRecorder(
	ctx context.Context,
	cfg config.RedisConfig,
	memory *stats.MemoryRecorder,
	log *logger.Logger,
) (stats.Recorder, func()) {
	if cfg.Addr == "" {
		return memory, func() {}
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:                  cfg.Addr,
		Password:              cfg.Password,
		DB:                    cfg.DB,
		DialTimeout:           redisIOTimeout,
		ReadTimeout:           redisIOTimeout,
		WriteTimeout:          redisIOTimeout,
		ContextTimeoutEnabled: true,
		MaxRetries:            redisMaxRetries,
	})

	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()

	pingErr := rdb.Ping(pingCtx).Err()
	if pingErr != nil {
		log.Warn("Redis at %s is not reachable yet, statistics will retry per event: %v", cfg.Addr, pingErr)
	}

	// Redis writes happen off the request path; a slow server only costs
	// dropped statistics.
	redisRecorder := stats.NewAsync(
		stats.NewRedisRecorder(rdb,
			stats.WithRedisPrefix(cfg.Prefix),
			stats.WithRedisTTL(cfg.RedisTTL()),
		),
		stats.WithAsyncBuffer(statsBuffer),
		stats.WithAsyncErrorHandler(func(err error) {
			log.Warn("Failed to write admission statistics to redis: %v", err)
		}),
	)

	return stats.Fanout{memory, redisRecorder}, func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer closeCancel()

		flushErr := redisRecorder.Close(closeCtx)
		if flushErr != nil {
			log.Warn("Dropped unflushed redis statistics: %v", flushErr)
		}

		if dropped := redisRecorder.Dropped(); dropped > 0 {
			log.Warn("Dropped %d admission events while redis was slow", dropped)
		}

		closeErr := rdb.Close()
		if closeErr != nil {
			log.Warn("Failed to close redis client: %v", closeErr)
		}
	}
}

// buildService completes deps with the speaker and text settings from cfg.
func buildService(cfg *config.Config, deps service.Dependencies) (*service.Service, error) {
	deps.Profile = core.SpeakerProfile{
		ReferencePath: cfg.Speaker.ReferencePath,
		Language:      cfg.Speaker.Language,
	}
	deps.Params = core.Parameters{
		Emotion:      cfg.Speaker.Emotion,
		SpeakingRate: cfg.Speaker.SpeakingRate,
		PitchStd:     cfg.Speaker.PitchStd,
		Temperature:  cfg.Speaker.EffectiveTemperature(),
		Seed:         cfg.Speaker.Seed,
	}

	if cfg.TTS.NormalizeText {
		deps.Normalizer = text.NewNormalizer(cfg.Speaker.Language)
	}

	continueOnError := true
	if cfg.TTS.ContinueOnError != nil {
		continueOnError = *cfg.TTS.ContinueOnError
	}

	svc, err := service.New(deps, service.Options{
		OutputPrefix:     cfg.TTS.OutputPrefix,
		QuestionFormat:   cfg.TTS.QuestionFormat,
		TextExtension:    cfg.TTS.TextExtension,
		Timeout:          cfg.TTS.Timeout(),
		BatchAcquisition: cfg.TTS.BatchAcquisition,
		ContinueOnError:  continueOnError,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create service: %w", err)
	}

	return svc, nil
}
