package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/local/smartgarden/internal/ai"
	"github.com/local/smartgarden/internal/auth"
	cfgpkg "github.com/local/smartgarden/internal/config"
	"github.com/local/smartgarden/internal/imagecodec"
	logpkg "github.com/local/smartgarden/internal/logger"
	"github.com/local/smartgarden/internal/metrics"
	"github.com/local/smartgarden/internal/responder"
	"github.com/local/smartgarden/internal/server"
	"github.com/local/smartgarden/internal/statuscheck"
	"github.com/local/smartgarden/internal/storage"
	"github.com/local/smartgarden/internal/store"
	"github.com/local/smartgarden/internal/weather"
)

func main() {
	cfg, err := cfgpkg.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	initLogging(cfg, os.Stderr)
	defer logpkg.Close()

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb, err := store.NewRedisClient(ctx, cfg.Redis.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer rdb.Close()

	// Photos in S3 are optional; without a bucket only local refs resolve.
	var (
		fetcher  imagecodec.Fetcher
		uploader server.Uploader
		s3Health statuscheck.Pinger
	)
	if cfg.Storage.Bucket != "" {
		s3c, err := storage.NewS3Client(ctx, storage.Options{
			Bucket:          cfg.Storage.Bucket,
			Region:          cfg.Storage.Region,
			Endpoint:        cfg.Storage.Endpoint,
			AccessKeyID:     cfg.Storage.AccessKeyID,
			SecretAccessKey: cfg.Storage.SecretAccessKey,
			UsePathStyle:    cfg.Storage.UsePathStyle,
		})
		if err != nil {
			log.Warn().Err(err).Msg("S3 disabled")
		} else {
			fetcher, uploader, s3Health = s3c, s3c, s3c
		}
	}

	gemini, err := ai.NewGeminiClient(ctx, ai.GeminiOptions{
		APIKey:      cfg.Gemini.APIKey,
		Model:       cfg.Gemini.Model,
		BaseURL:     cfg.Gemini.BaseURL,
		MaxTokens:   cfg.Gemini.MaxTokens,
		Temperature: cfg.Gemini.Temperature,
		Timeout:     cfg.Gemini.RequestTimeout,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init gemini client")
	}

	bot := responder.New(gemini, imagecodec.New(fetcher), responder.Config{
		Model:        cfg.Gemini.Model,
		MaxRetries:   cfg.Retry.MaxRetries,
		InitialDelay: cfg.Retry.InitialDelay,
		HintBuffer:   cfg.Retry.HintBuffer,
	})

	var forecast server.Weather
	if cfg.Weather.APIKey != "" {
		forecast = weather.NewClient(weather.Options{
			APIKey:          cfg.Weather.APIKey,
			URL:             cfg.Weather.URL,
			DefaultLocation: cfg.Weather.DefaultLocation,
			Timeout:         cfg.Weather.Timeout,
		})
	} else {
		log.Warn().Msg("WEATHER_API_KEY not set - /api/weather disabled")
	}

	api := server.New(server.Dependencies{
		Responder: bot,
		Plants:    store.NewPlantStore(rdb, cfg.Redis.PlantsKey),
		Auth:      auth.NewService(rdb, cfg.Redis.SessionTTL),
		Uploader:  uploader,
		Weather:   forecast,
		Status: statuscheck.New(statuscheck.Options{
			Redis:     store.Health{Client: rdb},
			S3:        s3Health,
			GeminiKey: cfg.Gemini.APIKey,
			Model:     cfg.Gemini.Model,
		}),
		PhotoBucket:  cfg.Storage.Bucket,
		UploadPrefix: cfg.Storage.UploadPrefix,
		MaxBodyBytes: cfg.HTTP.MaxBodyBytes,
	})

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{Addr: addr, Handler: api.Handler()}

	go func() {
		log.Info().Str("model", gemini.Model()).Msgf("HTTP server listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	log.Info().Msg("shutdown complete")
}

// initLogging installs the global logger. Failures are reported on stderr and
// the service keeps running with whatever sinks could be set up.
func initLogging(cfg cfgpkg.Config, stderr io.Writer) {
	err := logpkg.Init(logpkg.Options{
		Level:        cfg.Logging.Level,
		Pretty:       cfg.Logging.Pretty,
		File:         cfg.Logging.File,
		MaxSizeMB:    cfg.Logging.MaxSizeMB,
		MaxBackups:   cfg.Logging.MaxBackups,
		MaxAgeDays:   cfg.Logging.MaxAgeDays,
		Compress:     cfg.Logging.Compress,
		SendToAxiom:  cfg.Axiom.Send && cfg.Axiom.APIKey != "",
		AxiomAPIKey:  cfg.Axiom.APIKey,
		AxiomOrgID:   cfg.Axiom.OrgID,
		AxiomDataset: cfg.Axiom.Dataset,
		AxiomFlush:   cfg.Axiom.FlushInterval,
	})
	if err != nil {
		fmt.Fprintf(stderr, "logger: %v\n", err)
	}
}
