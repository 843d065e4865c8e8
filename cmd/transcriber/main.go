package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/skypro1111/realtime-asr-service/internal/audio"
	"github.com/skypro1111/realtime-asr-service/internal/boundary"
	"github.com/skypro1111/realtime-asr-service/internal/config"
	"github.com/skypro1111/realtime-asr-service/internal/format"
	"github.com/skypro1111/realtime-asr-service/internal/metrics"
	"github.com/skypro1111/realtime-asr-service/internal/pipeline"
	"github.com/skypro1111/realtime-asr-service/internal/segment"
	"github.com/skypro1111/realtime-asr-service/internal/server"
	"github.com/skypro1111/realtime-asr-service/internal/session"
	"github.com/skypro1111/realtime-asr-service/internal/transcribe"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "realtime-asr-service"
	serviceVersion    = "1.0.0"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	inputPath := flag.String("input", "", "Path to input WAV file (16-bit mono PCM)")
	outputPath := flag.String("output", "", "Path to write the transcript (stdout if empty)")
	realtime := flag.Bool("realtime", false, "Pace input at capture speed instead of as fast as possible")
	flag.Parse()

	if *inputPath == "" {
		fmt.Fprintln(os.Stderr, "Usage: transcriber -input recording.wav [-config configs/config.yaml]")
		os.Exit(1)
	}

	// Load .env for ${VAR} expansion in the config file, if present
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
		slog.String("input", *inputPath),
	)

	logger.Info("Configuration loaded",
		slog.Int("sample_rate", cfg.Audio.SampleRate),
		slog.String("language", cfg.Audio.Language),
		slog.Float64("min_chunk_duration", cfg.Segmenter.MinChunkDuration),
		slog.Float64("max_chunk_duration", cfg.Segmenter.MaxChunkDuration),
		slog.Int("workers", cfg.Pipeline.Workers),
		slog.Bool("format_enabled", cfg.Pipeline.FormatEnabled),
		slog.String("asr_endpoint", cfg.ASR.Endpoint),
		slog.String("log_level", cfg.Logging.Level),
	)

	appMetrics := metrics.NewMetrics()
	logger.Info("Prometheus metrics initialized")

	asrClient, err := transcribe.NewClient(transcribe.Config{
		Endpoint:      cfg.ASR.Endpoint,
		APIKey:        cfg.ASR.APIKey,
		Model:         cfg.ASR.Model,
		Language:      cfg.Audio.Language,
		Prompt:        cfg.ASR.Prompt,
		Temperature:   cfg.ASR.Temperature,
		Timeout:       cfg.ASR.GetTimeoutDuration(),
		MaxConcurrent: cfg.ASR.MaxConcurrent,
	})
	if err != nil {
		logger.Error("Failed to create transcription client", slog.String("error", err.Error()))
		os.Exit(1)
	}

	var formatter pipeline.Formatter
	if cfg.Pipeline.FormatEnabled {
		formatClient, err := format.NewClient(format.Config{
			APIKey:      cfg.Formatter.APIKey,
			BaseURL:     cfg.Formatter.BaseURL,
			Model:       cfg.Formatter.Model,
			Prompt:      cfg.Formatter.Prompt,
			StyleGuide:  cfg.Formatter.StyleGuide,
			Temperature: cfg.Formatter.Temperature,
			Timeout:     cfg.Formatter.GetTimeoutDuration(),
		})
		if err != nil {
			logger.Error("Failed to create formatting client", slog.String("error", err.Error()))
			os.Exit(1)
		}
		formatter = formatClient
	}

	sessConfig := session.Config{
		Boundary: boundary.Config{
			SampleRate:   cfg.Audio.SampleRate,
			NoiseFloor:   cfg.Boundary.NoiseFloor,
			LongSilence:  cfg.Boundary.GetLongSilenceDuration(),
			ShortSilence: cfg.Boundary.GetShortSilenceDuration(),
		},
		Segmenter: segment.Config{
			SampleRate:         cfg.Audio.SampleRate,
			Language:           cfg.Audio.Language,
			MinChunkDuration:   cfg.Segmenter.GetMinChunkDuration(),
			SilenceCheckStart:  cfg.Segmenter.GetSilenceCheckStartDuration(),
			PrioritySplitStart: cfg.Segmenter.GetPrioritySplitStartDuration(),
			MaxChunkDuration:   cfg.Segmenter.GetMaxChunkDuration(),
			SearchWindow:       cfg.Segmenter.GetSearchWindowDuration(),
			Overlaps:           cfg.Segmenter.GetOverlapDurations(),
		},
		Pipeline: pipeline.Config{
			Workers:       cfg.Pipeline.Workers,
			FormatEnabled: cfg.Pipeline.FormatEnabled,
			ReclaimEvery:  cfg.Pipeline.ReclaimEvery,
			QueueSize:     cfg.Pipeline.QueueSize,
		},
		ErrorPlaceholder: cfg.Pipeline.ErrorPlaceholder,
		EventBuffer:      cfg.Pipeline.EventBuffer,
	}

	sess, err := session.NewSession(sessConfig, asrClient, formatter, pipeline.SystemClock(), appMetrics, logger)
	if err != nil {
		logger.Error("Failed to create session", slog.String("error", err.Error()))
		os.Exit(1)
	}

	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg.HTTP, logger, cfg, sess, appMetrics)
		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	wavData, err := os.ReadFile(*inputPath)
	if err != nil {
		logger.Error("Failed to read input file", slog.String("error", err.Error()))
		os.Exit(1)
	}
	samples, wavRate, err := audio.DecodeWAV(wavData)
	if err != nil {
		logger.Error("Failed to decode input file", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if wavRate != cfg.Audio.SampleRate {
		logger.Error("Input sample rate does not match configuration",
			slog.Int("input_rate", wavRate),
			slog.Int("configured_rate", cfg.Audio.SampleRate),
		)
		os.Exit(1)
	}
	logger.Info("Input decoded",
		slog.Int("samples", len(samples)),
		slog.Duration("duration", time.Duration(len(samples))*time.Second/time.Duration(wavRate)),
	)

	if err := sess.Start(); err != nil {
		logger.Error("Failed to start session", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	g, gctx := errgroup.WithContext(ctx)

	// Feed the capture stream in 100ms steps. Stops early if a cancellation
	// resolves the session underneath us.
	g.Go(func() error {
		step := cfg.Audio.SampleRate / 10
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()

		for off := 0; off < len(samples); off += step {
			end := off + step
			if end > len(samples) {
				end = len(samples)
			}
			if err := sess.AppendSamples(samples[off:end]); err != nil {
				return fmt.Errorf("append samples: %w", err)
			}
			if *realtime {
				select {
				case <-ticker.C:
				case <-gctx.Done():
					return gctx.Err()
				}
			} else if gctx.Err() != nil {
				return gctx.Err()
			}
		}
		return nil
	})

	// Drain session events for progress logging. Runs outside the errgroup:
	// the event channel closes only once the session stops or a cancellation
	// resolves, which happens after the feeder is done.
	eventsDone := make(chan struct{})
	go func() {
		defer close(eventsDone)
		for ev := range sess.Events() {
			switch ev.Type {
			case session.EventChunk:
				attrs := []any{
					slog.Uint64("chunk_id", ev.ChunkID),
					slog.String("state", ev.ChunkState.String()),
				}
				if ev.Err != nil {
					attrs = append(attrs, slog.String("error", ev.Err.Error()))
				}
				if ev.Retries > 0 {
					attrs = append(attrs, slog.Int("retries", ev.Retries))
				}
				logger.Info("Chunk update", attrs...)
			case session.EventSessionComplete:
				logger.Info("Session complete")
			}
		}
	}()

	// Interrupt handling: first signal requests cancellation and resolves it
	// as a save, preserving everything transcribed so far.
	interrupted := make(chan struct{})
	go func() {
		sig, ok := <-sigChan
		if !ok {
			return
		}
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		close(interrupted)
		cancel()
	}()

	feedErr := g.Wait()

	var raw, formatted string
	select {
	case <-interrupted:
		if err := sess.RequestCancel(); err != nil {
			logger.Error("Cancel request failed", slog.String("error", err.Error()))
		} else if err := sess.ResolveCancel(session.ChoiceSave); err != nil {
			logger.Error("Cancel resolution failed", slog.String("error", err.Error()))
		}
		raw, formatted = sess.Transcripts()
	default:
		if feedErr != nil {
			logger.Error("Input feed failed", slog.String("error", feedErr.Error()))
			os.Exit(1)
		}
		raw, formatted, err = sess.Stop()
		if err != nil {
			logger.Error("Failed to stop session", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	signal.Stop(sigChan)
	<-eventsDone

	transcript := formatted
	if transcript == "" {
		transcript = raw
	}

	if *outputPath != "" {
		if err := os.WriteFile(*outputPath, []byte(transcript+"\n"), 0644); err != nil {
			logger.Error("Failed to write transcript", slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("Transcript written", slog.String("path", *outputPath))
	} else {
		fmt.Println(transcript)
	}

	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	info := sess.Snapshot()
	logger.Info("Final session statistics",
		slog.String("state", info.State),
		slog.Any("chunk_counts", info.ChunkCounts),
		slog.Uint64("events_dropped", info.EventsDropped),
	)

	logger.Info("Service stopped")
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
