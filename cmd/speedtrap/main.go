package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"speedtrap-service/internal/admission"
	"speedtrap-service/internal/config"
	"speedtrap-service/internal/db"
	"speedtrap-service/internal/logger"
	"speedtrap-service/internal/notify"
	"speedtrap-service/internal/pipeline"
	"speedtrap-service/internal/plate"
	"speedtrap-service/internal/repository"
	"speedtrap-service/internal/service"
	"speedtrap-service/internal/speed"
	"speedtrap-service/internal/storage"
	"speedtrap-service/internal/tracking"
	"speedtrap-service/internal/video"
)

func main() {
	os.Exit(run())
}

// run owns every resource of the worker so deferred closes happen before the
// process exits.
func run() int {
	input := pflag.String("input", "", "override video input (device index, file path or stream URL)")
	speedLimit := pflag.Float64("speed-limit", 0, "override speed limit in km/h")
	pflag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 1
	}
	if *input != "" {
		cfg.Video.Input = *input
	}
	if pflag.CommandLine.Changed("speed-limit") {
		if *speedLimit <= 0 || *speedLimit >= cfg.Violation.SanityCeiling {
			fmt.Fprintf(os.Stderr, "--speed-limit must be in (0, %.0f)\n", cfg.Violation.SanityCeiling)
			return 1
		}
		cfg.Violation.SpeedLimit = *speedLimit
	}

	appLogger := logger.New(cfg.Environment)

	if cfg.Plate.AnthropicAPIKey == "" {
		appLogger.Error().Msg("ANTHROPIC_API_KEY is required for plate recognition")
		return 1
	}

	database, err := db.New(cfg, appLogger)
	if err != nil {
		appLogger.Error().Err(err).Msg("failed to connect database")
		return 1
	}

	violationRepo := repository.NewViolationRepository(database)
	violationService := service.NewViolationService(violationRepo, appLogger)

	recognizer := plate.NewClaudeRecognizer(plate.ClaudeConfig{
		APIKey:    cfg.Plate.AnthropicAPIKey,
		Model:     cfg.Plate.Model,
		BaseURL:   cfg.Plate.AnthropicURL,
		MinLength: cfg.Violation.MinPlateLength,
		MaxLength: cfg.Plate.MaxLength,
	}, appLogger)

	detector, err := video.NewYOLODetector(video.DetectorConfig{
		WeightsPath: cfg.Video.ModelPath,
		ConfigPath:  cfg.Video.ModelConfig,
		Classes:     cfg.Video.Classes,
		Confidence:  cfg.Video.Confidence,
		InputSize:   cfg.Video.InputSize,
	})
	if err != nil {
		appLogger.Error().Err(err).Msg("failed to load detector")
		return 1
	}
	defer detector.Close()

	source, err := video.Open(cfg.Video.Input, cfg.Video.FPS)
	if err != nil {
		appLogger.Error().Err(err).Msg("failed to open video source")
		return 1
	}
	defer source.Close()

	size := source.Size()
	appLogger.Info().
		Str("input", cfg.Video.Input).
		Float64("fps", source.FPS()).
		Int("width", size.X).
		Int("height", size.Y).
		Msg("video source opened")

	dispatcher, err := buildNotifier(cfg, appLogger)
	if err != nil {
		appLogger.Error().Err(err).Msg("failed to initialize notifications")
		return 1
	}

	snapshots, err := buildSnapshotStore(cfg, appLogger)
	if err != nil {
		appLogger.Error().Err(err).Msg("failed to initialize R2 client")
		return 1
	}

	processor, err := pipeline.NewProcessor(pipeline.Config{
		Location: cfg.Violation.Location,
		Tracking: tracking.Config{
			IOUThreshold: cfg.Tracking.IOUThreshold,
			MaxAge:       cfg.Tracking.MaxAge,
		},
		Speed: speed.Config{
			DistanceCalibration: cfg.Speed.DistanceCalibration,
			MaxAgeFrames:        cfg.Speed.MaxAgeFrames,
		},
		Admission: admission.Config{
			SpeedLimit:      cfg.Violation.SpeedLimit,
			SanityCeiling:   cfg.Violation.SanityCeiling,
			MinPlateLength:  cfg.Violation.MinPlateLength,
			WindowSeconds:   cfg.Violation.WindowSeconds,
			RetainedBuckets: cfg.Violation.RetainedBuckets,
		},
	}, pipeline.Deps{
		Detector:   detector,
		Recognizer: recognizer,
		Sink:       violationService,
		Notifier:   dispatcher,
		Snapshots:  snapshots,
	}, appLogger)
	if err != nil {
		appLogger.Error().Err(err).Msg("failed to build pipeline")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Уведомления дочитываются из очереди после остановки цикла кадров
	notifyCtx, cancelNotify := context.WithCancel(context.Background())
	defer cancelNotify()

	started := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return dispatcher.Run(notifyCtx)
	})
	g.Go(func() error {
		defer cancelNotify()
		stats, err := processor.Run(gctx, source)
		appLogger.Info().
			Str("run_id", processor.RunID()).
			Int("frames", stats.Frames).
			Int("violations", stats.Violations).
			Int("duplicates", stats.Duplicates).
			Dur("elapsed", time.Since(started)).
			Msg("frame processing finished")
		return err
	})

	return exitCode(g.Wait(), appLogger)
}

// exitCode logs the outcome of a run and maps it to a process exit status.
func exitCode(err error, log zerolog.Logger) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, pipeline.ErrDetection):
		log.Error().Err(err).Msg("detector failed, stopping")
	default:
		log.Error().Err(err).Msg("processing stopped with error")
	}
	return 1
}

func buildNotifier(cfg *config.Config, log zerolog.Logger) (*notify.Async, error) {
	logNotifier, err := notify.NewLogNotifier(cfg.Notification.LogFile, log)
	if err != nil {
		return nil, err
	}
	notifiers := notify.Multi{logNotifier}

	if cfg.Notification.SlackToken != "" && cfg.Notification.SlackChannel != "" {
		notifiers = append(notifiers, notify.NewSlackNotifier(
			slack.New(cfg.Notification.SlackToken),
			cfg.Notification.SlackChannel,
		))
		log.Info().Str("channel", cfg.Notification.SlackChannel).Msg("slack notifications enabled")
	}

	if smtpCfg := cfg.Notification.SMTP; smtpCfg.Enabled() {
		notifiers = append(notifiers, notify.NewEmailNotifier(notify.EmailConfig{
			Host:       smtpCfg.Host,
			Port:       smtpCfg.Port,
			Username:   smtpCfg.Username,
			Password:   smtpCfg.Password,
			Sender:     smtpCfg.Sender,
			Recipients: smtpCfg.Recipients,
		}))
		log.Info().Strs("recipients", smtpCfg.Recipients).Msg("email notifications enabled")
	}

	return notify.NewAsync(notifiers, cfg.Notification.QueueSize, log), nil
}

func buildSnapshotStore(cfg *config.Config, log zerolog.Logger) (pipeline.SnapshotStore, error) {
	local := storage.NewLocalStore(cfg.Violation.OutputDir)

	// R2 is optional; without it snapshots stay on local disk
	r2Client, err := storage.NewR2ClientFromEnv()
	if err != nil {
		if !errors.Is(err, storage.ErrNotConfigured) {
			return nil, err
		}
		log.Warn().Str("dir", cfg.Violation.OutputDir).Msg("R2 storage not configured, snapshots are saved locally")
		return local, nil
	}
	return storage.NewFallback(r2Client, local, log), nil
}
