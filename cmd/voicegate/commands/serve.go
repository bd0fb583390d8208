package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/spf13/cobra"

	"github.com/echoear/voicegate/cmd/voicegate/internal/config"
	"github.com/echoear/voicegate/pkg/audio"
	"github.com/echoear/voicegate/pkg/blob"
	"github.com/echoear/voicegate/pkg/gateway"
	"github.com/echoear/voicegate/pkg/meeting"
	"github.com/echoear/voicegate/pkg/provider"
	"github.com/echoear/voicegate/pkg/session"
	"github.com/echoear/voicegate/pkg/store"
)

var (
	flagConfig string
	flagListen string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the voice gateway server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&flagConfig, "config", "f", "", "configuration file (YAML)")
	serveCmd.Flags().StringVar(&flagListen, "listen", "", "listen address (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}
	if flagListen != "" {
		cfg.Listen = flagListen
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	chains, err := provider.BuildChains(cfg.Providers)
	if err != nil {
		return fmt.Errorf("%w; set providers.default (cloud mode) or providers.user (full/hybrid) in the config file", err)
	}
	routerOpts := []provider.RouterOption{provider.WithLogger(logger)}
	if cfg.Meeting.CallTimeoutSeconds > 0 {
		routerOpts = append(routerOpts,
			provider.WithCallTimeout(time.Duration(cfg.Meeting.CallTimeoutSeconds)*time.Second))
	}
	router := provider.NewRouter(chains, routerOpts...)

	records, err := newRecordStore(cfg.Meeting)
	if err != nil {
		return err
	}
	defer records.Close()

	archive, err := newArchive(cfg.Meeting.Archive)
	if err != nil {
		return err
	}

	var push meeting.Notifier
	if cfg.Meeting.PushURL != "" {
		push = meeting.NewWebhook(cfg.Meeting.PushURL, cfg.Meeting.PushToken)
	}
	pipeline := meeting.New(router, meeting.Options{
		SegmentWindow: time.Duration(cfg.Meeting.SegmentSeconds) * time.Second,
		Concurrency:   cfg.Meeting.Concurrency,
		Store:         records,
		Archive:       archive,
		Push:          push,
		Logger:        logger,
	})

	format := audio.Format{SampleRate: cfg.Audio.SampleRate, Channels: cfg.Audio.Channels}
	gw := gateway.New(gateway.Options{
		Session: session.Options{
			Format:        format,
			FrameDuration: cfg.Audio.FrameDuration(),
			Router:        router,
			Meetings:      pipeline,
			Records:       records,
			MaxUtterance:  time.Duration(cfg.Audio.MaxUtteranceSeconds) * time.Second,
			MaxMeeting:    time.Duration(cfg.Audio.MaxMeetingMinutes) * time.Minute,
			Logger:        logger,
		},
		Logger: logger,
	})

	mux := http.NewServeMux()
	mux.Handle(cfg.Path, gw)
	srv := &http.Server{Addr: cfg.Listen, Handler: mux}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("voicegate listening",
			"addr", cfg.Listen,
			"path", cfg.Path,
			"mode", cfg.Providers.Mode)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := gw.Shutdown(shutdownCtx); err != nil {
		logger.Warn("session shutdown incomplete", "error", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "", "info":
		l = slog.LevelInfo
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: l}))
}

func newRecordStore(cfg config.Meeting) (store.Store, error) {
	if cfg.DataDir == "" {
		return store.NewMemory(), nil
	}
	return store.NewBadger(store.BadgerOptions{Dir: cfg.DataDir})
}

func newArchive(cfg config.Archive) (blob.Store, error) {
	switch cfg.Type {
	case "":
		return nil, nil
	case "local":
		root := cfg.Root
		if root == "" {
			root = "./data/audio"
		}
		return blob.NewLocal(root)
	case "s3":
		opts := s3.Options{Region: cfg.Region}
		if opts.Region == "" {
			opts.Region = "us-east-1"
		}
		if cfg.Endpoint != "" {
			opts.BaseEndpoint = aws.String(cfg.Endpoint)
			opts.UsePathStyle = true
		}
		if cfg.AccessKey != "" {
			opts.Credentials = aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
				return aws.Credentials{
					AccessKeyID:     cfg.AccessKey,
					SecretAccessKey: cfg.SecretKey,
				}, nil
			})
		}
		return blob.NewS3(s3.New(opts), cfg.Bucket, cfg.Prefix), nil
	default:
		return nil, fmt.Errorf("unknown archive type %q", cfg.Type)
	}
}
