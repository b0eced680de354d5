package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"iris/config"
	"iris/constant"
	"iris/entities"
	jobHandler "iris/handler"
	"iris/pkg/analysis"
	"iris/pkg/media"
	"iris/pkg/observability"
	"iris/pkg/rabbitmq"
	"iris/pkg/slack"
	"iris/pkg/transcription"
	"iris/pkg/trello"
	"iris/repository"
	"iris/service"
)

func RunHttp(cfg *config.Config) {
	ctx, cancel := signal.NotifyContext(setupLogger(cfg), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Bool("isProduction", cfg.IsProduction()).Send()
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	store, err := OpenStore(ctx, cfg)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("OpenStore")
		return
	}
	defer store.Close()

	minioClient, err := config.NewMinIOClient(cfg.MinIO)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("NewMinIOClient")
		return
	}
	if err := media.EnsureBucket(ctx, minioClient, cfg.MinIO.Bucket); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("bucket", cfg.MinIO.Bucket).Msg("EnsureBucket")
		return
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	var (
		publisher service.EventPublisher = rabbitmq.NopPublisher{}
		conn      *amqp.Connection
	)
	if cfg.Queue.Enabled {
		conn, err = config.NewRabbitMQConn(ctx, cfg.Queue)
		if err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Msg("NewRabbitMQConn")
			return
		}
		p, err := rabbitmq.NewPublisher(ctx, conn, cfg.Queue)
		if err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Msg("NewPublisher")
			return
		}
		publisher = p
	}

	transcriber := transcription.New(transcription.Config{
		APIKey:  cfg.OpenAI.APIKey,
		BaseURL: cfg.OpenAI.BaseURL,
		Model:   cfg.OpenAI.TranscriptionModel,
	})
	analyzer := analysis.New(analysis.Config{
		APIKey:  cfg.OpenAI.APIKey,
		BaseURL: cfg.OpenAI.BaseURL,
		Model:   cfg.OpenAI.AnalysisModel,
	})
	var extractor service.AudioExtractor
	if cfg.Pipeline.ExtractAudio {
		extractor = service.NewFFmpegExtractor(cfg.Pipeline.FFmpegPath)
	}

	meetings := service.NewLifecycle(service.LifecycleDependencies{
		Store:       store,
		Media:       media.NewMinIOStore(minioClient, cfg.MinIO.Bucket, cfg.MinIO.PresignExpiry),
		Transcriber: transcriber,
		Analyzer:    analyzer,
		Extractor:   extractor,
		Publisher:   publisher,
		Metrics:     metrics,
		Tracer:      observability.NewTracer(),
		Config: service.PipelineConfig{
			DecisionTimeout:      cfg.Pipeline.DecisionTimeout,
			TranscriptionTimeout: cfg.Pipeline.TranscriptionTimeout,
			AnalysisTimeout:      cfg.Pipeline.AnalysisTimeout,
			MaxUploadBytes:       cfg.Pipeline.MaxUploadBytes,
		},
	})
	if err := meetings.Load(ctx); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to load meetings")
		return
	}
	tasks := service.NewTaskService(store, meetings)
	integrations := service.NewIntegrationService(
		trello.New(trello.Config{APIKey: cfg.Trello.APIKey, Token: cfg.Trello.Token, BaseURL: cfg.Trello.BaseURL}),
		slack.New(slack.Config{Token: cfg.Slack.Token, APIURL: cfg.Slack.APIURL}),
		meetings,
		tasks,
	)
	if conn != nil {
		startShareConsumer(ctx, cfg, conn, integrations)
	}

	r := NewRouter(*zerolog.Ctx(ctx), Dependencies{
		Meetings:     meetings,
		Tasks:        tasks,
		Chat:         service.NewChatService(meetings, analyzer, metrics),
		Integrations: integrations,
		Transcriber:  transcriber,
		Analyzer:     analyzer,
		Gatherer:     registry,
		Auth: AuthConfig{
			JWTSecret: cfg.Auth.JWTSecret,
			Identity:  entities.Uploader{Name: cfg.Identity.Name, Email: cfg.Identity.Email},
		},
	})

	handler := http.Server{
		Handler:           r,
		Addr:              fmt.Sprintf(":%s", cfg.Server.HttpPort),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Str("port", cfg.Server.HttpPort).Msg("start http server")
		if err := handler.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zerolog.Ctx(ctx).Error().Str("env", cfg.App.Environment).Msg(err.Error())
			cancel()
		}
	}()

	<-ctx.Done()
	// a second signal terminates immediately
	cancel()
	zerolog.Ctx(ctx).Info().Msg("shutting down server")
	shutdownCtx, done := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
	defer done()
	if err := handler.Shutdown(shutdownCtx); err != nil {
		zerolog.Ctx(ctx).Error().Str("env", cfg.App.Environment).Msg(err.Error())
	}
	if err := meetings.Shutdown(shutdownCtx); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("meeting pipelines did not stop in time")
	}

	zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Msg("server shutdown")
}

// startShareConsumer posts the summary of every meeting that reaches Ready.
func startShareConsumer(ctx context.Context, cfg *config.Config, conn *amqp.Connection, integrations service.IntegrationService) {
	deps := jobHandler.ServiceDependencies{
		Integrations: integrations,
		ShareChannel: cfg.Slack.AutoShareChannel,
	}
	binding := rabbitmq.Binding{
		Exchange:   cfg.Queue.ExchangeName,
		Kind:       cfg.Queue.Kind,
		Queue:      cfg.Queue.ShareQueue,
		RoutingKey: "meeting." + strings.ToLower(string(constant.StageReady)),
	}
	shareConsumer := rabbitmq.NewConsumer(conn, binding, cfg.Server.Workers, cfg.Queue.MaxRetries, jobHandler.ShareReadyMeeting)
	go func() {
		err := shareConsumer.Consume(ctx, deps)
		if err != nil && !errors.Is(err, context.Canceled) {
			zerolog.Ctx(ctx).Error().Err(err).Msg("Share consumer error")
		}
	}()
}

// OpenStore opens and provisions the record store.
func OpenStore(ctx context.Context, cfg *config.Config) (repository.RecordStore, error) {
	store, err := repository.Open(repository.Config{
		Driver:    cfg.Store.Driver,
		DSN:       cfg.Store.DSN,
		Workspace: cfg.App.Workspace,
		Debug:     cfg.Store.Debug,
	})
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

func setupLogger(cfg *config.Config) context.Context {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if cfg.App.Environment == constant.EnvironmentDevelop.String() {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	// Log to standard output
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	ctx := logger.WithContext(context.Background())

	return ctx
}
