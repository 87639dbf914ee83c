package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"lifeline/internal/db"
	"lifeline/internal/lifecycle"
	"lifeline/internal/match"
	"lifeline/internal/metrics"
	"lifeline/internal/notify"
	"lifeline/internal/registry"
	"lifeline/internal/server"
	"lifeline/internal/storage"
	"lifeline/internal/store"
	"lifeline/internal/store/memory"
	"lifeline/pkg/types"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/lestrrat-go/httprc/v3"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

var serveCommand = &cli.Command{
	Name:  "serve",
	Usage: "Start the HTTP server",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "memory",
			Usage: "Keep all state in process memory instead of Postgres",
		},
		&cli.BoolFlag{
			Name:  "insecure-dev-auth",
			Usage: "Trust bearer tokens of the form <user>[:admin] without verification",
		},
	},
	Action: serve,
}

type requestStore interface {
	lifecycle.RequestStore
	match.RequestStore
}

type notificationStore interface {
	notify.NotificationWriter
	notify.InboxStore
}

type backends struct {
	donors        registry.DonorStore
	requests      requestStore
	notifications notificationStore
	documents     lifecycle.DocumentStore
	close         func()
}

func openBackends(ctx context.Context, config *types.Config, inMemory bool) (*backends, error) {
	if inMemory {
		st := memory.New()
		return &backends{donors: st, requests: st, notifications: st, documents: st, close: func() {}}, nil
	}

	pool, err := db.Connect(ctx, config)
	if err != nil {
		return nil, err
	}

	return &backends{
		donors:        store.NewDonorRepository(pool),
		requests:      store.NewRequestRepository(pool),
		notifications: store.NewNotificationRepository(pool),
		documents:     store.NewDocumentRepository(pool),
		close:         pool.Close,
	}, nil
}

func serve(cCtx *cli.Context) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	inMemory := cCtx.Bool("memory")

	config, err := loadConfig(!inMemory)
	if err != nil {
		return err
	}

	logger := newLogger(config, true)

	stores, err := openBackends(ctx, config, inMemory)
	if err != nil {
		return err
	}
	defer stores.close()

	var awsConfig *aws.Config
	needAWS := config.S3BucketName != "" || slices.Contains(config.NotifySinks, "sqs")
	if needAWS {
		cfg, err := loadAWSConfig(ctx)
		if err != nil {
			return err
		}
		awsConfig = &cfg
	}

	m := metrics.New(prometheus.DefaultRegisterer)

	sinks, closeSinks, err := buildSinks(config, logger, awsConfig, stores.notifications)
	if err != nil {
		return err
	}
	defer closeSinks()

	dispatcher := notify.NewAsyncDispatcher(logger, m, config.NotifyBuffer, sinks...)

	lifecycleOpts := []lifecycle.Option{
		lifecycle.WithLogger(logger),
		lifecycle.WithMetrics(m),
	}
	switch {
	case config.S3BucketName != "":
		objects := storage.NewS3Storage(s3.NewFromConfig(*awsConfig), config.S3BucketName)
		lifecycleOpts = append(lifecycleOpts, lifecycle.WithDocuments(stores.documents, objects))
	case inMemory:
		lifecycleOpts = append(lifecycleOpts, lifecycle.WithDocuments(stores.documents, storage.NewMemoryStorage()))
	default:
		logger.Warn("S3_BUCKET_NAME not set, prescription uploads are disabled")
	}

	registrySvc := registry.New(stores.donors, dispatcher,
		registry.WithLogger(logger),
		registry.WithMetrics(m),
		registry.WithRadius(config.MatchRadiusKm),
	)
	lifecycleSvc := lifecycle.New(stores.requests, stores.donors, dispatcher, lifecycleOpts...)
	coordinator := match.New(stores.requests, stores.donors, dispatcher,
		match.WithLogger(logger),
		match.WithMetrics(m),
		match.WithRadius(config.MatchRadiusKm),
	)

	verifier, err := buildVerifier(ctx, config, logger, cCtx.Bool("insecure-dev-auth"))
	if err != nil {
		return err
	}

	srv, err := server.New(
		config,
		logger,
		registrySvc,
		lifecycleSvc,
		coordinator,
		notify.NewInbox(stores.notifications),
		verifier,
		promhttp.Handler(),
	)
	if err != nil {
		return err
	}

	// The dispatcher outlives the HTTP server so in-flight handlers can still
	// enqueue while it shuts down.
	dispatchCtx, stopDispatch := context.WithCancel(context.Background())
	defer stopDispatch()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return dispatcher.Run(dispatchCtx, config.NotifyWorkers)
	})

	g.Go(func() error {
		logger.WithFields(logrus.Fields{
			"port":   config.ServerPort,
			"memory": inMemory,
			"sinks":  config.NotifySinks,
		}).Infof("server starting http://localhost:%d", config.ServerPort)

		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		err := srv.Stop(shutdownCtx)
		stopDispatch()
		return err
	})

	return g.Wait()
}

func buildVerifier(ctx context.Context, config *types.Config, logger *logrus.Logger, insecure bool) (server.TokenVerifier, error) {
	if insecure {
		logger.Warn("insecure dev auth enabled, bearer tokens are not verified")
		return server.DevVerifier{}, nil
	}

	if config.AuthJWKSURL == "" {
		return nil, fmt.Errorf("set AUTH_JWKS_URL or pass --insecure-dev-auth")
	}

	jwkCache, err := jwk.NewCache(ctx, httprc.NewClient())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize jwk cache: %w", err)
	}

	if err := jwkCache.Register(ctx, config.AuthJWKSURL); err != nil {
		return nil, fmt.Errorf("failed to register jwks url with cache: %w", err)
	}

	return server.NewJWKSVerifier(jwkCache, config.AuthJWKSURL, config.AuthRoleClaim), nil
}

// buildSinks wires every sink named in NOTIFY_SINKS. The returned func closes
// the network clients.
func buildSinks(config *types.Config, logger *logrus.Logger, awsConfig *aws.Config, inbox notify.NotificationWriter) ([]notify.Sink, func(), error) {
	var (
		sinks   []notify.Sink
		closers []func() error
	)

	closeAll := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				logger.WithError(err).Warn("failed to close notification sink")
			}
		}
	}

	for _, name := range config.NotifySinks {
		switch name {
		case "log":
			sinks = append(sinks, notify.NewLogSink(logger))
		case "store":
			sinks = append(sinks, notify.NewStoreSink(inbox))
		case "sqs":
			sinks = append(sinks, notify.NewSQSSink(sqs.NewFromConfig(*awsConfig), config.SQSQueueURL))
		case "kafka":
			writer := notify.NewKafkaWriter(config.KafkaBrokers, config.KafkaTopic)
			closers = append(closers, writer.Close)
			sinks = append(sinks, notify.NewKafkaSink(writer))
		case "redis":
			opts, err := redis.ParseURL(config.RedisURL)
			if err != nil {
				closeAll()
				return nil, nil, fmt.Errorf("failed to parse REDIS_URL: %w", err)
			}
			client := redis.NewClient(opts)
			closers = append(closers, client.Close)
			sinks = append(sinks, notify.NewRedisSink(client, config.RedisChannelPrefix))
		}
	}

	return sinks, closeAll, nil
}
