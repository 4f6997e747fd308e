package commands

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awssns "github.com/aws/aws-sdk-go-v2/service/sns"
	goredis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/AshkanYarmoradi/go-relay"
	"github.com/AshkanYarmoradi/go-relay/adapters"
	"github.com/AshkanYarmoradi/go-relay/adapters/memory"
	"github.com/AshkanYarmoradi/go-relay/adapters/postgres"
	redisstore "github.com/AshkanYarmoradi/go-relay/adapters/redis"
	"github.com/AshkanYarmoradi/go-relay/cli/config"
	"github.com/AshkanYarmoradi/go-relay/codec/msgpack"
	"github.com/AshkanYarmoradi/go-relay/codec/protobuf"
	"github.com/AshkanYarmoradi/go-relay/logging"
	"github.com/AshkanYarmoradi/go-relay/middleware/metrics"
	"github.com/AshkanYarmoradi/go-relay/middleware/tracing"
	"github.com/AshkanYarmoradi/go-relay/transport"
	"github.com/AshkanYarmoradi/go-relay/transport/azqueue"
	"github.com/AshkanYarmoradi/go-relay/transport/kafka"
	"github.com/AshkanYarmoradi/go-relay/transport/rabbitmq"
	redistransport "github.com/AshkanYarmoradi/go-relay/transport/redis"
	"github.com/AshkanYarmoradi/go-relay/transport/sns"
)

// connector is implemented by transports that dial a broker.
type connector interface {
	Connect(ctx context.Context) error
}

// runtime is the relay stack a command runs against, built from config.
type runtime struct {
	cfg      *config.Config
	logger   *logging.Logger
	mediator *relay.Mediator
	bus      *relay.Bus
	store    adapters.ProcessedStore
	metrics  *metrics.Metrics
	closers  []func() error
}

// loadConfig finds relay.yaml from the working directory upward, falling
// back to defaults, then applies RELAY_* overrides and validates.
func loadConfig(path string) (*config.Config, error) {
	var cfg *config.Config
	var err error

	if path != "" {
		cfg, err = config.LoadFile(path)
		if err != nil {
			return nil, err
		}
	} else {
		wd, _ := os.Getwd()
		_, cfg, err = config.FindConfig(wd)
		if errors.Is(err, os.ErrNotExist) {
			cfg, err = config.DefaultConfig(), nil
		}
		if err != nil {
			return nil, err
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %s", errs[0])
	}
	return cfg, nil
}

// newRuntime builds and connects the stack. out receives trace output.
func newRuntime(ctx context.Context, cfg *config.Config, out io.Writer, busOpts ...relay.BusOption) (*runtime, error) {
	logger, err := logging.NewWithLevel(cfg.Log.Level, cfg.Log.Format == "json")
	if err != nil {
		return nil, err
	}
	logger = logger.With("service", cfg.Service)

	r := &runtime{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.New(metrics.WithMetricsServiceName(cfg.Service)),
	}

	var tracer *tracing.Tracer
	if cfg.Tracing.Enabled {
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(out))
		if err != nil {
			return nil, fmt.Errorf("tracing: %w", err)
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
		r.closers = append(r.closers, func() error { return tp.Shutdown(context.Background()) })
		tracer = tracing.NewTracer(tracing.WithTracerProvider(tp), tracing.WithServiceName(cfg.Service))
	}

	middleware := []relay.Middleware{relay.RecoveryMiddleware(), r.metrics.Middleware()}
	if tracer != nil {
		middleware = append(middleware, tracing.Middleware(tracer))
	}
	r.mediator = relay.NewMediator(relay.WithLogger(logger), relay.WithMiddleware(middleware...))

	store, err := r.openStore(ctx)
	if err != nil {
		_ = r.Close()
		return nil, err
	}
	r.store = store

	t, err := r.openTransport(ctx)
	if err != nil {
		_ = r.Close()
		return nil, err
	}

	busStore := store
	if tracer != nil {
		t = tracing.NewTransportMiddleware(t, tracer)
		busStore = tracing.NewStoreMiddleware(store, tracer)
	}

	r.bus = relay.NewBus(t, append([]relay.BusOption{
		relay.WithProcessedStore(busStore),
		relay.WithProcessedTTL(cfg.Store.TTL),
		relay.WithBusLogger(logger),
		relay.WithPublishObserver(r.metrics),
	}, busOpts...)...)
	return r, nil
}

// newStoreRuntime opens only the processed-key store.
func newStoreRuntime(ctx context.Context, cfg *config.Config) (*runtime, error) {
	r := &runtime{cfg: cfg}
	store, err := r.openStore(ctx)
	if err != nil {
		_ = r.Close()
		return nil, err
	}
	r.store = store
	return r, nil
}

func (r *runtime) codec() relay.Codec {
	switch r.cfg.Transport.Codec {
	case "msgpack":
		return msgpack.NewCodec()
	case "protobuf":
		return protobuf.NewCodec()
	default:
		return relay.JSONCodec{}
	}
}

func (r *runtime) openStore(ctx context.Context) (adapters.ProcessedStore, error) {
	sc := r.cfg.Store
	switch sc.Kind {
	case config.StoreRedis:
		opts, err := goredis.ParseURL(sc.URL)
		if err != nil {
			return nil, fmt.Errorf("store: %w", err)
		}
		client := goredis.NewClient(opts)
		r.closers = append(r.closers, client.Close)

		var storeOpts []redisstore.Option
		if sc.Prefix != "" {
			storeOpts = append(storeOpts, redisstore.WithPrefix(sc.Prefix))
		}
		store := redisstore.NewProcessedStore(client, storeOpts...)
		if err := store.Ping(ctx); err != nil {
			return nil, fmt.Errorf("store: %w", err)
		}
		return store, nil

	case config.StorePostgres:
		db, err := postgres.Open(ctx, sc.URL)
		if err != nil {
			return nil, fmt.Errorf("store: %w", err)
		}
		r.closers = append(r.closers, db.Close)
		return openPostgresStore(ctx, db, sc)

	default:
		store := memory.NewProcessedStore()
		r.closers = append(r.closers, store.Close)
		return store, nil
	}
}

func openPostgresStore(ctx context.Context, db *sql.DB, sc config.StoreConfig) (*postgres.ProcessedStore, error) {
	var opts []postgres.ProcessedStoreOption
	if sc.Schema != "" {
		opts = append(opts, postgres.WithSchema(sc.Schema))
	}
	if sc.Table != "" {
		opts = append(opts, postgres.WithTable(sc.Table))
	}
	store := postgres.NewProcessedStore(db, opts...)
	if err := store.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	return store, nil
}

func (r *runtime) openTransport(ctx context.Context) (relay.Transport, error) {
	tc := r.cfg.Transport
	base := []transport.Option{
		transport.WithMediator(r.mediator),
		transport.WithCodec(r.codec()),
		transport.WithLogger(r.logger),
		transport.WithEnv(r.cfg.Env),
	}

	var t relay.Transport
	switch tc.Kind {
	case config.TransportKafka:
		t = kafka.New(kafka.WithBrokers(tc.Kafka.Brokers...), kafka.WithConfig(base...))
	case config.TransportRabbitMQ:
		opts := []rabbitmq.Option{rabbitmq.WithConfig(base...)}
		if tc.RabbitMQ.URL != "" {
			opts = append(opts, rabbitmq.WithURL(tc.RabbitMQ.URL))
		}
		if tc.RabbitMQ.Prefetch > 0 {
			opts = append(opts, rabbitmq.WithPrefetch(tc.RabbitMQ.Prefetch))
		}
		t = rabbitmq.New(opts...)
	case config.TransportRedis:
		url := tc.Redis.URL
		if url == "" {
			url = "redis://localhost:6379/0"
		}
		opts, err := goredis.ParseURL(url)
		if err != nil {
			return nil, fmt.Errorf("transport: %w", err)
		}
		client := goredis.NewClient(opts)
		r.closers = append(r.closers, client.Close)
		t = redistransport.New(client, redistransport.WithChannelPrefix(tc.Redis.ChannelPrefix), redistransport.WithConfig(base...))
	case config.TransportSNS:
		opts := []sns.Option{sns.WithSNSClient(newSNSClient(tc.SNS)), sns.WithConfig(base...)}
		if tc.SNS.TopicARNPrefix != "" {
			opts = append(opts, sns.WithTopicARNPrefix(tc.SNS.TopicARNPrefix))
		}
		if tc.SNS.MessageGroupID != "" {
			opts = append(opts, sns.WithMessageGroupID(tc.SNS.MessageGroupID))
		}
		t = sns.New(opts...)
	case config.TransportAzQueue:
		opts := []azqueue.Option{azqueue.WithConnectionString(tc.AzQueue.ConnectionString), azqueue.WithConfig(base...)}
		if tc.AzQueue.QueuePrefix != "" {
			opts = append(opts, azqueue.WithQueuePrefix(tc.AzQueue.QueuePrefix))
		}
		t = azqueue.New(opts...)
	default:
		return relay.NewLocalTransport(r.mediator.Integrations(), relay.WithLocalLogger(r.logger)), nil
	}

	if c, ok := t.(connector); ok {
		if err := c.Connect(ctx); err != nil {
			return nil, fmt.Errorf("connect %s: %w", t.Name(), err)
		}
	}
	return t, nil
}

// newSNSClient builds an SNS client from the standard AWS_* credential
// variables.
func newSNSClient(cfg config.SNSConfig) *awssns.Client {
	creds := aws.CredentialsProviderFunc(func(ctx context.Context) (aws.Credentials, error) {
		id, secret := os.Getenv("AWS_ACCESS_KEY_ID"), os.Getenv("AWS_SECRET_ACCESS_KEY")
		if id == "" || secret == "" {
			return aws.Credentials{}, errors.New("AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY are required")
		}
		return aws.Credentials{
			AccessKeyID:     id,
			SecretAccessKey: secret,
			SessionToken:    os.Getenv("AWS_SESSION_TOKEN"),
			Source:          "environment",
		}, nil
	})

	opts := awssns.Options{
		Region:      cfg.Region,
		Credentials: aws.NewCredentialsCache(creds),
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return awssns.New(opts)
}

// Close closes the bus, which closes the transport, then every other
// resource in reverse order of opening.
func (r *runtime) Close() error {
	var errs []error
	if r.bus != nil {
		errs = append(errs, r.bus.Close())
	}
	for i := len(r.closers) - 1; i >= 0; i-- {
		errs = append(errs, r.closers[i]())
	}
	return errors.Join(errs...)
}
