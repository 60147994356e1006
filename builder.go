package identitykit

import (
	"fmt"
	"io"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/identitykit/identitykit/internal/blocking"
	"github.com/identitykit/identitykit/internal/codes"
	"github.com/identitykit/identitykit/internal/flows"
	"github.com/identitykit/identitykit/internal/idgen"
	"github.com/identitykit/identitykit/internal/metrics"
	"github.com/identitykit/identitykit/internal/store"
	"github.com/identitykit/identitykit/internal/trigger"
)

// Builder assembles an Engine. All With* methods are optional; Build on a
// fresh Builder yields a self-contained engine with an embedded redis.
type Builder struct {
	config      Config
	redisClient redis.UniversalClient
	logger      *zap.Logger
	random      io.Reader
	sink        trigger.Sink
	eventWriter io.Writer

	built bool
}

// New returns a Builder loaded with DefaultConfig.
func New() *Builder {
	return &Builder{config: DefaultConfig()}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithRedis points the ephemeral code stores at an existing client. The
// engine does not close a client it did not create.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redisClient = client
	return b
}

// WithLogger injects a logger. The default is a no-op logger, which also
// silences the developer-facing OOB link and SMS code output.
func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithRandom replaces the randomness source behind every generated id,
// code and token. Tests use this for deterministic output.
func (b *Builder) WithRandom(r io.Reader) *Builder {
	b.random = r
	return b
}

// WithEventWriter streams user lifecycle events to w as JSON lines.
// Implies Events.Enabled.
func (b *Builder) WithEventWriter(w io.Writer) *Builder {
	b.eventWriter = w
	return b
}

// WithEventSink routes user lifecycle events to a custom sink.
// Implies Events.Enabled.
func (b *Builder) WithEventSink(sink EventSink) *Builder {
	b.sink = sink
	return b
}

// Build validates the configuration and assembles the engine. A Builder
// builds at most once.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, fmt.Errorf("identitykit: builder already used")
	}
	if err := b.config.Validate(); err != nil {
		return nil, err
	}
	b.built = true

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	client := b.redisClient
	var mini *miniredis.Miniredis
	ownClient := false
	if client == nil {
		addr := b.config.RedisAddr
		if addr == "" {
			m, err := miniredis.Run()
			if err != nil {
				return nil, fmt.Errorf("identitykit: start embedded redis: %w", err)
			}
			mini = m
			addr = m.Addr()
		}
		client = redis.NewClient(&redis.Options{Addr: addr})
		ownClient = true
	}

	gen := idgen.New(b.random)
	m := metrics.New(b.config.Metrics.Enabled, b.config.Metrics.SignInLatency)

	sink := b.sink
	if sink == nil && b.eventWriter != nil {
		sink = trigger.NewJSONWriterSink(b.eventWriter)
	}
	events := trigger.NewDispatcher(trigger.Config{
		Enabled:    b.config.Events.Enabled || sink != nil,
		BufferSize: b.config.Events.BufferSize,
		DropIfFull: b.config.Events.DropIfFull,
	}, sink)

	gateway := blocking.New(nil, gen, logger, b.config.BlockingFunctionTimeout)

	prefix := b.config.KeyPrefix
	service := flows.NewService(flows.Options{
		Oob:      codes.NewOobStore(client, prefix, gen),
		Phone:    codes.NewPhoneStore(client, prefix, gen),
		Proofs:   codes.NewProofStore(client, prefix, gen),
		Refresh:  codes.NewRefreshStore(client, prefix, gen),
		Blocking: gateway,
		Gen:      gen,
		Metrics:  m,
		Events:   events,
		Logger:   logger,
		LinkBase: b.config.LinkBase,
	})

	return &Engine{
		config:    b.config,
		registry:  store.NewRegistry(gen),
		service:   service,
		events:    events,
		metrics:   m,
		logger:    logger,
		redis:     client,
		ownClient: ownClient,
		mini:      mini,
	}, nil
}
