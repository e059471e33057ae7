package engine

import (
	"context"
	"time"

	"github.com/vinayprograms/skillsynth/catalog"
	"github.com/vinayprograms/skillsynth/config"
	"github.com/vinayprograms/skillsynth/embedding"
	"github.com/vinayprograms/skillsynth/llm"
	"github.com/vinayprograms/skillsynth/logging"
	"github.com/vinayprograms/skillsynth/match"
	"github.com/vinayprograms/skillsynth/metrics"
	"github.com/vinayprograms/skillsynth/resilience"
	"github.com/vinayprograms/skillsynth/telemetry"
	"github.com/vinayprograms/skillsynth/vectorindex"
)

// Option adjusts FromConfig.
type Option func(*Deps)

// WithLogger sets the base logger. By default FromConfig logs to stdout at
// the configured level.
func WithLogger(l *logging.Logger) Option {
	return func(d *Deps) { d.Logger = l }
}

// WithMetrics sets the collectors the engine records into.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Deps) { d.Metrics = m }
}

// WithTracer sets the tracer for operation and upstream spans.
func WithTracer(t *telemetry.Tracer) Option {
	return func(d *Deps) { d.Tracer = t }
}

// FromConfig builds real backends from cfg, wraps each in a resilience
// guard and returns an Engine that owns them.
func FromConfig(cfg *config.Config, opts ...Option) (*Engine, error) {
	d := Deps{
		Workers:   cfg.Ingest.Workers,
		SkillTopK: cfg.Match.SkillTopK,
		UserTopK:  cfg.Match.UserTopK,
		MaxTopK:   cfg.Match.MaxTopK,
		Source:    cfg.Generation.Provider,
	}
	for _, opt := range opts {
		opt(&d)
	}
	if d.Logger == nil {
		d.Logger = logging.New()
		d.Logger.SetLevel(logging.ParseLevel(cfg.Logging.Level))
	}
	if d.Metrics == nil {
		d.Metrics = metrics.New()
	}
	if d.Tracer == nil {
		d.Tracer = telemetry.GetTracer()
	}

	policy, err := match.ParsePolicy(cfg.Match.SkillAnchor)
	if err != nil {
		return nil, err
	}
	d.SkillAnchor = policy

	g := guards{cfg: cfg.Resilience, logger: d.Logger.WithComponent("resilience"), metrics: d.Metrics, tracer: d.Tracer}

	emb, err := embedding.New(embedding.Config{
		Provider:  cfg.Embedding.Provider,
		BaseURL:   cfg.Embedding.BaseURL,
		Model:     cfg.Embedding.Model,
		Dimension: cfg.Embedding.Dimension,
		APIKey:    cfg.Embedding.APIKey,
		Timeout:   cfg.Embedding.Timeout.Duration,
	})
	if err != nil {
		return nil, err
	}
	d.Embedder = embedding.NewGuarded(emb, g.build(embedding.Upstream,
		cfg.Embedding.Timeout.Duration, cfg.Resilience.MaxRetries, cfg.Resilience.EmbedRate))

	gen, err := llm.NewGenerator(llm.Config{
		Provider:  cfg.Generation.Provider,
		Model:     cfg.Generation.Model,
		APIKey:    cfg.Generation.APIKey,
		BaseURL:   cfg.Generation.BaseURL,
		MaxTokens: cfg.Generation.MaxTokens,
		Timeout:   cfg.Generation.Timeout.Duration,
	})
	if err != nil {
		return nil, err
	}
	d.Generator = llm.NewGuarded(gen, g.build(llm.Upstream,
		cfg.Generation.Timeout.Duration, cfg.Generation.MaxRetries, cfg.Resilience.GenerateRate))

	idx, err := vectorindex.Open(vectorindex.Config{
		Backend:       cfg.Index.Backend,
		Dimension:     cfg.Embedding.Dimension,
		Timeout:       cfg.Index.Timeout.Duration,
		Path:          cfg.Index.Path,
		NATSURL:       cfg.Index.NATSURL,
		BucketPrefix:  cfg.Index.BucketPrefix,
		PineconeHosts: cfg.Index.PineconeHosts,
		APIKey:        cfg.Index.APIKey,
	})
	if err != nil {
		return nil, err
	}
	closers := []func() error{idx.Close}
	d.Index = vectorindex.NewGuarded(idx, g.build(vectorindex.Upstream,
		cfg.Index.Timeout.Duration, cfg.Resilience.MaxRetries, cfg.Resilience.IndexRate))

	if cfg.Catalog.Enabled {
		cat, err := catalog.Open(catalog.Config{Path: cfg.Catalog.Path})
		if err != nil {
			idx.Close()
			return nil, err
		}
		d.Catalog = cat
		closers = append(closers, cat.Close)
	}

	e, err := New(d)
	if err != nil {
		for _, c := range closers {
			c()
		}
		return nil, err
	}
	e.closers = closers

	e.logger.Info("engine_ready", map[string]interface{}{
		"embedding":  cfg.Embedding.Provider,
		"generation": cfg.Generation.Provider,
		"index":      cfg.Index.Backend,
		"catalog":    cfg.Catalog.Enabled,
		"dimension":  cfg.Embedding.Dimension,
	})
	return e, nil
}

// guards builds one resilience guard per upstream, observed by tracing,
// metrics and logging.
type guards struct {
	cfg     config.ResilienceConfig
	logger  *logging.Logger
	metrics *metrics.Metrics
	tracer  *telemetry.Tracer
}

func (g guards) build(upstream string, timeout time.Duration, retries int, rps float64) *resilience.Guard {
	return resilience.New(resilience.Policy{
		Name:             upstream,
		Timeout:          timeout,
		MaxRetries:       retries,
		InitBackoff:      g.cfg.InitBackoff.Duration,
		MaxBackoff:       g.cfg.MaxBackoff.Duration,
		RateLimit:        rps,
		BreakerThreshold: g.cfg.BreakerThreshold,
		BreakerTimeout:   g.cfg.BreakerTimeout.Duration,
	},
		resilience.WithLogger(g.logger),
		resilience.WithStateHook(g.metrics.BreakerHook()),
		resilience.WithCallHook(g.observe),
	)
}

// observe wraps one logical upstream call in a client span and records its
// latency and outcome.
func (g guards) observe(ctx context.Context, upstream, op string) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := g.tracer.StartUpstreamSpan(ctx, upstream, op)
	return ctx, func(err error) {
		d := time.Since(start)
		g.tracer.EndUpstreamSpan(span, telemetry.UpstreamSpanOptions{}, err)
		g.metrics.RecordUpstream(upstream, d, err)
		g.logger.UpstreamCall(upstream, op, d, err)
	}
}
