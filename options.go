package agentctx

import (
	"time"

	"github.com/youssefsiam38/agentctx/cache"
	"github.com/youssefsiam38/agentctx/compaction"
	"github.com/youssefsiam38/agentctx/hooks"
	"github.com/youssefsiam38/agentctx/llm"
	"go.opentelemetry.io/otel/trace"
)

// Option is a functional option for configuring a Manager
type Option func(*managerOptions) error

type managerOptions struct {
	logger         compaction.Logger
	hooks          *hooks.Registry
	completer      llm.Completer
	configProvider ConfigProvider
	tracerProvider trace.TracerProvider
	now            func() time.Time
	readFile       func(path string) (string, error)
	projectLoader  cache.LoaderFunc[string]
	projectCache   *cache.TTL[string]
}

// WithLogger sets the logger. *slog.Logger satisfies compaction.Logger.
func WithLogger(logger compaction.Logger) Option {
	return func(o *managerOptions) error {
		o.logger = logger
		return nil
	}
}

// WithHooks sets the hook registry
func WithHooks(registry *hooks.Registry) Option {
	return func(o *managerOptions) error {
		if registry == nil {
			return NewManagerError("WithHooks", ErrInvalidConfig).
				WithContext("reason", "registry is nil")
		}
		o.hooks = registry
		return nil
	}
}

// WithCompleter enables model summaries. Without it every summary is
// rule-based and no background refreshes run.
func WithCompleter(completer llm.Completer) Option {
	return func(o *managerOptions) error {
		o.completer = completer
		return nil
	}
}

// WithConfigProvider replaces the static compaction configuration with one
// read on every turn
func WithConfigProvider(provider ConfigProvider) Option {
	return func(o *managerOptions) error {
		if provider == nil {
			return NewManagerError("WithConfigProvider", ErrInvalidConfig).
				WithContext("reason", "provider is nil")
		}
		o.configProvider = provider
		return nil
	}
}

// WithTracerProvider sets the OpenTelemetry tracer provider. Default: the
// global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *managerOptions) error {
		o.tracerProvider = tp
		return nil
	}
}

// WithClock sets the time source
func WithClock(now func() time.Time) Option {
	return func(o *managerOptions) error {
		if now == nil {
			return NewManagerError("WithClock", ErrInvalidConfig).
				WithContext("reason", "clock is nil")
		}
		o.now = now
		return nil
	}
}

// WithHandoffFileReader fills key file snapshots in handoff documents
func WithHandoffFileReader(readFile func(path string) (string, error)) Option {
	return func(o *managerOptions) error {
		o.readFile = readFile
		return nil
	}
}

// WithProjectContext attaches project context, loaded per working directory
// through c, to handoff documents. A nil cache uses cache.NewTTL defaults.
func WithProjectContext(loader cache.LoaderFunc[string], c *cache.TTL[string]) Option {
	return func(o *managerOptions) error {
		if loader == nil {
			return NewManagerError("WithProjectContext", ErrInvalidConfig).
				WithContext("reason", "loader is nil")
		}
		if c == nil {
			c = cache.NewTTL[string](0, 0)
		}
		o.projectLoader = loader
		o.projectCache = c
		return nil
	}
}
