// Package bootstrap wires the models of a CMS database together.
// A Factory builds one Model per definition, registers them in a shared
// registry so references resolve by collection name, and initializes them
// against a database handle.
package bootstrap

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/artpar/cmsodm/adapters/clock"
	"github.com/artpar/cmsodm/adapters/idgen"
	"github.com/artpar/cmsodm/adapters/memory"
	"github.com/artpar/cmsodm/adapters/metrics"
	"github.com/artpar/cmsodm/adapters/mongo"
	"github.com/artpar/cmsodm/adapters/sqlite"
	"github.com/artpar/cmsodm/config"
	"github.com/artpar/cmsodm/core/events"
	"github.com/artpar/cmsodm/core/model"
	"github.com/artpar/cmsodm/core/schema"
	"github.com/artpar/cmsodm/models"
	"github.com/artpar/cmsodm/ports"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Options provides optional collaborators for a Factory.
type Options struct {
	Logger zerolog.Logger

	// Registerer receives the metrics when metrics are enabled.
	// Nil means the default Prometheus registerer.
	Registerer prometheus.Registerer

	// Events receives model events. A bus is created when nil.
	Events *events.Bus

	// Clock and IDs default to the wall clock and fresh ObjectIDs.
	Clock ports.Clock
	IDs   ports.IDGenerator

	// Definitions replaces loading definitions from the configuration.
	Definitions []schema.Definition
}

// Factory owns the models of one database.
type Factory struct {
	opts   Options
	logger zerolog.Logger

	mu          sync.RWMutex
	initialized bool
	registry    *model.Registry
	defs        []schema.Definition
	metrics     *metrics.Collector
	bus         *events.Bus
	json        schema.Options
}

// NewFactory creates a factory. Nothing is built until Initialize.
func NewFactory(opts Options) *Factory {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.IDs == nil {
		opts.IDs = idgen.ObjectID{}
	}
	bus := opts.Events
	if bus == nil {
		bus = events.NewBus(opts.Logger)
	}
	return &Factory{
		opts:     opts,
		logger:   opts.Logger.With().Str("component", "factory").Logger(),
		registry: model.NewRegistry(),
		bus:      bus,
	}
}

// Initialize builds every model and initializes it against db. Models are
// registered before any of them is initialized so that references between
// them resolve. Calling Initialize again after it succeeded does nothing.
func (f *Factory) Initialize(ctx context.Context, cfg *config.Config, db ports.Database) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.initialized {
		return nil
	}

	defs, err := f.definitions(cfg)
	if err != nil {
		return err
	}

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		if f.opts.Registerer != nil {
			collector = metrics.NewWithRegistry(f.opts.Registerer, cfg.Metrics.Namespace)
		} else {
			collector = metrics.New(cfg.Metrics.Namespace)
		}
		f.logger.Info().Msg("prometheus metrics enabled")
	}

	registry := model.NewRegistry()
	for _, def := range defs {
		applySecurity(&def, cfg.Security)
		template, err := def.Build()
		if err != nil {
			return fmt.Errorf("build model %s: %w", def.Collection, err)
		}
		m := model.New(def.Collection, template, model.Config{
			Logger:  f.opts.Logger,
			Metrics: collector,
			Events:  f.bus,
			Clock:   f.opts.Clock,
			IDs:     f.opts.IDs,
		})
		if err := registry.Register(m); err != nil {
			return fmt.Errorf("register model: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, m := range registry.Models() {
		g.Go(func() error {
			if err := m.Initialize(gctx, db); err != nil {
				return fmt.Errorf("initialize %s: %w", m.Name(), err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	f.registry = registry
	f.defs = defs
	f.metrics = collector
	f.json = SerializationOptions(cfg)
	f.initialized = true

	f.logger.Info().Int("count", len(defs)).Strs("models", registry.Names()).Msg("models initialized")
	return nil
}

func (f *Factory) definitions(cfg *config.Config) ([]schema.Definition, error) {
	if f.opts.Definitions != nil {
		if err := schema.ValidateDefinitions(f.opts.Definitions); err != nil {
			return nil, err
		}
		return f.opts.Definitions, nil
	}
	defs, err := models.Load(cfg.Models.Dir, cfg.Models.SkipBuiltin)
	if err != nil {
		return nil, fmt.Errorf("load definitions: %w", err)
	}
	return defs, nil
}

// applySecurity sets the configured bcrypt cost on secret items that do not
// choose their own.
func applySecurity(def *schema.Definition, sec config.SecurityConfig) {
	if sec.BcryptCost == 0 {
		return
	}
	items := make([]schema.ItemDef, len(def.Items))
	copy(items, def.Items)
	for i := range items {
		if items[i].Type == schema.ItemTypeSecret && items[i].Cost == 0 {
			items[i].Cost = sec.BcryptCost
		}
	}
	def.Items = items
}

// Initialized reports whether Initialize has completed.
func (f *Factory) Initialized() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.initialized
}

// Get returns the model for a collection.
func (f *Factory) Get(name string) (*model.Model, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if !f.initialized {
		return nil, fmt.Errorf("get %s: %w", name, model.ErrNotInitialized)
	}
	m, ok := f.registry.Get(name)
	if !ok {
		return nil, fmt.Errorf("unknown model %q", name)
	}
	return m, nil
}

// Models returns the models in definition order.
func (f *Factory) Models() []*model.Model {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if !f.initialized {
		return nil
	}
	return f.registry.Models()
}

// Registry returns the registry shared by the models.
func (f *Factory) Registry() *model.Registry {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.registry
}

// Definitions returns the definitions the models were built from.
func (f *Factory) Definitions() []schema.Definition {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.defs
}

// Events returns the bus model events are published on.
func (f *Factory) Events() *events.Bus {
	return f.bus
}

// Metrics returns the metrics collector, nil when metrics are disabled.
func (f *Factory) Metrics() *metrics.Collector {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.metrics
}

// JSONOptions returns the configured serialization options. Verbose is never
// set; exposing sensitive items is the caller's decision.
func (f *Factory) JSONOptions() schema.Options {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.json
}

// SerializationOptions converts the serialization config to JSON options.
func SerializationOptions(cfg *config.Config) schema.Options {
	return schema.Options{
		ExpandForeignKeys:     cfg.Serialization.ExpandForeignKeys,
		ExpandMaxDepth:        cfg.Serialization.ExpandMaxDepth,
		ExpandSchemaBlacklist: cfg.Serialization.ExpandBlacklist,
	}
}

// OpenDatabase opens the configured database. Connecting is bounded by the
// configured timeout.
func OpenDatabase(ctx context.Context, cfg config.DatabaseConfig) (ports.Database, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return memory.NewDatabase(), nil
	case config.DriverSQLite:
		db, err := sqlite.OpenDatabase(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite %s: %w", cfg.DSN, err)
		}
		return db, nil
	case config.DriverMongo:
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		cctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		db, err := mongo.Connect(cctx, cfg.DSN, cfg.Name)
		if err != nil {
			return nil, fmt.Errorf("open mongo: %w", err)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

// SetupLogger creates the logger described by cfg, writing to w.
// A nil w means stderr.
func SetupLogger(cfg config.LoggingConfig, w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	if cfg.Format == "console" {
		output := zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
		return zerolog.New(output).Level(level).With().Timestamp().Logger()
	}

	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}
