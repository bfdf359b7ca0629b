package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/drblury/servoflow/bus"
	"github.com/drblury/servoflow/internal/runtime/bridge"
	"github.com/drblury/servoflow/internal/runtime/config"
	sferrors "github.com/drblury/servoflow/internal/runtime/errors"
	"github.com/drblury/servoflow/internal/runtime/logging"
	"github.com/drblury/servoflow/module"
	"github.com/drblury/servoflow/transport"
)

const (
	component  = "orchestrator"
	tracerName = "github.com/drblury/servoflow"
)

type cycleOutcome int

const (
	outcomeContinue cycleOutcome = iota
	outcomeInterrupted
	outcomeFailed
)

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithModuleRegistry constructs modules from r instead of module.DefaultRegistry.
func WithModuleRegistry(r *module.Registry) Option {
	return func(o *Orchestrator) { o.modules = r }
}

// WithTransportRegistry builds the bridge transport from r instead of
// transport.DefaultRegistry.
func WithTransportRegistry(r *transport.Registry) Option {
	return func(o *Orchestrator) { o.transports = r }
}

// WithLogger sets the orchestrator logger. Modules receive a child logger
// through their context.
func WithLogger(log logging.ServiceLogger) Option {
	return func(o *Orchestrator) { o.logger = log }
}

// WithHooks adds step hooks. Repeated options are merged in order.
func WithHooks(h StepHooks) Option {
	return func(o *Orchestrator) { o.hooks = o.hooks.Merge(h) }
}

// WithPrometheusRegisterer registers metrics with r. When r is also a
// Gatherer the metrics endpoint serves from it.
func WithPrometheusRegisterer(r prometheus.Registerer) Option {
	return func(o *Orchestrator) { o.registerer = r }
}

// WithTracerProvider sets the OpenTelemetry provider for cycle and step
// spans. The global provider is used otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *Orchestrator) { o.tracer = tp.Tracer(tracerName) }
}

// WithSource names this orchestrator in bus messages it publishes. Defaults
// to the host name.
func WithSource(source string) Option {
	return func(o *Orchestrator) { o.source = source }
}

type moduleSlot struct {
	id          string
	typ         string
	index       int
	mod         module.Module
	info        module.Info
	log         logging.ServiceLogger
	stats       *ModuleStats
	initialized atomic.Bool
}

// Orchestrator owns the ordered module list and the bus, and drives the
// init, run and deinit phases. Init, Run, RunOnce and Deinit must be called
// from one goroutine; the status accessors are safe from any goroutine.
type Orchestrator struct {
	cfg        *config.Config
	modules    *module.Registry
	transports *transport.Registry
	logger     logging.ServiceLogger
	hooks      StepHooks
	registerer prometheus.Registerer
	metrics    *Metrics
	tracer     trace.Tracer
	source     string
	now        func() time.Time
	resources  *resourceTracker
	servers    *httpServers

	// live is only touched by the loop.
	live   *bus.Bus
	cycles atomic.Uint64

	mu        sync.RWMutex
	state     State
	slots     []*moduleSlot
	bridge    *bridge.Bridge
	snapshot  *bus.Bus
	lastErr   error
	startedAt time.Time
}

// New prepares an orchestrator for cfg. Nothing is constructed or opened
// until Init.
func New(cfg *config.Config, opts ...Option) (*Orchestrator, error) {
	if cfg == nil {
		return nil, sferrors.ConfigError(component, "new", sferrors.ErrConfigRequired)
	}
	cfg.ApplyDefaults()

	o := &Orchestrator{
		cfg:        cfg,
		modules:    module.DefaultRegistry,
		transports: transport.DefaultRegistry,
		logger:     logging.Nop(),
		tracer:     otel.Tracer(tracerName),
		now:        time.Now,
		live:       bus.New(),
		state:      StateCreated,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		return nil, sferrors.ConfigError(component, "new", sferrors.ErrLoggerRequired)
	}
	if o.modules == nil || o.transports == nil {
		return nil, sferrors.ConfigError(component, "new", sferrors.ErrRegistryRequired)
	}
	if o.source == "" {
		o.source, _ = os.Hostname()
	}

	o.logger = o.logger.With(logging.LogFields{"component": component})
	o.metrics = NewMetrics(o.registerer)
	o.resources = newResourceTracker(o.now())
	o.servers = newHTTPServers(o.logger)
	o.startedAt = o.now()
	return o, nil
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// Cycles returns the number of completed cycles.
func (o *Orchestrator) Cycles() uint64 {
	return o.cycles.Load()
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
	o.metrics.SetState(s)
}

// fail moves to a failure state and logs err at critical level.
func (o *Orchestrator) fail(s State, msg string, err error) {
	o.mu.Lock()
	o.state = s
	o.lastErr = err
	o.mu.Unlock()
	o.metrics.SetState(s)
	o.logger.Critical(msg, err, logging.LogFields{
		"state":  s.String(),
		"cycles": o.cycles.Load(),
		"kind":   failureKind(err),
	})
}

// Init validates the configuration, constructs every active module, opens
// the bridge and initializes the modules in order. After a failure the
// orchestrator is in StateInitFailed and can only be deinitialized.
func (o *Orchestrator) Init(ctx context.Context) error {
	o.mu.Lock()
	if o.state != StateCreated {
		s := o.state
		o.mu.Unlock()
		return fmt.Errorf("%w: init called in state %s", sferrors.ErrInvalidState, s)
	}
	o.state = StateInitializing
	o.mu.Unlock()
	o.metrics.SetState(StateInitializing)

	if err := o.initialize(ctx); err != nil {
		o.fail(StateInitFailed, "Initialization failed", err)
		return err
	}

	o.setState(StateInitialized)
	o.logger.Info("Orchestrator initialized", logging.LogFields{
		"modules": len(o.slots),
		"bridge":  o.bridge != nil,
	})
	return nil
}

func (o *Orchestrator) initialize(ctx context.Context) error {
	if err := sferrors.NewConfigValidationError(o.cfg.Validate()); err != nil {
		return err
	}

	slots, err := o.construct()
	o.mu.Lock()
	o.slots = slots
	o.mu.Unlock()
	if err != nil {
		return err
	}

	if conn := o.cfg.Connection; conn != nil {
		b, err := bridge.New(conn,
			bridge.WithRegistry(o.transports),
			bridge.WithLogger(o.logger),
			bridge.WithSource(o.source),
			bridge.WithObserver(o.metrics),
		)
		if err != nil {
			return err
		}
		o.mu.Lock()
		o.bridge = b
		o.mu.Unlock()
		if err := b.Open(ctx); err != nil {
			return err
		}
	}

	if err := o.startServers(); err != nil {
		return err
	}

	for _, s := range slots {
		if err := s.mod.Init(logging.NewContext(ctx, s.log)); err != nil {
			err = classify(err, s.id, "init", sferrors.ResourceError)
			s.stats.recordFailure(err)
			o.metrics.ModuleFailed(s.id, err)
			return err
		}
		s.initialized.Store(true)
		s.log.Debug("Module initialized", nil)
	}
	return nil
}

// construct creates every active module before anything is acquired. The
// modules built before a failure are returned so Deinit still sees them.
func (o *Orchestrator) construct() ([]*moduleSlot, error) {
	active := o.cfg.ActiveModules()
	slots := make([]*moduleSlot, 0, len(active))
	for i, mc := range active {
		mod, err := o.modules.Create(mc.Name, module.Params(mc.Params))
		if err != nil {
			return slots, err
		}
		info, _ := o.modules.Info(mc.Name)
		id := mc.InstanceID()
		slots = append(slots, &moduleSlot{
			id:    id,
			typ:   mc.Name,
			index: i,
			mod:   mod,
			info:  info,
			log:   o.logger.With(logging.LogFields{"module": id, "type": mc.Name}),
			stats: newModuleStats(),
		})
	}
	return slots, nil
}

func (o *Orchestrator) startServers() error {
	if o.cfg.Metrics.Enabled {
		if err := o.metrics.Register(); err != nil {
			return sferrors.ResourceError(component, "metrics", err)
		}
		o.servers.Handle(o.cfg.Metrics.Port, "/metrics", o.metricsHandler())
	}
	if o.cfg.Status.Enabled {
		o.registerStatusHandlers()
	}
	if err := o.servers.Start(); err != nil {
		return sferrors.ResourceError(component, "listen", err)
	}
	return nil
}

func (o *Orchestrator) metricsHandler() http.Handler {
	if g, ok := o.registerer.(prometheus.Gatherer); ok {
		return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
	}
	return promhttp.Handler()
}

// Run repeats cycles until ctx is cancelled, max_cycles is reached or a
// cycle fails. An interrupt is not a failure: Run returns nil and the
// orchestrator is left in StateStopped.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.enterRunning(); err != nil {
		return err
	}

	var limiter *rate.Limiter
	if interval := o.cfg.Orchestrator.CycleInterval; interval > 0 {
		limiter = rate.NewLimiter(rate.Every(interval), 1)
	}
	maxCycles := uint64(max(o.cfg.Orchestrator.MaxCycles, 0))

	o.logger.Info("Run loop started", logging.LogFields{
		"cycle_interval": o.cfg.Orchestrator.CycleInterval.String(),
		"max_cycles":     maxCycles,
	})

	var done uint64
	for {
		if ctx.Err() != nil {
			return o.stop("interrupted")
		}
		if maxCycles > 0 && done >= maxCycles {
			return o.stop("max cycles reached")
		}
		if limiter != nil {
			// Wait only fails when ctx ends before the next slot.
			if err := limiter.Wait(ctx); err != nil {
				return o.stop("interrupted")
			}
		}

		switch outcome, err := o.cycle(ctx); outcome {
		case outcomeContinue:
			done++
		case outcomeInterrupted:
			return o.stop("interrupted")
		case outcomeFailed:
			o.fail(StateRunFailed, "Run loop failed", err)
			return err
		}
	}
}

// RunOnce runs exactly one cycle.
func (o *Orchestrator) RunOnce(ctx context.Context) error {
	if err := o.enterRunning(); err != nil {
		return err
	}
	outcome, err := o.cycle(ctx)
	switch outcome {
	case outcomeFailed:
		o.fail(StateRunFailed, "Cycle failed", err)
		return err
	case outcomeInterrupted:
		return o.stop("interrupted")
	}
	return o.stop("single cycle")
}

func (o *Orchestrator) enterRunning() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.state.canRun() {
		return fmt.Errorf("%w: run called in state %s", sferrors.ErrInvalidState, o.state)
	}
	o.state = StateRunning
	o.metrics.SetState(StateRunning)
	return nil
}

func (o *Orchestrator) stop(reason string) error {
	o.setState(StateStopped)
	o.logger.Info("Run loop stopped", logging.LogFields{
		"reason": reason,
		"cycles": o.cycles.Load(),
	})
	return nil
}

// cycle performs receive, fold and publish once.
func (o *Orchestrator) cycle(ctx context.Context) (cycleOutcome, error) {
	n := o.cycles.Load() + 1
	ctx, span := o.tracer.Start(ctx, "servoflow.cycle",
		trace.WithAttributes(attribute.Int64("servoflow.cycle", int64(n))))
	defer span.End()
	start := o.now()

	if o.bridge != nil && o.bridge.Subscribes() {
		received, err := o.bridge.Receive(ctx)
		if errors.Is(err, sferrors.ErrInterrupted) {
			span.AddEvent("interrupted")
			return outcomeInterrupted, nil
		}
		if err != nil {
			recordSpanError(span, err)
			return outcomeFailed, err
		}
		o.live = received
	}

	for _, s := range o.slots {
		out, err := o.step(ctx, s, n)
		if err == nil {
			o.live = out
			continue
		}
		if o.cfg.Orchestrator.StepFailurePolicy == config.StepFailureSkip {
			s.log.Warn("Step failed, continuing with the next module", logging.LogFields{
				"cycle": n,
				"error": err.Error(),
			})
			continue
		}
		recordSpanError(span, err)
		return outcomeFailed, err
	}

	if o.bridge != nil && o.bridge.Publishes() {
		if err := o.bridge.Send(ctx, o.live, n); err != nil {
			recordSpanError(span, err)
			return outcomeFailed, err
		}
	}

	o.cycles.Store(n)
	o.metrics.CycleCompleted(o.now().Sub(start))
	snapshot := o.live.Clone()
	o.mu.Lock()
	o.snapshot = snapshot
	o.mu.Unlock()
	return outcomeContinue, nil
}

// step lends the live bus to one module. A nil bus from a successful step
// means the module left the bus it was given in place.
func (o *Orchestrator) step(ctx context.Context, s *moduleSlot, cycle uint64) (*bus.Bus, error) {
	ctx, span := o.tracer.Start(ctx, "servoflow.step", trace.WithAttributes(
		attribute.String("servoflow.module", s.id),
		attribute.String("servoflow.module_type", s.typ),
	))
	defer span.End()

	sc := StepContext{
		Module:    s.id,
		Type:      s.typ,
		Index:     s.index,
		Cycle:     cycle,
		Context:   logging.NewContext(ctx, s.log),
		StartedAt: o.now(),
	}
	o.hooks.start(sc)

	out, err := callStep(sc.Context, s, o.live)
	sc.Duration = o.now().Sub(sc.StartedAt)
	if err != nil {
		err = classify(err, s.id, "step", sferrors.StepError)
		recordSpanError(span, err)
	} else if out == nil {
		out = o.live
	}

	s.stats.recordStep(sc.StartedAt, sc.Duration, err)
	o.metrics.StepObserved(s.id, sc.Duration, err)
	o.hooks.finish(sc, err)
	return out, err
}

// callStep turns a panicking module into a step failure.
func callStep(ctx context.Context, s *moduleSlot, live *bus.Bus) (out *bus.Bus, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("Module panicked", fmt.Errorf("%v", r), logging.LogFields{"stack": string(debug.Stack())})
			out, err = nil, sferrors.StepError(s.id, "step", fmt.Errorf("panic: %v", r))
		}
	}()
	return s.mod.Step(ctx, live)
}

// Deinit releases every constructed module in teardown order, then closes
// the bridge and the HTTP servers. It keeps going past failures and returns
// them joined. It does nothing before Init and after a previous Deinit.
func (o *Orchestrator) Deinit(ctx context.Context) error {
	o.mu.Lock()
	switch o.state {
	case StateCreated, StateTerminated, StateDeinitFailed:
		o.mu.Unlock()
		return nil
	case StateInitializing, StateRunning, StateDeinitializing:
		s := o.state
		o.mu.Unlock()
		return fmt.Errorf("%w: deinit called in state %s", sferrors.ErrInvalidState, s)
	}
	o.state = StateDeinitializing
	slots, br := o.slots, o.bridge
	o.mu.Unlock()
	o.metrics.SetState(StateDeinitializing)

	var errs []error
	for _, s := range o.teardownOrder(slots) {
		if err := s.mod.Deinit(logging.NewContext(ctx, s.log)); err != nil {
			err = classify(err, s.id, "deinit", sferrors.TeardownError)
			s.stats.recordFailure(err)
			o.metrics.ModuleFailed(s.id, err)
			s.log.Error("Module deinit failed", err, nil)
			errs = append(errs, err)
			continue
		}
		s.initialized.Store(false)
	}
	if br != nil {
		if err := br.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := o.servers.Shutdown(ctx); err != nil {
		errs = append(errs, sferrors.TeardownError(component, "shutdown", err))
	}

	if err := errors.Join(errs...); err != nil {
		o.fail(StateDeinitFailed, "Deinitialization failed", err)
		return err
	}
	o.setState(StateTerminated)
	o.logger.Info("Orchestrator terminated", logging.LogFields{"cycles": o.cycles.Load()})
	return nil
}

func (o *Orchestrator) teardownOrder(slots []*moduleSlot) []*moduleSlot {
	ordered := make([]*moduleSlot, len(slots))
	copy(ordered, slots)
	if o.cfg.Orchestrator.TeardownOrder == config.TeardownReverse {
		for i, j := 0, len(ordered)-1; i < j; i, j = i+1, j-1 {
			ordered[i], ordered[j] = ordered[j], ordered[i]
		}
	}
	return ordered
}

// classify keeps an already classified error and wraps anything else with
// wrap.
func classify(err error, module, op string, wrap func(module, op string, err error) error) error {
	if _, ok := sferrors.KindOf(err); ok {
		return err
	}
	if errors.Is(err, sferrors.ErrConfig) {
		return err
	}
	return wrap(module, op, err)
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// Modules describes the constructed modules in execution order.
func (o *Orchestrator) Modules() []ModuleInfo {
	o.mu.RLock()
	slots := o.slots
	o.mu.RUnlock()

	out := make([]ModuleInfo, 0, len(slots))
	for _, s := range slots {
		info := ModuleInfo{
			ID:          s.id,
			Type:        s.typ,
			Index:       s.index,
			Initialized: s.initialized.Load(),
			Observer:    s.info.Observer,
			Stats:       s.stats,
		}
		if d, ok := s.mod.(module.Describer); ok {
			info.Detail = d.Describe()
		}
		out = append(out, info)
	}
	return out
}

// LastBus returns a copy of the bus as it stood after the last completed
// cycle, or nil before the first one.
func (o *Orchestrator) LastBus() (uint64, *bus.Bus) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.cycles.Load(), o.snapshot.Clone()
}

// Status summarizes the orchestrator for the status API.
func (o *Orchestrator) Status() StatusReport {
	o.mu.RLock()
	report := StatusReport{
		State:     o.state,
		Cycles:    o.cycles.Load(),
		StartedAt: o.startedAt,
		Modules:   len(o.slots),
	}
	if o.lastErr != nil {
		report.LastError = o.lastErr.Error()
	}
	br := o.bridge
	o.mu.RUnlock()

	if br != nil {
		stats := br.Stats()
		report.Bridge = &stats
	}
	report.Resources = o.resources.Snapshot(o.now())
	return report
}
