package servoflow

import (
	"github.com/drblury/servoflow/bus"
	runtimepkg "github.com/drblury/servoflow/internal/runtime"
	"github.com/drblury/servoflow/internal/runtime/bridge"
	"github.com/drblury/servoflow/internal/runtime/codec"
	configpkg "github.com/drblury/servoflow/internal/runtime/config"
	errspkg "github.com/drblury/servoflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/servoflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/servoflow/internal/runtime/metadata"
	modulepkg "github.com/drblury/servoflow/module"
	transportpkg "github.com/drblury/servoflow/transport"
)

type (
	Config             = configpkg.Config
	ConnectionConfig   = configpkg.ConnectionConfig
	OrchestratorConfig = configpkg.OrchestratorConfig
	MetricsConfig      = configpkg.MetricsConfig
	StatusConfig       = configpkg.StatusConfig
	ModuleConfig       = configpkg.ModuleConfig
	ConnectionType     = configpkg.ConnectionType
	StepFailurePolicy  = configpkg.StepFailurePolicy
	TeardownOrder      = configpkg.TeardownOrder

	Orchestrator = runtimepkg.Orchestrator
	Option       = runtimepkg.Option
	State        = runtimepkg.State
	StatusReport = runtimepkg.StatusReport
	BusReport    = runtimepkg.BusReport
	Metrics      = runtimepkg.Metrics

	// Step lifecycle hooks
	StepContext = runtimepkg.StepContext
	StepHooks   = runtimepkg.StepHooks

	ModuleInfo        = runtimepkg.ModuleInfo
	ModuleStats       = runtimepkg.ModuleStats
	LatencyMetrics    = runtimepkg.LatencyMetrics
	ThroughputMetrics = runtimepkg.ThroughputMetrics
	ErrorBreakdown    = runtimepkg.ErrorBreakdown
	ResourceUsage     = runtimepkg.ResourceUsage

	Module            = modulepkg.Module
	ModuleRegistry    = modulepkg.Registry
	ModuleConstructor = modulepkg.Constructor
	ModuleTypeInfo    = modulepkg.Info
	Describer         = modulepkg.Describer
	Params            = modulepkg.Params
	StepFunc          = modulepkg.StepFunc

	Bus         = bus.Bus
	Channel     = bus.Channel
	ServoValues = bus.ServoValues
	Frame       = bus.Frame

	BridgeStats = bridge.Stats

	Codec    = codec.Codec
	Metadata = metadatapkg.Metadata

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	ErrorKind              = errspkg.Kind
	UnknownModuleTypeError = errspkg.UnknownModuleTypeError
	ConfigValidationError  = errspkg.ConfigValidationError

	// Modular transport types
	TransportBuilder      = transportpkg.Builder
	TransportConfig       = transportpkg.Config
	TransportRegistry     = transportpkg.Registry
	TransportCapabilities = transportpkg.Capabilities
)

const (
	ConnectionPub    = configpkg.ConnectionPub
	ConnectionSub    = configpkg.ConnectionSub
	ConnectionPubSub = configpkg.ConnectionPubSub

	StepFailureAbort = configpkg.StepFailureAbort
	StepFailureSkip  = configpkg.StepFailureSkip
	TeardownForward  = configpkg.TeardownForward
	TeardownReverse  = configpkg.TeardownReverse

	StateCreated        = runtimepkg.StateCreated
	StateInitializing   = runtimepkg.StateInitializing
	StateInitialized    = runtimepkg.StateInitialized
	StateRunning        = runtimepkg.StateRunning
	StateStopped        = runtimepkg.StateStopped
	StateDeinitializing = runtimepkg.StateDeinitializing
	StateTerminated     = runtimepkg.StateTerminated
	StateInitFailed     = runtimepkg.StateInitFailed
	StateRunFailed      = runtimepkg.StateRunFailed
	StateDeinitFailed   = runtimepkg.StateDeinitFailed

	Left    = bus.Left
	Right   = bus.Right
	Aux     = bus.Aux
	Neutral = bus.Neutral

	KindConfig   = errspkg.KindConfig
	KindResource = errspkg.KindResource
	KindStep     = errspkg.KindStep
	KindTeardown = errspkg.KindTeardown
)

var (
	New = runtimepkg.New

	WithModuleRegistry       = runtimepkg.WithModuleRegistry
	WithTransportRegistry    = runtimepkg.WithTransportRegistry
	WithLogger               = runtimepkg.WithLogger
	WithHooks                = runtimepkg.WithHooks
	WithPrometheusRegisterer = runtimepkg.WithPrometheusRegisterer
	WithTracerProvider       = runtimepkg.WithTracerProvider
	WithSource               = runtimepkg.WithSource

	LoadConfig     = configpkg.Load
	ParseConfig    = configpkg.Parse
	ValidateConfig = configpkg.ValidateConfig

	// Step lifecycle hooks
	LoggingHooks  = runtimepkg.LoggingHooks
	MetricsHooks  = runtimepkg.MetricsHooks
	AlertingHooks = runtimepkg.AlertingHooks

	NewMetrics = runtimepkg.NewMetrics

	NewBus       = bus.New
	ParseChannel = bus.ParseChannel

	// Module registry. Stage packages add themselves to
	// DefaultModuleRegistry from init.
	DefaultModuleRegistry = modulepkg.DefaultRegistry
	NewModuleRegistry     = modulepkg.NewRegistry
	RegisterModule        = modulepkg.Register
	CreateModule          = modulepkg.Create

	// Modular transport registry. Import individual transports via
	// _ "github.com/drblury/servoflow/transport/nats" or all of them via
	// transport/transports.
	DefaultTransportRegistry = transportpkg.DefaultRegistry
	NewTransportRegistry     = transportpkg.NewRegistry
	RegisterTransport        = transportpkg.Register
	BuildTransport           = transportpkg.Build
	GetCapabilities          = transportpkg.GetCapabilities

	CodecByName = codec.ByName
	CodecNames  = codec.Names

	ConfigError   = errspkg.ConfigError
	ConfigErrorf  = errspkg.ConfigErrorf
	ResourceError = errspkg.ResourceError
	StepError     = errspkg.StepError
	TeardownError = errspkg.TeardownError
	ErrorKindOf   = errspkg.KindOf

	ErrConfig           = errspkg.ErrConfig
	ErrResource         = errspkg.ErrResource
	ErrStep             = errspkg.ErrStep
	ErrTeardown         = errspkg.ErrTeardown
	ErrInterrupted      = errspkg.ErrInterrupted
	ErrInvalidState     = errspkg.ErrInvalidState
	ErrConfigRequired   = errspkg.ErrConfigRequired
	ErrLoggerRequired   = errspkg.ErrLoggerRequired
	ErrRegistryRequired = errspkg.ErrRegistryRequired
	ErrBridgeClosed     = errspkg.ErrBridgeClosed
	ErrNotSubscribing   = errspkg.ErrNotSubscribing
	ErrNotPublishing    = errspkg.ErrNotPublishing

	NewSlogServiceLogger = loggingpkg.NewSlogServiceLogger
	NopLogger            = loggingpkg.Nop
	LoggerFromContext    = loggingpkg.FromContext
	ContextWithLogger    = loggingpkg.NewContext

	NewMetadata = metadatapkg.New
)

// Metadata keys set on every published bus message.
const (
	MetadataKeyCodec  = metadatapkg.KeyCodec
	MetadataKeyCycle  = metadatapkg.KeyCycle
	MetadataKeySentAt = metadatapkg.KeySentAt
	MetadataKeySource = metadatapkg.KeySource
)
