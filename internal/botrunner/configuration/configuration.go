// Package configuration is the botrunner binary's viper-unmarshalled
// config shape, following the per-service internal/<name>/configuration
// convention used throughout this codebase.
package configuration

// BotRunnerConfig is the root configuration for the botrunner binary.
type BotRunnerConfig struct {
	HealthPort  uint16
	MetricsPort uint16
	// If non-nil, net/http/pprof endpoints are exposed on localhost on
	// this port.
	PprofPort *uint16

	Supplier    SupplierConfig
	Source      SourceConfig
	Sink        SinkConfig
	Distributor DistributorConfig
}

// SupplierConfig selects and configures the underlying transport Supplier,
// plus the Fetcher retry policy wrapped around it.
type SupplierConfig struct {
	// Kind is "http" (default) or "pulsar".
	Kind   string
	HTTP   HTTPSupplierConfig
	Pulsar PulsarSupplierConfig

	MaxRetryTimeMilliseconds int
	// RetryInterval is "exponential" (default), "quadratic", or a fixed
	// delay in milliseconds given as a decimal string.
	RetryInterval string
	Silent        bool
}

// HTTPSupplierConfig configures pkg/supplier/httpsupplier.
type HTTPSupplierConfig struct {
	BaseURL                string
	LongPollTimeoutSeconds int
}

// PulsarSupplierConfig configures pkg/supplier/pulsarsupplier.
type PulsarSupplierConfig struct {
	URL                   string
	Topic                 string
	SubscriptionName      string
	ReceiveTimeoutSeconds int
}

// SourceConfig configures pkg/source.
type SourceConfig struct {
	SpeedTrafficBalance  float64
	MaxDelayMilliseconds int
	DedupeCacheSize      int
}

// SinkConfig configures pkg/sink.
type SinkConfig struct {
	// Mode is "concurrent" (default), "sequential", or "batch".
	Mode                string
	Concurrency         int
	TimeoutMilliseconds int
}

// DistributorConfig configures the optional pkg/distributor worker pool.
// Disabled by default: updates are handled directly by the Sink's
// consume callback on the main process.
type DistributorConfig struct {
	Enabled bool
	Count   int
}
