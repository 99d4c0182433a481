package config

type TelemetryConfig interface {
	GetOTelEndpoint() string
	GetOTelEnabled() bool
}

// Telemetry holds the OpenTelemetry exporter settings. Tracing stays a no-op
// unless an endpoint is configured.
type Telemetry struct {
	OTelEndpoint string `env:"OTEL_ENDPOINT"`
	OTelEnabled  bool   `env:"OTEL_ENABLED" envDefault:"true"`
}

var _ TelemetryConfig = Telemetry{}

func (t Telemetry) GetOTelEndpoint() string {
	return t.OTelEndpoint
}

func (t Telemetry) GetOTelEnabled() bool {
	return t.OTelEnabled && t.OTelEndpoint != ""
}
