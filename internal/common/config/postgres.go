package config

import "time"

type PostgresConfig struct {
	// libpq key/value pairs, e.g. host, port, user, password, dbname, sslmode
	Connection map[string]string `validate:"required"`
}

type PulsarConfig struct {
	// Pulsar URL
	URL string `validate:"required"`
	// Topic receiving job lifecycle status updates
	StatusTopic string `validate:"required"`
	// Topic receiving usage reports
	UsageTopic string `validate:"required"`
	// Maximum time to wait for a single send
	SendTimeout time.Duration
	// Authenticate with a JWT read from JwtTokenPath
	AuthenticationEnabled bool
	// Only "JWT" is supported
	AuthenticationType string
	JwtTokenPath       string
	// Number of producers kept for each broker
	MaxConnectionsPerBroker int
}
