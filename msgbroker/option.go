package msgbroker

import "time"

// DefaultRegisterHandlerConfig is the configuration used when no options
// are provided to RegisterTopicHandler.
var DefaultRegisterHandlerConfig = RegisterHandlerConfig{
	AckDeadline: time.Second * 10,
}

// RegisterHandlerConfig groups tunables for a topic subscription.
type RegisterHandlerConfig struct {
	AckDeadline time.Duration
}

// Option mutates a RegisterHandlerConfig.
type Option func(*RegisterHandlerConfig) error

// WithACKDeadline configures the deadline for the message broker subscription.
func WithACKDeadline(deadline time.Duration) Option {
	return func(c *RegisterHandlerConfig) error {
		c.AckDeadline = deadline
		return nil
	}
}

// ApplyRegisterHandlerOptions returns the config resulting from applying
// opts over the defaults.
func ApplyRegisterHandlerOptions(opts ...Option) RegisterHandlerConfig {
	config := DefaultRegisterHandlerConfig
	for _, opt := range opts {
		_ = opt(&config)
	}

	return config
}
