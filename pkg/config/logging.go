package config

import "go.uber.org/zap"

// NewLogger builds the process logger: human-readable in development,
// JSON in anything else.
func NewLogger(env string) (*zap.Logger, error) {
	if env == "development" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
