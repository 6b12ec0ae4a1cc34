// Package logging builds the shared zap logger.
package logging

import (
	"go.uber.org/zap"
)

// NewLogger creates a production JSON logger tagged with the service name.
func NewLogger(serviceName string) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	config.InitialFields = map[string]interface{}{
		"service": serviceName,
	}

	logger, err := config.Build()
	if err != nil {
		return nil, err
	}

	return logger, nil
}
