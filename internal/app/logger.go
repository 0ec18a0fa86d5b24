package app

import "github.com/lifelink/lifelink/pkg/logger"

// ConfigureLogging initialises the process logger from the server section.
func ConfigureLogging(cfg ServerConfig) error {
	return logger.Init(logger.Options{
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
		Service: "lifelink",
	})
}
