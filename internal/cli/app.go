package cli

import (
	"io"

	"github.com/rs/zerolog"

	"modelhost/internal/app"
	"modelhost/internal/config"
	"modelhost/internal/logging"
)

// buildApp constructs the component graph with the configured logger. The
// returned closer releases the log file.
func (o *Options) buildApp(cfg config.Config, src *config.FileSource) (*app.App, zerolog.Logger, io.Closer, error) {
	log, closer, err := logging.New(logging.Options{
		Level:  cfg.LogLevel,
		JSON:   o.LogJSON,
		File:   cfg.LogFile,
		Stderr: o.Stderr,
	})
	if err != nil {
		return nil, zerolog.Nop(), nil, err
	}
	ao := app.Options{Config: cfg, Logger: log}
	if src != nil {
		ao.Settings = src
	}
	a, err := app.New(ao)
	if err != nil {
		closer.Close()
		return nil, log, nil, err
	}
	return a, log, closer, nil
}
