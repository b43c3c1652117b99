package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/sppbridge/internal/config"
)

// configureLogger builds the command logger. --log-level wins over --verbose;
// without either, the level from an explicit --config file is used, and
// otherwise logging stays silent so it does not mix with command output.
func configureLogger(cmd *cobra.Command, cfg *config.Config) (*logrus.Logger, error) {
	logger := cfg.NewLogger()

	if levelStr, _ := cmd.Flags().GetString("log-level"); levelStr != "" {
		switch levelStr {
		case "debug":
			logger.SetLevel(logrus.DebugLevel)
		case "info":
			logger.SetLevel(logrus.InfoLevel)
		case "warn":
			logger.SetLevel(logrus.WarnLevel)
		case "error":
			logger.SetLevel(logrus.ErrorLevel)
		default:
			return nil, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", levelStr)
		}
		return logger, nil
	}

	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		logger.SetLevel(logrus.DebugLevel)
		return logger, nil
	}

	if path, _ := cmd.Flags().GetString("config"); path == "" {
		logger.SetLevel(logrus.PanicLevel)
	}
	return logger, nil
}
