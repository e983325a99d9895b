package logging

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/exp/maps"
)

const (
	FormatText = "text"
	FormatJson = "json"
)

var validLogFormats = map[string]bool{
	FormatText: true,
	FormatJson: true,
}

// Config defines logging configuration.
type Config struct {
	// Log level, e.g. info, error etc
	Level string
	// Logging format, either text or json
	Format string
	// Defines configuration for file logging
	File struct {
		// Whether file logging is enabled.
		Enabled bool
		// The location of the logfile on disk
		LogFile string
		// Maximum size in megabytes of the log file before it gets rotated
		MaxSizeMb int
		// Maximum number of old log files to retain
		MaxBackups int
		// Maximum number of days to retain old log files
		MaxAgeDays int
		// Whether to compress rotated log files
		Compress bool
	}
}

func (c Config) validate() error {
	if _, err := logrus.ParseLevel(c.Level); err != nil {
		return errors.WithStack(err)
	}
	if !validLogFormats[strings.ToLower(c.Format)] {
		return errors.Errorf("unknown log format: %s.  Valid formats are %s", c.Format, maps.Keys(validLogFormats))
	}
	if c.File.Enabled {
		if c.File.LogFile == "" {
			return errors.New("file.logFile must be set when file logging is enabled")
		}
		if c.File.MaxSizeMb <= 0 {
			return errors.New("file.maxSizeMb must be greater than zero")
		}
		if c.File.MaxBackups <= 0 {
			return errors.New("file.maxBackups must be greater than zero")
		}
	}
	return nil
}
