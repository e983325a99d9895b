package logging

import (
	"io"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// ConfigureLogging sets up the standard logrus logger for an application: level, formatter and, if enabled, a
// rotating log file that receives the same output as stdout.
func ConfigureLogging(config Config) error {
	if err := config.validate(); err != nil {
		return err
	}
	level, _ := log.ParseLevel(config.Level)
	log.SetLevel(level)
	log.SetFormatter(formatter(config.Format))

	var out io.Writer = os.Stdout
	if config.File.Enabled {
		out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   config.File.LogFile,
			MaxSize:    config.File.MaxSizeMb,
			MaxBackups: config.File.MaxBackups,
			MaxAge:     config.File.MaxAgeDays,
			Compress:   config.File.Compress,
		})
	}
	log.SetOutput(out)
	return nil
}

// ConfigureDefaultLogging is used before configuration has been loaded.
func ConfigureDefaultLogging() {
	log.SetFormatter(formatter(FormatText))
	log.SetOutput(os.Stdout)
}

func formatter(format string) log.Formatter {
	if strings.ToLower(format) == FormatJson {
		return &log.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"}
	}
	return &log.TextFormatter{ForceColors: true, FullTimestamp: true}
}

// WithStacktrace returns a new Entry obtained by adding error information and, if available, a stack trace
// as fields to the provided Entry.
func WithStacktrace(logger *log.Entry, err error) *log.Entry {
	logger = logger.WithError(err)
	if trace, ok := deepestStackTrace(err); ok {
		logger = logger.WithField("stacktrace", trace)
	}
	return logger
}
