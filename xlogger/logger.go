// Package xlogger builds the slog loggers used by the filter compiler and
// the dftool command.
package xlogger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

type Config struct {
	Level      string `yaml:"level" default:"info"`
	LogType    string `yaml:"format" default:"text"`
	AddSource  bool   `yaml:"add_source"`
	SourcePath string `yaml:"source_path"`

	// File switches output from stderr to a rotated log file.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" default:"100"`
	MaxBackups int    `yaml:"max_backups" default:"3"`
	MaxAgeDays int    `yaml:"max_age_days" default:"28"`
	Compress   bool   `yaml:"compress"`

	// Output overrides File and stderr.
	Output io.Writer `yaml:"-"`
}

func New(conf Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		AddSource:   conf.AddSource,
		Level:       getLogLevel(conf.Level),
		ReplaceAttr: replaceAttr(conf),
	}

	handler := getHandler(conf.LogType, getOutput(conf), opts)

	return slog.New(handler)
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func getLogLevel(logLevel string) slog.Level {
	switch strings.ToLower(logLevel) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getOutput(conf Config) io.Writer {
	switch {
	case conf.Output != nil:
		return conf.Output

	case len(conf.File) > 0:
		return &lumberjack.Logger{
			Filename:   conf.File,
			MaxSize:    conf.MaxSizeMB,
			MaxBackups: conf.MaxBackups,
			MaxAge:     conf.MaxAgeDays,
			Compress:   conf.Compress,
		}

	default:
		return os.Stderr
	}
}

func getHandler(logType string, w io.Writer, opts *slog.HandlerOptions) slog.Handler {
	switch strings.ToLower(logType) {
	case "json":
		return slog.NewJSONHandler(w, opts)

	default:
		return slog.NewTextHandler(w, opts)
	}
}

func replaceAttr(conf Config) func(groups []string, a slog.Attr) slog.Attr {
	return func(_ []string, attr slog.Attr) slog.Attr {
		if attr.Key == slog.SourceKey {
			if source, ok := attr.Value.Any().(*slog.Source); ok && source != nil {
				sourceFile := fmt.Sprintf("%s:%d", source.File, source.Line)

				if len(conf.SourcePath) > 0 {
					if strings.HasPrefix(source.File, conf.SourcePath) {
						sourceFile = fmt.Sprintf("%s:%d", strings.TrimPrefix(source.File, conf.SourcePath), source.Line)

					} else if index := strings.Index(source.File, conf.SourcePath); index > 0 {
						sourceFileSuffix := source.File[index+len(conf.SourcePath):]
						sourceFile = fmt.Sprintf("%s:%d", sourceFileSuffix, source.Line)
					}
				}

				return slog.String(slog.SourceKey, sourceFile)
			}
		}

		return attr
	}
}
