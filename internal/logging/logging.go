package logging

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	LogLevelKey   = "log.level"
	LogFormatKey  = "log.format"
	LogNoColorKey = "log.no_color"
	LogFileKey    = "log.file"

	redacted = "********"
)

// Init sets up the global logger from the log.* settings. Sensitive values
// are masked on every output, including the log file.
// The returned closer releases the log file, if any.
func Init(sensitiveValues []string) io.Closer {
	return InitTo(os.Stderr, sensitiveValues)
}

// InitTo is Init with an explicit console destination.
func InitTo(console io.Writer, sensitiveValues []string) io.Closer {
	var queue []string

	levelStr := strings.ToLower(viper.GetString(LogLevelKey))
	level := zerolog.InfoLevel
	if levelStr != "" {
		parsed, err := zerolog.ParseLevel(levelStr)
		if err != nil || parsed == zerolog.NoLevel {
			queue = append(queue, fmt.Sprintf("invalid log level %q, using info", levelStr))
		} else {
			level = parsed
		}
	}
	zerolog.SetGlobalLevel(level)

	var output io.Writer
	logFormat := strings.ToLower(viper.GetString(LogFormatKey))
	switch logFormat {
	case "json":
		output = console
	default:
		if logFormat != "console" && logFormat != "" {
			queue = append(queue, fmt.Sprintf("unknown log format %q, using console", logFormat))
		}
		output = zerolog.NewConsoleWriter(func(w *zerolog.ConsoleWriter) {
			w.Out = console
			w.NoColor = viper.GetBool(LogNoColorKey)
			w.TimeFormat = "15:04:05.000"
		})
	}

	var closer io.Closer = nopCloser{}
	if path := viper.GetString(LogFileKey); path != "" {
		file := &lumberjack.Logger{
			Filename:   path,
			MaxSize:    10,
			MaxBackups: 3,
			Compress:   true,
		}
		output = zerolog.MultiLevelWriter(output, file)
		closer = file
	}

	if secrets := nonEmpty(sensitiveValues); len(secrets) > 0 {
		output = NewRedactingWriter(output, secrets)
	}

	log.Logger = zerolog.New(output).With().
		Timestamp().
		Logger()

	// now after we set up the logger, we can log any queued messages
	for _, msg := range queue {
		log.Warn().Msg(msg)
	}
	return closer
}

func nonEmpty(values []string) []string {
	var out []string
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// RedactingWriter replaces every sensitive value with a mask before writing.
type RedactingWriter struct {
	underlying io.Writer
	sensitive  [][]byte
}

func NewRedactingWriter(underlying io.Writer, sensitive []string) *RedactingWriter {
	rw := &RedactingWriter{underlying: underlying}
	for _, s := range sensitive {
		rw.sensitive = append(rw.sensitive, []byte(s))
	}
	return rw
}

// Write reports len(p) on success since the masked message may differ in length.
func (rw *RedactingWriter) Write(p []byte) (int, error) {
	message := p
	for _, secret := range rw.sensitive {
		if bytes.Contains(message, secret) {
			message = bytes.ReplaceAll(message, secret, []byte(redacted))
		}
	}

	if _, err := rw.underlying.Write(message); err != nil {
		return 0, err
	}
	return len(p), nil
}
