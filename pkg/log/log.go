package log

import (
	"bytes"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

var (
	// Logger is the global logger instance
	Logger zerolog.Logger
)

// Level represents log level
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"

	// ContainerLevel is a dedicated level tag for log lines streamed back
	// from sibling containers. Container writes these lines without a
	// zerolog level, so the configured global level does not filter
	// them; Init treats "container" like any unrecognized level (Info).
	ContainerLevel Level = "container"
)

// Config holds logging configuration
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init initializes the global logger
func Init(cfg Config) {
	zerolog.SetGlobalLevel(levelFor(cfg.Level))

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
}

func levelFor(l Level) zerolog.Level {
	switch l {
	case DebugLevel:
		return zerolog.DebugLevel
	case InfoLevel:
		return zerolog.InfoLevel
	case WarnLevel:
		return zerolog.WarnLevel
	case ErrorLevel:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// WithComponent creates a child logger with component field
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithJobID creates a child logger with job_id field
func WithJobID(jobID string) zerolog.Logger {
	return Logger.With().Str("job_id", jobID).Logger()
}

// WithContainer creates a child logger with container_id field
func WithContainer(containerID string) zerolog.Logger {
	return Logger.With().Str("container_id", containerID).Logger()
}

// Container logs msg tagged with level=container, used by the supervisor
// to stream de-duplicated container stdout/stderr lines. zerolog has no
// custom numeric level registry, so the level is carried as a field
// instead of a builtin Logger.Info()/Debug() call.
func Container(logger zerolog.Logger, msg string) {
	logger.Log().Str("level", string(ContainerLevel)).Msg(msg)
}

// Helper functions for common logging patterns
func Info(msg string) {
	Logger.Info().Msg(msg)
}

func Debug(msg string) {
	Logger.Debug().Msg(msg)
}

func Warn(msg string) {
	Logger.Warn().Msg(msg)
}

func Error(msg string) {
	Logger.Error().Msg(msg)
}

func Errorf(format string, err error) {
	Logger.Error().Err(err).Msg(format)
}

func Fatal(msg string) {
	Logger.Fatal().Msg(msg)
}

// ScopedSink is a logger whose output is captured into an in-memory
// buffer rather than the process-wide sink. run_job uses one per job to
// capture an error escaping the executor into job.WorkerError without
// polluting the global log stream.
type ScopedSink struct {
	buf    bytes.Buffer
	Logger zerolog.Logger
}

// NewScopedSink returns a ScopedSink bound to a fresh buffer.
func NewScopedSink() *ScopedSink {
	s := &ScopedSink{}
	s.Logger = zerolog.New(&s.buf).With().Timestamp().Logger()
	return s
}

// String returns everything written to the sink so far.
func (s *ScopedSink) String() string {
	return s.buf.String()
}
