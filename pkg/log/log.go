package log

import (
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
	// TraceLevel logs every RPC exchanged over the transport (vote
	// requests, append entries, install snapshot) with full argument
	// dumps. It is too noisy for anything but diagnosing a live cluster.
	TraceLevel Level = "trace"
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config holds logging configuration
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

func init() {
	Init(Config{Level: InfoLevel})
}

// Init initializes the global logger
func Init(cfg Config) {
	var level zerolog.Level
	switch cfg.Level {
	case TraceLevel:
		level = zerolog.TraceLevel
	case DebugLevel:
		level = zerolog.DebugLevel
	case InfoLevel:
		level = zerolog.InfoLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(level)

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

// WithComponent creates a child logger tagged with a component name, e.g.
// "wal", "raft", "syncx", "membership", "transport".
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithNode tags a component logger with this node's identity, the field
// every raft/ and wal/ log line that isn't purely local carries.
func WithNode(component, nodeID string) zerolog.Logger {
	return Logger.With().Str("component", component).Str("node", nodeID).Logger()
}

// WithElection tags a raft logger with the election round a log line
// belongs to: the node conducting it and the term it's contesting.
func WithElection(nodeID string, term uint64) zerolog.Logger {
	return Logger.With().Str("component", "raft").Str("node", nodeID).Uint64("term", term).Logger()
}

// WithIndex tags a wal/raft logger with a log index, for messages about a
// specific entry rather than a node or term as a whole.
func WithIndex(component string, index uint64) zerolog.Logger {
	return Logger.With().Str("component", component).Uint64("index", index).Logger()
}
