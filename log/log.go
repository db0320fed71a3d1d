package log

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"

	"go.uber.org/zap"
)

const (
	// Log absolutely nothing
	LOGLEVEL_NONE int = iota
	// Log situations that are not expected to happen and
	// are difficult to handle (e.g. a socket that cannot be created)
	LOGLEVEL_ERRORS
	// Log non-critical situations that might happen, but shouldn't (e.g. a reply nobody waits for)
	LOGLEVEL_WARNINGS
	// Log situations that are expected, but important for the operation
	LOGLEVEL_INFO
	// Log everything
	LOGLEVEL_DEBUG
)

var (
	mx       sync.RWMutex
	logger   *zap.SugaredLogger
	loglevel int = LOGLEVEL_WARNINGS
)

func init() {
	l, err := zap.NewProduction(zap.AddCallerSkip(1))

	if err != nil {
		l = zap.NewNop()
	}
	logger = l.Named("clusterdispatch").Sugar()
}

var loglevel_strings []string = []string{"NON", "ERR", "WRN", "INF", "DBG"}

func loglevel_to_string(ll int) string {
	if ll < 0 || ll >= len(loglevel_strings) {
		return "???"
	}
	return loglevel_strings[ll]
}

// Parses a level name as used in configuration files ("errors", "warnings", "info", "debug", "none").
func ParseLoglevel(s string) (int, error) {
	switch strings.ToLower(s) {
	case "none":
		return LOGLEVEL_NONE, nil
	case "error", "errors":
		return LOGLEVEL_ERRORS, nil
	case "warning", "warnings", "":
		return LOGLEVEL_WARNINGS, nil
	case "info":
		return LOGLEVEL_INFO, nil
	case "debug":
		return LOGLEVEL_DEBUG, nil
	}
	return LOGLEVEL_NONE, fmt.Errorf("unknown log level %q", s)
}

// Set the global log level
func SetLoglevel(ll int) {
	mx.Lock()
	defer mx.Unlock()
	loglevel = ll
}

// Replace the zap logger that receives all messages. A nil logger disables output.
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	mx.Lock()
	defer mx.Unlock()
	logger = l.WithOptions(zap.AddCallerSkip(1)).Sugar()
}

// Performance-enhancer: Prevent unnecessary log calls
func IsLoggingEnabled(ll int) bool {
	mx.RLock()
	defer mx.RUnlock()
	return loglevel >= ll
}

// Log what at level ll. The arguments are joined like fmt.Sprintln does.
func Log(ll int, what ...interface{}) {
	mx.RLock()
	l, current := logger, loglevel
	mx.RUnlock()

	if ll > current || ll == LOGLEVEL_NONE {
		return
	}

	msg := strings.TrimSuffix(fmt.Sprintln(what...), "\n")

	switch ll {
	case LOGLEVEL_ERRORS:
		l.Errorw(msg, "level", loglevel_to_string(ll))
	case LOGLEVEL_WARNINGS:
		l.Warnw(msg, "level", loglevel_to_string(ll))
	case LOGLEVEL_INFO:
		l.Infow(msg, "level", loglevel_to_string(ll))
	default:
		l.Debugw(msg, "level", loglevel_to_string(ll))
	}
}

// Flush buffered log entries.
func Sync() error {
	mx.RLock()
	defer mx.RUnlock()
	return logger.Sync()
}

func mapToChar(i int) byte {
	i = i % (10 + 26 + 26)
	if i < 10 {
		return byte('0' + i)
	} else if i < 10+26 {
		return byte('A' + i - 10)
	} else if i < 10+26+26 {
		return byte('a' + i - 10 - 26)
	}
	return byte('_')
}

// Returns a short random alphanumeric string.
// This is used to name dispatcher instances and workers in log lines.
func GetLogToken() string {
	str := make([]byte, 6)
	for i := range str {
		str[i] = mapToChar(rand.Int())
	}
	return string(str)
}
