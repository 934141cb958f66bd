package logstore

import (
	"errors"
	"fmt"
	"strings"
)

// Level is the closed set of log severities accepted by the store.
type Level string

const (
	LevelError   Level = "ERROR"
	LevelWarning Level = "WARNING"
	LevelInfo    Level = "INFO"
	LevelDebug   Level = "DEBUG"
	LevelSuccess Level = "SUCCESS"
)

var ErrInvalidLevel = errors.New("invalid log level")

// Levels lists all valid levels in display order.
func Levels() []Level {
	return []Level{LevelError, LevelWarning, LevelInfo, LevelDebug, LevelSuccess}
}

// ParseLevel normalizes a case-insensitive level string. Anything
// outside the five known levels is an error, not a fallback.
func ParseLevel(s string) (Level, error) {
	switch Level(strings.ToUpper(strings.TrimSpace(s))) {
	case LevelError:
		return LevelError, nil
	case LevelWarning:
		return LevelWarning, nil
	case LevelInfo:
		return LevelInfo, nil
	case LevelDebug:
		return LevelDebug, nil
	case LevelSuccess:
		return LevelSuccess, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidLevel, s)
	}
}

func (l Level) String() string { return string(l) }
