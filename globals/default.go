// Package globals holds the process wide logger.
package globals

import (
	"os"

	"github.com/hashicorp/go-hclog"
)

// AppLogger writes to STDERR so that command output on STDOUT stays parseable.
var AppLogger = hclog.New(&hclog.LoggerOptions{
	Name:   "walkingbuddy",
	Level:  hclog.LevelFromString("DEBUG"),
	Output: os.Stderr,
})

// SetLogLevel sets the level of AppLogger. Unknown levels are reported and leave the level unchanged.
func SetLogLevel(level string) bool {
	l := hclog.LevelFromString(level)
	if l == hclog.NoLevel {
		AppLogger.Warn("unknown log level, keeping the current one", "level", level)
		return false
	}
	AppLogger.SetLevel(l)
	return true
}
