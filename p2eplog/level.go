package p2eplog

import "github.com/btcsuite/btclog"

// ParseLevel maps a config string on to a btclog.Level, the same small set
// config.Config.LogLevel validates against.
func ParseLevel(level string) btclog.Level {
	switch level {
	case "debug":
		return btclog.LevelDebug
	case "warn":
		return btclog.LevelWarn
	case "error":
		return btclog.LevelError
	default:
		return btclog.LevelInfo
	}
}
