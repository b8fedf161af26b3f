package config

import (
	"os"

	log "github.com/sirupsen/logrus"
)

// ConfigureLogging sets up the global logrus logger: JSON lines outside
// development, colored text in dev, level from LOG_LEVEL.
func ConfigureLogging(env, level string) {
	log.SetOutput(os.Stdout)
	if env == "dev" || env == "development" || env == "local" {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	} else {
		log.SetFormatter(&log.JSONFormatter{})
	}
	lvl, err := log.ParseLevel(level)
	if err != nil {
		log.WithField("level", level).Warn("unknown LOG_LEVEL, using info")
		lvl = log.InfoLevel
	}
	log.SetLevel(lvl)
}
