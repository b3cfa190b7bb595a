// Package libvips owns the process-wide libvips runtime used for HEIC decoding
// and WebP/AVIF encoding.
package libvips

import (
	"sync"

	"github.com/davidbyttow/govips/v2/vips"
	"github.com/sirupsen/logrus"
)

var (
	initialized bool
	initMutex   sync.Mutex
)

// Init starts libvips once. Subsequent calls are no-ops.
// libvips log output is routed to logger at a level derived from the logger's own level.
func Init(logger *logrus.Logger) {
	initMutex.Lock()
	defer initMutex.Unlock()

	if initialized {
		return
	}

	if logger != nil {
		vipsLevel := vips.LogLevelWarning
		switch logger.GetLevel() {
		case logrus.DebugLevel, logrus.TraceLevel:
			vipsLevel = vips.LogLevelInfo
		case logrus.WarnLevel:
			vipsLevel = vips.LogLevelError
		case logrus.ErrorLevel, logrus.FatalLevel, logrus.PanicLevel:
			vipsLevel = vips.LogLevelCritical
		}
		vips.LoggingSettings(func(domain string, level vips.LogLevel, msg string) {
			entry := logger.WithField("domain", domain)
			switch level {
			case vips.LogLevelError, vips.LogLevelCritical:
				entry.Error(msg)
			case vips.LogLevelWarning:
				entry.Warn(msg)
			default:
				entry.Debug(msg)
			}
		}, vipsLevel)
	}

	// One operation at a time keeps peak memory predictable.
	vips.Startup(&vips.Config{
		ConcurrencyLevel: 1,
		MaxCacheMem:      50 * 1024 * 1024,
		MaxCacheSize:     100,
	})

	initialized = true
	if logger != nil {
		logger.Infof("libvips initialized (version: %s)", vips.Version)
	}
}

// Shutdown releases libvips resources.
func Shutdown() {
	initMutex.Lock()
	defer initMutex.Unlock()

	if initialized {
		vips.Shutdown()
		initialized = false
	}
}

// Initialized reports whether Init has run.
func Initialized() bool {
	initMutex.Lock()
	defer initMutex.Unlock()
	return initialized
}
