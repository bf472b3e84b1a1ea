package log

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

var logger = logrus.New()

func init() {
	logger.Formatter = &logrus.TextFormatter{
		TimestampFormat: time.RFC3339,
		FullTimestamp:   true,
	}
}

// Print returns a request-scoped entry when given a fiber context, or a
// bare entry for background work.
func Print(c *fiber.Ctx) *logrus.Entry {
	if c == nil {
		return logger.WithFields(logrus.Fields{})
	}

	return logger.WithFields(logrus.Fields{
		"remote_ip": c.IP(),
		"method":    c.Method(),
		"uri":       c.OriginalURL(),
	})
}

// Bridge returns an entry tagged with the session-manager component and
// the operation being performed.
func Bridge(op string) *logrus.Entry {
	return logger.WithFields(logrus.Fields{
		"component": "bridge",
		"op":        op,
	})
}

// Channel returns an entry tagged with a chat channel name.
func Channel(name string) *logrus.Entry {
	return logger.WithFields(logrus.Fields{
		"component": "channel",
		"channel":   name,
	})
}

// Bus returns an entry tagged with the message bus component.
func Bus() *logrus.Entry {
	return logger.WithField("component", "bus")
}
