package streamengine

import "github.com/sirupsen/logrus"

// LogrusItemLogger logs every item MultiStream forwards to the consumer,
// one structured entry per item. The listing and kind ride along as
// fields, at Info level for ordinary listings and Warn for
// spam/removed/modqueue so an operator's log filter can promote those
// without code changes.
type LogrusItemLogger struct {
	log *logrus.Logger
}

// NewLogrusItemLogger builds an ItemLogger writing through log.
func NewLogrusItemLogger(log *logrus.Logger) *LogrusItemLogger {
	return &LogrusItemLogger{log: log}
}

func (l *LogrusItemLogger) Log(item StreamItem) {
	if l.log == nil {
		return
	}
	fields := logrus.Fields{
		"listing":  item.Listing,
		"kind":     item.Kind,
		"fullname": item.Item.Fullname,
		"author":   item.Item.Author,
	}

	entry := l.log.WithFields(fields)
	switch item.Listing {
	case "spam", "removed", "modqueue":
		entry.Warn("streamed item")
	default:
		entry.Info("streamed item")
	}
}
