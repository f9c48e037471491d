package audit

import (
	"strings"

	"github.com/sirupsen/logrus"
)

const maskLen = 8

// Logger writes protocol events to the event ledger and echoes them to the
// screen. Values for the configured sensitive keys are masked before either
// sink sees them.
type Logger struct {
	ledger     *Ledger
	logger     *logrus.Entry
	verbose    bool
	shouldMask map[string]bool
}

// NewLogger returns a Logger writing to the given event ledger. shouldMask
// names the data keys whose values must never appear in full.
func NewLogger(ledger *Ledger, logger *logrus.Entry, verbose bool, shouldMask []string) *Logger {
	masked := make(map[string]bool, len(shouldMask))
	for _, key := range shouldMask {
		masked[key] = true
	}

	return &Logger{
		ledger:     ledger,
		logger:     logger,
		verbose:    verbose,
		shouldMask: masked,
	}
}

// Event appends the event and its masked data to the ledger and logs it.
func (a *Logger) Event(event string, data map[string]interface{}) {
	masked := a.Mask(data)

	if _, err := a.ledger.Append(Record{"event": event, "maskedData": masked}); err != nil {
		a.logger.WithError(err).WithField("event", event).Error("writing event ledger")
	}

	entry := a.logger
	if a.verbose {
		entry = entry.WithFields(logrus.Fields(masked))
	}
	entry.Info(event)
}

// Error records an error event. reason is a very short description; data is
// anything that will help.
func (a *Logger) Error(reason string, data map[string]interface{}) {
	a.Event("error", map[string]interface{}{
		"error":   reason,
		"details": a.Mask(data),
	})
}

// Mask copies data, replacing the values of sensitive keys. String values
// keep an 8 character prefix; anything else is replaced wholesale.
func (a *Logger) Mask(data map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(data))

	for key, value := range data {
		if !a.shouldMask[key] {
			out[key] = value
			continue
		}

		if s, ok := value.(string); ok {
			if len(s) > maskLen {
				out[key] = s[:maskLen] + strings.Repeat("*", len(s)-maskLen)
			} else {
				out[key] = s
			}
		} else {
			out[key] = "**[protected data]**"
		}
	}

	return out
}
