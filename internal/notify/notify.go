// Package notify holds the transient notifications shown to the user and
// announces each one on the bus.
package notify

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/wppc/internal/bus"
)

// Level is the severity of a notification.
type Level int

const (
	Info Level = iota
	Success
	Warn
	Error
)

func (l Level) String() string {
	switch l {
	case Success:
		return "success"
	case Warn:
		return "warn"
	case Error:
		return "error"
	default:
		return "info"
	}
}

// lifetime is how long a notification of each level stays visible.
var lifetime = map[Level]time.Duration{
	Info:    5 * time.Second,
	Success: 5 * time.Second,
	Warn:    8 * time.Second,
	Error:   10 * time.Second,
}

// Notification is one message for the user.
type Notification struct {
	Text    string
	Level   Level
	At      time.Time
	Expires time.Time
}

// Notifier keeps the latest notification and publishes every new one as
// "notify.<level>".
type Notifier struct {
	mu      sync.RWMutex
	current Notification
	bus     *bus.Bus
	logger  *zap.Logger
	now     func() time.Time
}

// New creates a Notifier publishing on b.
func New(b *bus.Bus, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{bus: b, logger: logger, now: time.Now}
}

// Info shows an informational message.
func (n *Notifier) Info(msg string) { n.set(msg, Info) }

// Success shows a confirmation.
func (n *Notifier) Success(msg string) { n.set(msg, Success) }

// Warn shows a recoverable problem.
func (n *Notifier) Warn(msg string) { n.set(msg, Warn) }

// Error shows a failure.
func (n *Notifier) Error(msg string) { n.set(msg, Error) }

func (n *Notifier) set(msg string, level Level) {
	now := n.now()
	note := Notification{
		Text:    msg,
		Level:   level,
		At:      now,
		Expires: now.Add(lifetime[level]),
	}
	n.mu.Lock()
	n.current = note
	n.mu.Unlock()

	n.logger.Debug("notification", zap.String("level", level.String()), zap.String("text", msg))
	n.bus.Emit("notify."+level.String(), note)
}

// Current returns the latest notification unless it has expired.
func (n *Notifier) Current() (Notification, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.current.Text == "" || n.now().After(n.current.Expires) {
		return Notification{}, false
	}
	return n.current, true
}
