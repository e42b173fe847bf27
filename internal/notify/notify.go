package notify

import (
	"go.uber.org/zap"

	"pos-sync-service/internal/logger"
)

// Severity maps to how loudly the surrounding app should surface a
// notification.
type Severity string

const (
	SeverityInfo Severity = "info"
	SeverityWarn Severity = "warn"
)

type Notification struct {
	Title    string
	Message  string
	Severity Severity
}

// Notifier is a fire-and-forget user-notification sink. Implementations
// must never block the caller.
type Notifier interface {
	Notify(n Notification)
}

// LogNotifier forwards notifications to the log through a buffered
// channel; when the buffer is full the notification is dropped rather
// than blocking sync work.
type LogNotifier struct {
	ch   chan Notification
	done chan struct{}
}

func NewLogNotifier(buffer int) *LogNotifier {
	if buffer <= 0 {
		buffer = 16
	}
	n := &LogNotifier{
		ch:   make(chan Notification, buffer),
		done: make(chan struct{}),
	}
	go n.run()
	return n
}

func (n *LogNotifier) run() {
	for notification := range n.ch {
		switch notification.Severity {
		case SeverityWarn:
			logger.Log.Warn(notification.Title, zap.String("message", notification.Message))
		default:
			logger.Log.Info(notification.Title, zap.String("message", notification.Message))
		}
	}
	close(n.done)
}

func (n *LogNotifier) Notify(notification Notification) {
	select {
	case n.ch <- notification:
	default:
	}
}

func (n *LogNotifier) Close() {
	close(n.ch)
	<-n.done
}

// Info sends a low-severity notification.
func Info(n Notifier, title, message string) {
	if n != nil {
		n.Notify(Notification{Title: title, Message: message, Severity: SeverityInfo})
	}
}

// Warn sends a high-severity notification.
func Warn(n Notifier, title, message string) {
	if n != nil {
		n.Notify(Notification{Title: title, Message: message, Severity: SeverityWarn})
	}
}
