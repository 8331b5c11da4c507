package messaging

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Notification outcomes recorded by Metrics.
const (
	notifySent          = "sent"
	notifyFailed        = "failed"
	notifySkippedActive = "skipped_active"
	notifySkippedEmail  = "skipped_no_email"
)

// Metrics holds the messaging counters. A nil *Metrics records nothing.
type Metrics struct {
	conversationsCreated prometheus.Counter
	messagesPosted       prometheus.Counter
	messagesRead         prometheus.Counter
	notifications        *prometheus.CounterVec
}

// NewMetrics registers the messaging counters on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		conversationsCreated: f.NewCounter(prometheus.CounterOpts{
			Namespace: "picked",
			Subsystem: "messaging",
			Name:      "conversations_created_total",
			Help:      "Conversations created (dedup hits are not counted).",
		}),
		messagesPosted: f.NewCounter(prometheus.CounterOpts{
			Namespace: "picked",
			Subsystem: "messaging",
			Name:      "messages_posted_total",
			Help:      "Messages persisted.",
		}),
		messagesRead: f.NewCounter(prometheus.CounterOpts{
			Namespace: "picked",
			Subsystem: "messaging",
			Name:      "messages_read_total",
			Help:      "Messages transitioned from unread to read.",
		}),
		notifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "picked",
			Subsystem: "messaging",
			Name:      "notifications_total",
			Help:      "New-message notification attempts by result.",
		}, []string{"result"}),
	}
}

func (m *Metrics) conversationCreated() {
	if m != nil {
		m.conversationsCreated.Inc()
	}
}

func (m *Metrics) messagePosted() {
	if m != nil {
		m.messagesPosted.Inc()
	}
}

func (m *Metrics) read(n int64) {
	if m != nil && n > 0 {
		m.messagesRead.Add(float64(n))
	}
}

func (m *Metrics) notification(result string) {
	if m != nil {
		m.notifications.WithLabelValues(result).Inc()
	}
}
