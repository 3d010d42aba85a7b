// Package metrics — счётчики Prometheus для опросов и транспорта, отдаются на /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Исходы опроса.
const (
	OutcomeCompleted = "completed"
	OutcomeStopped   = "stopped"
	OutcomeFailed    = "failed"
)

var (
	QuizzesStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quizzes_started_total",
		Help: "Quizzes started, by category",
	}, []string{"category"})

	QuizzesFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quizzes_finished_total",
		Help: "Quizzes finished, by category and outcome (completed, stopped, failed)",
	}, []string{"category", "outcome"})

	QuizzesActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quizzes_active",
		Help: "Quizzes currently in progress",
	})

	CategoryUnavailable = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "category_unavailable_total",
		Help: "Quiz starts refused because category data is missing or malformed",
	}, []string{"category"})

	Answers = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quiz_answers_total",
		Help: "Answers applied to expert models, by answer category",
	}, []string{"answer"})

	UpdatesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "telegram_updates_received_total",
		Help: "Inbound updates, by kind (text, no_text, skipped)",
	}, []string{"kind"})

	MessagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "telegram_messages_sent_total",
		Help: "Outbound messages, by method and status",
	}, []string{"method", "status"})

	PollErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "telegram_poll_errors_total",
		Help: "Failed getUpdates calls",
	})
)

func QuizStarted(category string) {
	QuizzesStarted.WithLabelValues(category).Inc()
	QuizzesActive.Inc()
}

func QuizFinished(category, outcome string) {
	QuizzesFinished.WithLabelValues(category, outcome).Inc()
	QuizzesActive.Dec()
}

func MessageSent(method string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	MessagesSent.WithLabelValues(method, status).Inc()
}
