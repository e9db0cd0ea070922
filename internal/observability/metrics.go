package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the copilot service.
type Metrics struct {
	// TurnCounter counts conversation turns.
	// Labels: outcome (completed|no_reply|failed)
	TurnCounter *prometheus.CounterVec

	// TurnDuration measures HandleTurn latency in seconds.
	// Labels: outcome
	TurnDuration *prometheus.HistogramVec

	// RunPolls counts run status retrievals.
	// Labels: status (the remote run status observed)
	RunPolls *prometheus.CounterVec

	// ToolCalls counts tool invocations.
	// Labels: tool_name, status (success|error|invalid|unknown)
	ToolCalls *prometheus.CounterVec

	// ModerationVerdicts counts moderation results.
	// Labels: role (user|assistant), verdict (flagged|clean|error)
	ModerationVerdicts *prometheus.CounterVec

	// BackgroundJobs counts finished background jobs.
	// Labels: kind, status (succeeded|failed)
	BackgroundJobs *prometheus.CounterVec

	// BackgroundJobDuration measures background job run time in seconds.
	// Labels: kind
	BackgroundJobDuration *prometheus.HistogramVec

	// SMSMessages counts SMS traffic.
	// Labels: direction (inbound|outbound), status (success|error)
	SMSMessages *prometheus.CounterVec

	// HTTPRequestCounter counts HTTP requests.
	// Labels: method, path, status_code
	HTTPRequestCounter *prometheus.CounterVec

	// FollowupCandidates counts accounts that met the follow-up criteria.
	FollowupCandidates prometheus.Counter
}

// NewMetrics creates and registers all collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TurnCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "copilot_turns_total",
				Help: "Total number of conversation turns by outcome",
			},
			[]string{"outcome"},
		),
		TurnDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "copilot_turn_duration_seconds",
				Help:    "Duration of conversation turns in seconds",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"outcome"},
		),
		RunPolls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "copilot_run_polls_total",
				Help: "Total number of assistant run status retrievals by observed status",
			},
			[]string{"status"},
		),
		ToolCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "copilot_tool_calls_total",
				Help: "Total number of assistant tool calls",
			},
			[]string{"tool_name", "status"},
		),
		ModerationVerdicts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "copilot_moderation_verdicts_total",
				Help: "Total number of moderation verdicts",
			},
			[]string{"role", "verdict"},
		),
		BackgroundJobs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "copilot_background_jobs_total",
				Help: "Total number of finished background jobs",
			},
			[]string{"kind", "status"},
		),
		BackgroundJobDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "copilot_background_job_duration_seconds",
				Help:    "Duration of background jobs in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"kind"},
		),
		SMSMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "copilot_sms_messages_total",
				Help: "Total number of SMS messages by direction",
			},
			[]string{"direction", "status"},
		),
		HTTPRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "copilot_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
		FollowupCandidates: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "copilot_followup_candidates_total",
				Help: "Total number of accounts that met the follow-up criteria",
			},
		),
	}
}

// RecordTurn records a finished conversation turn.
func (m *Metrics) RecordTurn(outcome string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.TurnCounter.WithLabelValues(outcome).Inc()
	m.TurnDuration.WithLabelValues(outcome).Observe(durationSeconds)
}

// RecordRunPoll records one run status retrieval.
func (m *Metrics) RecordRunPoll(status string) {
	if m == nil {
		return
	}
	m.RunPolls.WithLabelValues(status).Inc()
}

// RecordToolCall records one tool invocation.
func (m *Metrics) RecordToolCall(toolName, status string) {
	if m == nil {
		return
	}
	m.ToolCalls.WithLabelValues(toolName, status).Inc()
}

// RecordModeration records a moderation verdict.
func (m *Metrics) RecordModeration(role, verdict string) {
	if m == nil {
		return
	}
	m.ModerationVerdicts.WithLabelValues(role, verdict).Inc()
}

// RecordBackgroundJob records a finished background job.
func (m *Metrics) RecordBackgroundJob(kind, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.BackgroundJobs.WithLabelValues(kind, status).Inc()
	m.BackgroundJobDuration.WithLabelValues(kind).Observe(durationSeconds)
}

// RecordSMS records inbound or outbound SMS traffic.
func (m *Metrics) RecordSMS(direction, status string) {
	if m == nil {
		return
	}
	m.SMSMessages.WithLabelValues(direction, status).Inc()
}

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, statusCode string) {
	if m == nil {
		return
	}
	m.HTTPRequestCounter.WithLabelValues(method, path, statusCode).Inc()
}

// RecordFollowupCandidate counts an account that met the follow-up criteria.
func (m *Metrics) RecordFollowupCandidate() {
	if m == nil {
		return
	}
	m.FollowupCandidates.Inc()
}
