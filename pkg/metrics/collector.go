package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Proton-105/topup-bot/internal/state"
)

var (
	botCommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_commands_total",
			Help: "Total number of bot commands received labeled by command and status",
		},
		[]string{"command", "status"},
	)
	commandDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "command_duration_seconds",
			Help:    "Duration of bot commands in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"command"},
	)
	stateTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "state_transitions_total",
			Help: "Total number of conversation state transitions",
		},
		[]string{"from", "to"},
	)
	errorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "errors_total",
			Help: "Total number of errors split by type and severity",
		},
		[]string{"type", "severity"},
	)
	billsOpenedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bills_opened_total",
			Help: "Total number of bills opened at the payment gateway",
		},
	)
	billChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bill_checks_total",
			Help: "Total number of bill status checks labeled by reported status",
		},
		[]string{"status"},
	)
	paymentsCreditedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "payments_credited_total",
			Help: "Total number of confirmed payments credited to the ledger",
		},
	)
	creditedAmountTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "credited_amount_total",
			Help: "Sum of all amounts credited to the ledger",
		},
	)
	activeUsers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "active_users",
			Help: "Current number of users with a live session",
		},
	)
	usersByState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "users_by_state",
			Help: "Number of users per conversation state",
		},
		[]string{"state"},
	)
)

var trackedStates = []state.State{
	state.StateIdle,
	state.StateAwaitingAmount,
	state.StateAwaitingConfirmation,
}

func init() {
	state.RegisterTransitionRecorder(RecordStateTransition)
}

// RecordCommand increments command counters and records duration.
func RecordCommand(command, status string, duration time.Duration) {
	if command == "" {
		command = "unknown"
	}
	if status == "" {
		status = "unknown"
	}

	botCommandsTotal.WithLabelValues(command, status).Inc()
	commandDurationSeconds.WithLabelValues(command).Observe(duration.Seconds())
}

// RecordStateTransition tracks FSM transitions.
func RecordStateTransition(from, to string) {
	if from == "" {
		from = "unknown"
	}
	if to == "" {
		to = "unknown"
	}

	stateTransitionsTotal.WithLabelValues(from, to).Inc()
}

// RecordError increments error counters with metadata.
func RecordError(errType, severity string) {
	if errType == "" {
		errType = "unknown"
	}
	if severity == "" {
		severity = "unknown"
	}

	errorsTotal.WithLabelValues(errType, severity).Inc()
}

// RecordBillOpened counts a bill created at the gateway.
func RecordBillOpened() {
	billsOpenedTotal.Inc()
}

// RecordBillCheck counts a status check result.
func RecordBillCheck(status string) {
	if status == "" {
		status = "unknown"
	}

	billChecksTotal.WithLabelValues(status).Inc()
}

// RecordCredit counts a confirmed payment and its amount.
func RecordCredit(amount int64) {
	paymentsCreditedTotal.Inc()
	creditedAmountTotal.Add(float64(amount))
}

// SetActiveUsers updates the gauge for current active users.
func SetActiveUsers(count int) {
	activeUsers.Set(float64(count))
}

// SetUsersByState updates the gauge for the given state.
func SetUsersByState(state string, count int) {
	if state == "" {
		state = "unknown"
	}

	usersByState.WithLabelValues(state).Set(float64(count))
}

// StateCollector periodically gathers session counts and emits gauge metrics.
type StateCollector struct {
	fsm state.Machine
}

// NewStateCollector builds a metrics collector bound to the provided FSM.
func NewStateCollector(fsm state.Machine) *StateCollector {
	return &StateCollector{fsm: fsm}
}

// Run polls the FSM every 10 seconds, updating gauges until ctx is cancelled.
func (c *StateCollector) Run(ctx context.Context) {
	if c == nil || c.fsm == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	for {
		_ = c.collect(ctx)

		select {
		case <-ctx.Done():
			return
		case <-time.After(10 * time.Second):
		}
	}
}

func (c *StateCollector) collect(ctx context.Context) error {
	sessions, err := c.fsm.GetAllStates(ctx)
	if err != nil {
		return err
	}

	SetActiveUsers(len(sessions))

	stateCounts := make(map[string]int, len(sessions))
	for _, session := range sessions {
		label := "unknown"
		if session != nil && session.CurrentState != "" {
			label = string(session.CurrentState)
		}
		stateCounts[label]++
	}

	usersByState.Reset()

	for _, tracked := range trackedStates {
		label := string(tracked)
		SetUsersByState(label, stateCounts[label])
		delete(stateCounts, label)
	}

	for label, count := range stateCounts {
		SetUsersByState(label, count)
	}

	return nil
}
