// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Threadly Contributors

package auth

import "github.com/prometheus/client_golang/prometheus"

// Operation names used as metric labels and span names.
const (
	OpRegister       = "register"
	OpLogin          = "login"
	OpForgotPassword = "forgot_password"
	OpChangePassword = "change_password"
	OpDeleteAccount  = "delete_account"
	OpLogout         = "logout"
)

// Outcome constants for operation metrics.
const (
	OutcomeSuccess  = "success"
	OutcomeInvalid  = "invalid"
	OutcomeConflict = "conflict"
	OutcomeDenied   = "denied"
	OutcomeError    = "error"
)

// Metrics holds the Prometheus collectors of the auth package.
// A nil *Metrics records nothing.
type Metrics struct {
	operations   *prometheus.CounterVec
	mailFailures prometheus.Counter
	rehashes     prometheus.Counter
}

// NewMetrics creates and registers auth metrics.
// Panics if registration fails (following prometheus convention).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "threadly_auth_operations_total",
				Help: "Total number of credential operations by outcome",
			},
			[]string{"operation", "outcome"},
		),
		mailFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "threadly_auth_reset_mail_failures_total",
			Help: "Total number of password reset emails that could not be delivered",
		}),
		rehashes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "threadly_auth_password_rehashes_total",
			Help: "Total number of password hashes upgraded on login",
		}),
	}

	reg.MustRegister(m.operations, m.mailFailures, m.rehashes)
	return m
}

func (m *Metrics) recordOperation(operation, outcome string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
}

func (m *Metrics) recordMailFailure() {
	if m == nil {
		return
	}
	m.mailFailures.Inc()
}

func (m *Metrics) recordRehash() {
	if m == nil {
		return
	}
	m.rehashes.Inc()
}
