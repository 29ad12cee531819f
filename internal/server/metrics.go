// SPDX-License-Identifier: MIT

package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/StagOS/android-system-apex/internal/session/model"
)

var (
	sessionTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "apexd_session_transitions_total",
		Help: "Number of committed session state transitions by resulting state",
	}, []string{"state"})

	activationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "apexd_activations_total",
		Help: "Number of activation attempts by result",
	}, []string{"result"})

	verificationFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "apexd_verification_failures_total",
		Help: "Number of submissions rejected by package verification",
	})
)

func recordSessionTransition(state model.State) {
	sessionTransitionsTotal.WithLabelValues(string(state)).Inc()
}

func recordActivation(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	activationsTotal.WithLabelValues(result).Inc()
}

func recordVerificationFailure() {
	verificationFailuresTotal.Inc()
}
