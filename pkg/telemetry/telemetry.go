/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package telemetry implements pendingstate.Observer with structured
// logging (go.uber.org/zap, the teacher's own logging library) and
// Prometheus metrics (github.com/prometheus/client_golang, used the
// same way by tomtom215-cartographus and xige-16-stream-read).
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/wes-carlson/fluidcore/pkg/pendingstate"
)

var (
	acksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fluidcore_acks_total",
		Help: "Acks processed by the pending op state machine, by result.",
	}, []string{"result"})

	corruptionTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fluidcore_corruption_total",
		Help: "Data corruption events raised by the pending op state machine.",
	})

	pendingMessages = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fluidcore_pending_messages",
		Help: "Messages currently awaiting ack in the pending queue.",
	})

	replayDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "fluidcore_replay_resubmit_count",
		Help:    "Number of Messages resubmitted per replayOnReconnect call.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10),
	})

	doubleReplaySuspected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fluidcore_double_replay_suspected_total",
		Help: "replayOnReconnect refusals where the runtime's clientId did not change.",
	})
)

// Register adds this package's collectors to reg. Call once per
// process; tests typically use prometheus.NewRegistry() to avoid
// colliding with the default global registry.
func Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		acksTotal, corruptionTotal, pendingMessages, replayDuration, doubleReplaySuspected,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Observer is the zap+Prometheus implementation of pendingstate.Observer.
type Observer struct {
	log *zap.Logger
}

// New wraps a zap logger as a pendingstate.Observer. A nil logger
// falls back to zap.NewNop().
func New(log *zap.Logger) *Observer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Observer{log: log}
}

var _ pendingstate.Observer = (*Observer)(nil)

func (o *Observer) OnSubmit(csn uint64, messageType string) {
	o.log.Debug("op submitted", zap.Uint64("csn", csn), zap.String("type", messageType))
}

func (o *Observer) OnAckAccepted(csn uint64, sequenceNumber uint64) {
	acksTotal.WithLabelValues("accepted").Inc()
	o.log.Debug("ack accepted", zap.Uint64("csn", csn), zap.Uint64("seq", sequenceNumber))
}

func (o *Observer) OnCorruption(c *pendingstate.DataCorruption) {
	acksTotal.WithLabelValues("corruption").Inc()
	corruptionTotal.Inc()
	o.log.Error("data corruption detected, closing container",
		zap.String("clientId", c.ClientID),
		zap.Uint64("seq", c.SequenceNumber),
		zap.Uint64("csn", c.ClientSequenceNumber),
		zap.Uint64("expectedCsn", c.ExpectedClientSequenceNumber),
		zap.String("reason", c.Reason),
	)
}

func (o *Observer) OnReplayStart(clientID string, pendingCount int) {
	pendingMessages.Set(float64(pendingCount))
	o.log.Info("replay on reconnect starting", zap.String("clientId", clientID), zap.Int("pendingCount", pendingCount))
}

func (o *Observer) OnReplayEnd(clientID string, resubmitted int) {
	replayDuration.Observe(float64(resubmitted))
	o.log.Info("replay on reconnect finished", zap.String("clientId", clientID), zap.Int("resubmitted", resubmitted))
}

func (o *Observer) OnSerialize(pendingCount int) {
	pendingMessages.Set(float64(pendingCount))
	o.log.Debug("pending state serialized", zap.Int("pendingCount", pendingCount))
}

func (o *Observer) OnDoubleReplaySuspected(clientID string) {
	doubleReplaySuspected.Inc()
	o.log.Warn("double replay suspected: runtime clientId unchanged across connect events",
		zap.String("clientId", clientID))
}
