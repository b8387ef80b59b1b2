// Package metrics exposes Prometheus counters for the loyalty engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type LoyaltyMetrics struct {
	pointsAwarded    *prometheus.CounterVec
	rewardsIssued    *prometheus.CounterVec
	rewardsDelivered *prometheus.CounterVec
	deliverySkipped  *prometheus.CounterVec
}

// New creates the loyalty counters and registers them with reg. A nil
// registerer leaves them unregistered, which tests rely on.
func New(reg prometheus.Registerer) *LoyaltyMetrics {
	m := &LoyaltyMetrics{
		pointsAwarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loyalty_points_awarded_total",
			Help: "Points credited to client balances by source.",
		}, []string{"source"}),
		rewardsIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loyalty_rewards_issued_total",
			Help: "Reward records created by kind.",
		}, []string{"kind"}),
		rewardsDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loyalty_rewards_delivered_total",
			Help: "Reward records turned into fulfillment orders by kind.",
		}, []string{"kind"}),
		deliverySkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loyalty_fulfillment_skipped_total",
			Help: "Deliveries left pending by reason.",
		}, []string{"reason"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.pointsAwarded,
			m.rewardsIssued,
			m.rewardsDelivered,
			m.deliverySkipped,
		)
	}
	return m
}

func (m *LoyaltyMetrics) ObservePointsAwarded(source string, points int64) {
	if m == nil || points <= 0 {
		return
	}
	if source == "" {
		source = "unknown"
	}
	m.pointsAwarded.WithLabelValues(source).Add(float64(points))
}

func (m *LoyaltyMetrics) ObserveRewardIssued(kind string) {
	if m == nil {
		return
	}
	m.rewardsIssued.WithLabelValues(kind).Inc()
}

func (m *LoyaltyMetrics) ObserveRewardDelivered(kind string) {
	if m == nil {
		return
	}
	m.rewardsDelivered.WithLabelValues(kind).Inc()
}

func (m *LoyaltyMetrics) ObserveDeliverySkipped(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unknown"
	}
	m.deliverySkipped.WithLabelValues(reason).Inc()
}
