package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// LoyaltyMetrics tracks accrual and redemption outcomes.
type LoyaltyMetrics struct {
	scans          *prometheus.CounterVec
	rewardsEarned  prometheus.Counter
	redemptions    *prometheus.CounterVec
	accrualRetries prometheus.Counter
	deliveries     *prometheus.CounterVec
	outboxAlerts   *prometheus.CounterVec
}

var (
	loyaltyOnce     sync.Once
	loyaltyRegistry *LoyaltyMetrics
)

// Loyalty returns the process-wide loyalty metrics, registering them on first use.
func Loyalty() *LoyaltyMetrics {
	loyaltyOnce.Do(func() {
		loyaltyRegistry = &LoyaltyMetrics{
			scans: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "loyalty_scans_total",
				Help: "Scan submissions by outcome.",
			}, []string{"outcome"}),
			rewardsEarned: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "loyalty_rewards_earned_total",
				Help: "Rewards issued on threshold crossings.",
			}),
			redemptions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "loyalty_redemptions_total",
				Help: "Redemption attempts by outcome.",
			}, []string{"outcome"}),
			accrualRetries: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "loyalty_accrual_conflict_retries_total",
				Help: "Accrual units retried after losing a per-customer race.",
			}),
			deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "loyalty_notification_deliveries_total",
				Help: "Notification delivery outcomes by channel.",
			}, []string{"channel", "state"}),
			outboxAlerts: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "loyalty_delivery_alerts_total",
				Help: "Owner alerts raised for undeliverable notifications.",
			}, []string{"channel", "permanent"}),
		}
		prometheus.MustRegister(
			loyaltyRegistry.scans,
			loyaltyRegistry.rewardsEarned,
			loyaltyRegistry.redemptions,
			loyaltyRegistry.accrualRetries,
			loyaltyRegistry.deliveries,
			loyaltyRegistry.outboxAlerts,
		)
	})
	return loyaltyRegistry
}

func (m *LoyaltyMetrics) ObserveScan(outcome string) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.scans.WithLabelValues(outcome).Inc()
}

func (m *LoyaltyMetrics) ObserveRewardEarned() {
	if m == nil {
		return
	}
	m.rewardsEarned.Inc()
}

func (m *LoyaltyMetrics) ObserveRedemption(outcome string) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.redemptions.WithLabelValues(outcome).Inc()
}

func (m *LoyaltyMetrics) ObserveAccrualRetry() {
	if m == nil {
		return
	}
	m.accrualRetries.Inc()
}

func (m *LoyaltyMetrics) ObserveDelivery(channel, state string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(channel, state).Inc()
}

func (m *LoyaltyMetrics) ObserveAlert(channel string, permanent bool) {
	if m == nil {
		return
	}
	label := "false"
	if permanent {
		label = "true"
	}
	m.outboxAlerts.WithLabelValues(channel, label).Inc()
}
