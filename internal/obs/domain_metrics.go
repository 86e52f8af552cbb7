package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// DeliveriesAssignedTotal counts deliveries handed to drivers.
	DeliveriesAssignedTotal prometheus.Counter
	// DeliveryTransitionsTotal counts status transition attempts by outcome.
	DeliveryTransitionsTotal *prometheus.CounterVec
	// LocationPingsTotal counts inbound driver location pings by outcome.
	LocationPingsTotal *prometheus.CounterVec
	// TrackingSubscribers tracks currently connected tracking websocket clients.
	TrackingSubscribers prometheus.Gauge
	// DriversMarkedOffline counts drivers flagged offline by the staleness sweeper.
	DriversMarkedOffline prometheus.Counter
	// WebhookDeliveriesTotal tracks webhook dispatch outcomes.
	WebhookDeliveriesTotal *prometheus.CounterVec
	// WebhookAttemptLatency records delivery attempt latency in milliseconds.
	WebhookAttemptLatency *prometheus.HistogramVec
	// WebhookDispatchDLQ counts deliveries moved to dead-letter queue.
	WebhookDispatchDLQ prometheus.Counter
	// MQPublishesTotal counts events mirrored to the message broker by outcome.
	MQPublishesTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		DeliveriesAssignedTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_assigned_total",
			Help:      "Count of deliveries assigned to drivers.",
		})
		DeliveryTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_transitions_total",
			Help:      "Count of delivery status transition attempts by outcome.",
		}, []string{"from", "to", "result"})
		LocationPingsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "location_pings_total",
			Help:      "Count of driver location pings by outcome.",
		}, []string{"result"})
		TrackingSubscribers = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tracking_subscribers",
			Help:      "Currently connected tracking websocket clients.",
		})
		DriversMarkedOffline = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "drivers_marked_offline_total",
			Help:      "Number of drivers flagged offline by the staleness sweeper.",
		})
		WebhookDeliveriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_deliveries_total",
			Help:      "Count of webhook delivery outcomes.",
		}, []string{"result"})
		WebhookAttemptLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "webhook_attempt_duration_ms",
			Help:      "Latency for webhook delivery attempts in milliseconds.",
			Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"result"})
		WebhookDispatchDLQ = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_dispatch_dlq_total",
			Help:      "Number of webhook deliveries moved to the dead-letter queue.",
		})
		MQPublishesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mq_publishes_total",
			Help:      "Count of domain events mirrored to the message broker by outcome.",
		}, []string{"topic", "result"})

		mustRegisterCollector(reg, DeliveriesAssignedTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Counter); ok {
				DeliveriesAssignedTotal = v
			}
		})
		mustRegisterCollector(reg, DeliveryTransitionsTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				DeliveryTransitionsTotal = v
			}
		})
		mustRegisterCollector(reg, LocationPingsTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				LocationPingsTotal = v
			}
		})
		mustRegisterCollector(reg, TrackingSubscribers, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Gauge); ok {
				TrackingSubscribers = v
			}
		})
		mustRegisterCollector(reg, DriversMarkedOffline, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Counter); ok {
				DriversMarkedOffline = v
			}
		})
		mustRegisterCollector(reg, WebhookDeliveriesTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				WebhookDeliveriesTotal = v
			}
		})
		mustRegisterCollector(reg, WebhookAttemptLatency, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.HistogramVec); ok {
				WebhookAttemptLatency = v
			}
		})
		mustRegisterCollector(reg, WebhookDispatchDLQ, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Counter); ok {
				WebhookDispatchDLQ = v
			}
		})
		mustRegisterCollector(reg, MQPublishesTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				MQPublishesTotal = v
			}
		})
	})
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register domain metric: %w", err))
	}
}
