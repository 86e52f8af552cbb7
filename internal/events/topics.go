package events

// Topic constants for domain events emitted by the platform.
const (
	TopicDeliveryAssigned      = "delivery.assigned"
	TopicDeliveryStatusChanged = "delivery.status_changed"
	TopicDeliveryDelivered     = "delivery.delivered"
	TopicDeliveryCancelled     = "delivery.cancelled"
	TopicDeliveryFailed        = "delivery.failed"
	TopicDriverOffline         = "driver.offline"
)

// DefaultTopics returns the canonical list of topics that support notifications.
func DefaultTopics() []string {
	return []string{
		TopicDeliveryAssigned,
		TopicDeliveryStatusChanged,
		TopicDeliveryDelivered,
		TopicDeliveryCancelled,
		TopicDeliveryFailed,
		TopicDriverOffline,
	}
}
