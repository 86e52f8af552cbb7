package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rasuna-dev/backend-antar/internal/common"
	"github.com/rasuna-dev/backend-antar/internal/events"
)

// EmailNotifier mails the ops inbox for exception topics: failed or cancelled
// deliveries and drivers that dropped offline. It implements events.Notifier.
type EmailNotifier struct {
	Mail         common.EmailSender
	Enabled      bool
	To           string
	TopicToggles map[string]bool
}

// alertTopics are mailed by default; TopicToggles can enable or silence any
// topic explicitly.
var alertTopics = map[string]bool{
	events.TopicDeliveryFailed:    true,
	events.TopicDeliveryCancelled: true,
	events.TopicDriverOffline:     true,
}

// Notify implements the events.Notifier interface.
func (n EmailNotifier) Notify(_ context.Context, event events.Event) error {
	if !n.Enabled || n.Mail == nil || strings.TrimSpace(n.To) == "" {
		return nil
	}
	enabled, overridden := n.TopicToggles[event.Topic]
	if overridden {
		if !enabled {
			return nil
		}
	} else if !alertTopics[event.Topic] {
		return nil
	}
	payload := map[string]any{}
	if len(event.Payload) > 0 {
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return fmt.Errorf("email notify: decode payload: %w", err)
		}
	}
	return n.Mail.Send(n.To, subjectFor(event.Topic), bodyFor(event, payload))
}

func subjectFor(topic string) string {
	switch topic {
	case events.TopicDeliveryFailed:
		return "Pengiriman gagal"
	case events.TopicDeliveryCancelled:
		return "Pengiriman dibatalkan"
	case events.TopicDeliveryDelivered:
		return "Pengiriman selesai"
	case events.TopicDriverOffline:
		return "Driver tidak aktif"
	default:
		return fmt.Sprintf("Notifikasi %s", topic)
	}
}

func bodyFor(event events.Event, payload map[string]any) string {
	summary := fmt.Sprintf("Event %s terjadi pada %s.", event.Topic, event.OccurredAt.Format(time.RFC3339))
	if orderRef, ok := payload["orderRef"].(string); ok && orderRef != "" {
		summary += fmt.Sprintf("\nNomor Pesanan: %s", orderRef)
	}
	if deliveryID, ok := payload["deliveryId"].(string); ok && deliveryID != "" {
		summary += fmt.Sprintf("\nID Pengiriman: %s", deliveryID)
	}
	if driverID, ok := payload["driverId"].(string); ok && driverID != "" {
		summary += fmt.Sprintf("\nID Driver: %s", driverID)
	}
	if note, ok := payload["note"].(string); ok && note != "" {
		summary += "\nCatatan: " + note
	}
	return summary
}
