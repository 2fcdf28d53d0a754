package model

import "time"

// Notification statuses.
const (
	NotificationUnread       = "unread"
	NotificationAcknowledged = "acknowledged"
)

// NotificationTypeIncomingTransfer marks a notification about a new transfer.
const NotificationTypeIncomingTransfer = "incoming_transfer"

// TransferNotification is an advisory record for the destination farm of a
// transfer. It is not authoritative state.
type TransferNotification struct {
	ID             string     `json:"id"`
	TransferID     string     `json:"transfer_id"`
	Type           string     `json:"type"`
	FromFarmID     string     `json:"from_ferme_id"`
	ToFarmID       string     `json:"to_ferme_id"`
	Item           string     `json:"item"`
	Quantity       int        `json:"quantity"`
	Unit           string     `json:"unit"`
	Message        string     `json:"message"`
	Status         string     `json:"status"`
	Priority       Priority   `json:"priority"`
	CreatedAt      time.Time  `json:"created_at"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
}
