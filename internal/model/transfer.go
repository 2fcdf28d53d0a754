package model

import "time"

// TransferStatus is the lifecycle state of a stock transfer.
type TransferStatus string

// Transfer statuses. Confirmed and in_transit are accepted values in stored
// records but no ledger operation produces them.
const (
	TransferPending   TransferStatus = "pending"
	TransferConfirmed TransferStatus = "confirmed"
	TransferInTransit TransferStatus = "in_transit"
	TransferDelivered TransferStatus = "delivered"
	TransferRejected  TransferStatus = "rejected"
	TransferCancelled TransferStatus = "cancelled"
)

// IsTerminal reports whether no further transition is possible.
func (s TransferStatus) IsTerminal() bool {
	switch s {
	case TransferDelivered, TransferRejected, TransferCancelled:
		return true
	}
	return false
}

// Valid reports whether s is a known status.
func (s TransferStatus) Valid() bool {
	switch s {
	case TransferPending, TransferConfirmed, TransferInTransit,
		TransferDelivered, TransferRejected, TransferCancelled:
		return true
	}
	return false
}

// Label returns the display label used in exports.
func (s TransferStatus) Label() string {
	labels := map[TransferStatus]string{
		TransferPending:   "En attente",
		TransferConfirmed: "Confirmé",
		TransferInTransit: "En transit",
		TransferDelivered: "Livré",
		TransferRejected:  "Rejeté",
		TransferCancelled: "Annulé",
	}
	if l, ok := labels[s]; ok {
		return l
	}
	return string(s)
}

// CanTransition reports whether the ledger allows moving from one status to another.
func CanTransition(from, to TransferStatus) bool {
	if from != TransferPending {
		return false
	}
	return to == TransferDelivered || to == TransferRejected || to == TransferCancelled
}

// Priority of a transfer or notification.
type Priority string

// Priorities.
const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Label returns the display label used in exports.
func (p Priority) Label() string {
	switch p {
	case PriorityLow:
		return "Faible"
	case PriorityMedium:
		return "Moyen"
	case PriorityHigh:
		return "Élevé"
	case PriorityUrgent:
		return "Urgent"
	}
	return string(p)
}

// StockTransfer is a directional request to move a fixed quantity of one
// item between two farms.
type StockTransfer struct {
	ID             string         `json:"id"`
	FromFarmID     string         `json:"from_ferme_id"`
	ToFarmID       string         `json:"to_ferme_id"`
	StockItemID    string         `json:"stock_item_id"`
	Item           string         `json:"item"`
	Quantity       int            `json:"quantity"`
	Unit           string         `json:"unit"`
	Status         TransferStatus `json:"status"`
	Priority       Priority       `json:"priority"`
	TrackingNumber string         `json:"tracking_number"`
	Notes          string         `json:"notes,omitempty"`

	TransferredBy     string `json:"transferred_by"`
	TransferredByName string `json:"transferred_by_name,omitempty"`
	ReceivedBy        string `json:"received_by,omitempty"`
	ReceivedByName    string `json:"received_by_name,omitempty"`
	RejectedBy        string `json:"rejected_by,omitempty"`
	RejectedByName    string `json:"rejected_by_name,omitempty"`
	RejectionReason   string `json:"rejection_reason,omitempty"`
	CancelledBy       string `json:"cancelled_by,omitempty"`
	CancelledByName   string `json:"cancelled_by_name,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	RejectedAt  *time.Time `json:"rejected_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`

	// Joined fields (not always populated).
	FromFarmName string `json:"from_ferme_name,omitempty"`
	ToFarmName   string `json:"to_ferme_name,omitempty"`
}

// ShortReference returns the tracking number or, for legacy records
// without one, the first 8 characters of the id.
func (t *StockTransfer) ShortReference() string {
	if t.TrackingNumber != "" {
		return t.TrackingNumber
	}
	if len(t.ID) > 8 {
		return t.ID[:8]
	}
	return t.ID
}
