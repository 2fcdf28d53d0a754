package model

import "time"

// Worker statuses.
const (
	WorkerActive   = "actif"
	WorkerInactive = "inactif"
)

// Worker is a farm worker identified by a national id card number (CIN).
type Worker struct {
	ID        string     `json:"id"`
	Name      string     `json:"nom"`
	CIN       string     `json:"cin"`
	FarmID    string     `json:"ferme_id"`
	EntryDate time.Time  `json:"date_entree"`
	ExitDate  *time.Time `json:"date_sortie,omitempty"`
	Status    string     `json:"statut"`
	CreatedAt time.Time  `json:"created_at"`
}

// Active reports whether the worker is currently employed.
func (w *Worker) Active() bool {
	return w.Status == WorkerActive && w.ExitDate == nil
}
