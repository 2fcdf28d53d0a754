package model

import "time"

// CentralFarmID is the farm that receives stock added by elevated users
// without an explicit farm.
const CentralFarmID = "centrale"

// Farm represents a ferme: an organizational unit owning stock and workers.
type Farm struct {
	ID        string    `json:"id"`
	Name      string    `json:"nom"`
	Admins    []string  `json:"admins"`
	CreatedAt time.Time `json:"created_at"`
}

// HasAdmin reports whether userID is one of the farm's administrators.
func (f *Farm) HasAdmin(userID string) bool {
	for _, a := range f.Admins {
		if a == userID {
			return true
		}
	}
	return false
}
