package locations

import (
	"time"
)

// Location kinds.
const (
	KindWarehouse = "WAREHOUSE"
	KindStore     = "STORE"
)

// Location is a physical site inventory units live at.
type Location struct {
	ID        int64     `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Kind      string    `json:"kind"`
	Address   string    `json:"address"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
