package units

import (
	"time"
)

// Unit represents a unit of measure. Precision is the number of decimal
// places quantities in this unit may carry (0 for each/piece).
type Unit struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Abbreviation string    `json:"abbreviation"`
	Precision    int       `json:"precision"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
