package companies

import (
	"time"
)

// Company represents a legal entity transactions are booked against.
type Company struct {
	ID                 int64     `json:"id"`
	Name               string    `json:"name"`
	LegalName          string    `json:"legal_name"`
	GSTNumber          string    `json:"gst_number"`
	RegistrationNumber string    `json:"registration_number"`
	Email              string    `json:"email"`
	Phone              string    `json:"phone"`
	Address            string    `json:"address"`
	IsActive           bool      `json:"is_active"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}
