// Package stores holds store master data, including the single central
// warehouse flag that the transfer coordinator depends on.
package stores

import "time"

// Store is one bar/restaurant location or the central warehouse.
type Store struct {
	ID        int64     `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	IsCentral bool      `json:"is_central"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateInput describes a new store.
type CreateInput struct {
	Code      string
	Name      string
	IsCentral bool
}
