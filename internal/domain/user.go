package domain

import "time"

// DefaultStartingBalance is the token balance granted to new users.
const DefaultStartingBalance = 10000.0

// User holds a token balance. Identity is supplied by the transport layer.
type User struct {
	ID        string
	Balance   float64
	CreatedAt time.Time
	UpdatedAt time.Time
}
