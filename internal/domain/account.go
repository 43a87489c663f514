package domain

import "time"

// Account holds a non-negative balance in minor currency units.
type Account struct {
	ID        string
	Balance   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}
