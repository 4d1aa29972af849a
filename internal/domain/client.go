package domain

import "time"

// Client represents a balance account row in the clients table. A row is
// created on the first successful credit; an absent row reads as zero.
type Client struct {
	UserID    int64
	Amount    int64
	UpdatedAt time.Time
}
