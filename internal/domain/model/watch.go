package model

import "time"

// WatchedAddress is an address whose ledger statuses are refreshed in the background.
type WatchedAddress struct {
	ID            int64
	Address       string
	Customization string
	AddedAt       time.Time
}
