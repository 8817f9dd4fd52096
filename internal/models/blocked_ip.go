package models

import "time"

// BlockedIP is a durable permanent-block record for an offending IP. The
// system only ever sets is_blocked; clearing it is an administrative action
// outside this service.
type BlockedIP struct {
	ID        string
	IP        string
	BlockedAt time.Time
	IsBlocked bool
}
