package domain

import "time"

// ConsumerOffset tracks the last envelope sequence a named consumer has
// processed, so a restarted consumer can resume from ReadFrom(offset+1, ...)
// instead of replaying the entire log or losing events.
type ConsumerOffset struct {
	ConsumerName string
	Seq          int64
	UpdatedAt    time.Time
}
