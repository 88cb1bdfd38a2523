package domain

import "time"

// Notification is what the renderer receives when an alarm fires.
type Notification struct {
	ID        int64
	Payload   []byte
	FiredAt   time.Time
	Tier      PrecisionTier
	Kind      RepeatKind
	FireCount int
}
