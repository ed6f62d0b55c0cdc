package domain

import (
	"time"

	"github.com/google/uuid"
)

// Session is transient per-user login state, kept in the volatile store with a
// TTL. Peripheral bookkeeping only; the order path never reads it.
type Session struct {
	ID        uuid.UUID
	UserID    int64
	Device    string
	LoginTime time.Time
}
