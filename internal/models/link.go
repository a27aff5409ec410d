package models

import "time"

// Link statuses. A link starts as active and is flipped to expired exactly once,
// either lazily on read or by the sweeper. There is no transition back.
const (
	StatusActive  = "active"
	StatusExpired = "expired"
)

// Link represents a shared panel link and its associated metadata.
type Link struct {
	// ID is the short random identifier the link is addressed by.
	ID string
	// OwnerID references the external principal that created the link; nil for anonymous links.
	OwnerID *int64
	// Locator is the opaque object-storage path the link resolves to.
	Locator string
	// Title is an optional display title, opaque to the engine.
	Title string
	// Description is an optional display description, opaque to the engine.
	Description string
	// Public reports whether the link is publicly visible. Links are private by default.
	Public bool
	// VisitCount tracks the number of times the link has been resolved.
	VisitCount int64
	// Status is either StatusActive or StatusExpired.
	Status string
	// CreatedAt is the timestamp indicating when the link was created. It is never updated.
	CreatedAt time.Time
	// ExpiresAt is the absolute deadline after which the link stops resolving.
	ExpiresAt time.Time
}

// Live reports whether the link still resolves at the given instant.
// An active status alone is not sufficient; the deadline is always consulted.
func (l *Link) Live(now time.Time) bool {
	return l.Status == StatusActive && l.ExpiresAt.After(now)
}

// Remaining returns the time left until the link's deadline, or zero if it has passed.
func (l *Link) Remaining(now time.Time) time.Duration {
	if d := l.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// LinkInfo is a Link extended with state derived at read time.
type LinkInfo struct {
	Link
	// Cached reports whether the link currently has an entry in the ephemeral cache.
	Cached bool
}
