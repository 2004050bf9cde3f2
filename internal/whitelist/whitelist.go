// Package whitelist holds temporary per-app access grants.
//
// A Whitelist is not safe for concurrent use; the decision engine owns it and
// serialises access under its own lock.
package whitelist

import (
	"sort"
	"time"
)

// Entry is a live access grant.
type Entry struct {
	AppID     string    `json:"app_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Whitelist maps app ids to the instant their grant lapses. At most one entry
// exists per app; the latest grant wins.
type Whitelist struct {
	entries map[string]time.Time
}

// New returns an empty whitelist.
func New() *Whitelist {
	return &Whitelist{entries: make(map[string]time.Time)}
}

// Grant records access for appID until expiresAt, replacing any earlier grant.
func (w *Whitelist) Grant(appID string, expiresAt time.Time) {
	w.entries[appID] = expiresAt
}

// Revoke drops the grant for appID, if any.
func (w *Whitelist) Revoke(appID string) {
	delete(w.entries, appID)
}

// Active reports whether appID holds a grant that has not lapsed at now.
func (w *Whitelist) Active(appID string, now time.Time) bool {
	expiresAt, ok := w.entries[appID]
	return ok && now.Before(expiresAt)
}

// Expiry returns the grant expiry for appID.
func (w *Whitelist) Expiry(appID string) (time.Time, bool) {
	expiresAt, ok := w.entries[appID]
	return expiresAt, ok
}

// Sweep removes every entry whose expiry lies strictly before now and returns
// the removed app ids in sorted order.
//
// An entry expiring exactly at now survives the sweep but is no longer Active.
func (w *Whitelist) Sweep(now time.Time) []string {
	var expired []string
	for appID, expiresAt := range w.entries {
		if expiresAt.Before(now) {
			expired = append(expired, appID)
		}
	}
	for _, appID := range expired {
		delete(w.entries, appID)
	}
	sort.Strings(expired)
	return expired
}

// Len returns the number of stored entries, lapsed or not.
func (w *Whitelist) Len() int {
	return len(w.entries)
}

// Clear removes all entries.
func (w *Whitelist) Clear() {
	w.entries = make(map[string]time.Time)
}

// Snapshot returns a copy of all entries ordered by app id.
func (w *Whitelist) Snapshot() []Entry {
	out := make([]Entry, 0, len(w.entries))
	for appID, expiresAt := range w.entries {
		out = append(out, Entry{AppID: appID, ExpiresAt: expiresAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AppID < out[j].AppID })
	return out
}
