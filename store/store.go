// Package store defines the persistent, origin-scoped session store shared
// by every client handle ("tab") of the same origin. It is the only state
// shared across handles; in-memory session state is reconciled exclusively
// through it and its change notifications.
package store

// Persisted entry keys. The three entries form one lifecycle group: they
// are written together on login/register/refresh success and removed
// together on logout or unrecoverable refresh failure.
const (
	KeyAccessToken  = "access_token"
	KeyRefreshToken = "refresh_token"
	KeyUser         = "user"
)

// SessionKeys returns the whole session entry group.
func SessionKeys() []string {
	return []string{KeyAccessToken, KeyRefreshToken, KeyUser}
}

// Event describes a change made by another handle on the same origin.
// Present is false when the key was removed.
type Event struct {
	Key     string
	Value   string
	Present bool
}

// Store is an origin-scoped key-value store with external-write
// notification. All operations are synchronous. Backends that can fail
// (file, Redis) log the failure and let readers observe absence, matching
// the web-storage semantics this contract is modelled on.
//
// Subscribers receive events for writes performed through *other* handles
// of the same origin, never for their own writes.
type Store interface {
	Get(key string) (string, bool)
	Set(key, value string)
	Remove(key string)
	RemoveGroup(keys ...string)
	Subscribe(fn func(Event)) (cancel func())
	Close() error
}
