package guildconf

// Gate answers "may this actor run a gated command in this guild?".
//
// It only reads store state, so it is safe to call from any goroutine —
// the engine loop and HTTP handlers both use it.
type Gate struct {
	store *Store
}

func NewGate(store *Store) Gate { return Gate{store: store} }

// IsAuthorized is true when the actor carries the platform administrator
// permission, or was explicitly allow-listed for the guild.
func (g Gate) IsAuthorized(actorID int64, isAdministrator bool, guildID string) bool {
	if isAdministrator {
		return true
	}
	if g.store == nil {
		return false
	}
	return g.store.IsAllowed(guildID, actorID)
}
