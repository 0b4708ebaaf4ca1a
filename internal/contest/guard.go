package contest

import "github.com/akotadi/Lockout-Bot/internal/storage"

// Guard answers engagement questions about a user. The predicates are
// read-only views over the reservations table; taking a reservation always
// goes through Store.Reserve so the check and the write stay atomic.
type Guard struct {
	store Store
}

// NewGuard returns a guard over the given store.
func NewGuard(store Store) *Guard {
	return &Guard{store: store}
}

func (g *Guard) holds(guildID, userID, kind string) (bool, error) {
	held, ok, err := g.store.Reserved(guildID, userID)
	if err != nil {
		return false, err
	}
	return ok && held == kind, nil
}

// IsChallenging reports whether the user has an outgoing challenge.
func (g *Guard) IsChallenging(guildID, userID string) (bool, error) {
	return g.holds(guildID, userID, storage.KindChallenging)
}

// IsChallenged reports whether the user has an incoming challenge.
func (g *Guard) IsChallenged(guildID, userID string) (bool, error) {
	return g.holds(guildID, userID, storage.KindChallenged)
}

// InRound reports whether the user is in an active or forming round.
func (g *Guard) InRound(guildID, userID string) (bool, error) {
	return g.holds(guildID, userID, storage.KindRound)
}

// InMatch reports whether the user is in an active match.
func (g *Guard) InMatch(guildID, userID string) (bool, error) {
	return g.holds(guildID, userID, storage.KindMatch)
}

// Engaged reports whether the user is in any engagement state, and which.
func (g *Guard) Engaged(guildID, userID string) (string, bool, error) {
	return g.store.Reserved(guildID, userID)
}
