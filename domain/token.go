package domain

import "time"

// RefreshToken is a server-tracked opaque credential. The Token value is the
// only thing the client ever holds; records move active -> revoked (or age
// out past ExpiresAt) and never back.
type RefreshToken struct {
	ID        string    `bson:"_id,omitempty"`
	Token     string    `bson:"token,unique"`
	UserID    string    `bson:"user_id"`
	ClientID  string    `bson:"client_id,omitempty"`
	Revoked   bool      `bson:"revoked"`
	ExpiresAt time.Time `bson:"expires_at"`
	CreatedAt time.Time `bson:"created_at"`
}

// Active reports whether the record can still be presented.
func (t *RefreshToken) Active(now time.Time) bool {
	return !t.Revoked && t.ExpiresAt.After(now)
}
