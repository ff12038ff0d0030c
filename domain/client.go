package domain

// Client describes a registered application that tokens may be bound to.
// The authentication core only reads clients; the registry that manages
// them lives elsewhere.
type Client struct {
	ID         string `bson:"_id,omitempty"`
	ClientID   string `bson:"client_id,unique"`
	Name       string `bson:"name,omitempty"`
	SecretHash string `bson:"secret_hash,omitempty"`
	Public     bool   `bson:"public"`
}
