package mongodb

const (
	UsersCollection         = "users"          // identities and their credentials
	RefreshTokensCollection = "refresh_tokens" // refresh token ledger
	ClientsCollection       = "clients"        // registered applications
	EventsCollection        = "events"         // append-only security events
)
