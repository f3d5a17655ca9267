package common

// AuthorizationHeaderName is the HTTP header carrying the bearer token.
const AuthorizationHeaderName = "Authorization"

// BearerScheme is the only accepted authorization scheme.
const BearerScheme = "Bearer"

// Roles assigned to user records.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)
