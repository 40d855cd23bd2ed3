package auth

import "time"

// Account is a user row as seen by the login flow.
type Account struct {
	ID           int64
	Email        string
	Name         string
	PasswordHash string
	Status       string
}

// Active reports whether the account may authenticate.
func (a Account) Active() bool {
	return a.Status == "active"
}

// Credentials is the token request payload.
type Credentials struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

// Token is the issued bearer token.
type Token struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}
