package models

// RegisterRequest holds the sign-up payload.
type RegisterRequest struct {
	Username string `json:"username" validate:"required,min=3,max=50,username"`
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,min=6,password"`
}

// LoginRequest accepts either a username or an email as identifier.
type LoginRequest struct {
	Identifier string `json:"identifier" validate:"required"`
	Password   string `json:"password" validate:"required"`
}

// RefreshTokenRequest exchanges a refresh token for a new access token.
type RefreshTokenRequest struct {
	Token string `json:"token" validate:"required,jwt"`
}

// LogoutRequest names the refresh token to revoke.
type LogoutRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// AuthResponse is returned by register and login.
type AuthResponse struct {
	User         UserInfo `json:"user"`
	AccessToken  string   `json:"accessToken"`
	RefreshToken string   `json:"refreshToken"`
}

// RefreshTokenResponse carries a newly minted access token.
type RefreshTokenResponse struct {
	AccessToken string `json:"accessToken"`
}

// LogoutAllResponse reports how many sessions were revoked.
type LogoutAllResponse struct {
	Revoked int64 `json:"revoked"`
}

// ProfileResponse wraps the authenticated user's public view.
type ProfileResponse struct {
	User UserInfo `json:"user"`
}
