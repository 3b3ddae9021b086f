package session

import (
	"encoding/json"
	"strings"

	"github.com/BearBump/LastMile/internal/models"
	"github.com/golang-jwt/jwt/v5"
)

type tokenClaims struct {
	DriverID string `json:"driver_id,omitempty"`
	Role     string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// DecodeToken reads the token payload without verifying the signature; the
// server re-checks every request. Only the payload segment is decoded, the
// header and its alg are ignored. Returns nil when the token is malformed or
// lacks sub/exp. Expiry is not checked here.
func DecodeToken(token string) *models.Claims {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil
	}
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil
	}
	raw, err := jwt.NewParser().DecodeSegment(parts[1])
	if err != nil {
		return nil
	}
	var c tokenClaims
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil
	}
	if c.Subject == "" || c.ExpiresAt == nil {
		return nil
	}
	return &models.Claims{
		Sub:      c.Subject,
		DriverID: c.DriverID,
		Role:     c.Role,
		Exp:      c.ExpiresAt.Time.UTC(),
	}
}
