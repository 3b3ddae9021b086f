package models

import "time"

// Claims is the decoded (unverified) token payload. Unknown claims are ignored.
type Claims struct {
	Sub      string    `json:"sub"`
	DriverID string    `json:"driver_id,omitempty"`
	Role     string    `json:"role,omitempty"`
	Exp      time.Time `json:"exp"`
}

type User struct {
	Username    string   `json:"username"`
	DriverID    string   `json:"driver_id"`
	Role        string   `json:"role"`
	Name        string   `json:"name,omitempty"`
	Active      bool     `json:"active"`
	Permissions []string `json:"permissions"`
}

type RoleInfo struct {
	Role        string   `json:"role"`
	Description string   `json:"description,omitempty"`
	Permissions []string `json:"permissions"`
	Aliases     []string `json:"aliases,omitempty"`
}

type UserCreate struct {
	DriverID string `json:"driver_id"`
	Name     string `json:"name"`
	Username string `json:"username"`
	Role     string `json:"role"`
	Active   bool   `json:"active"`
	Password string `json:"password"`
}

type UserUpdate struct {
	Name     *string `json:"name,omitempty"`
	Username *string `json:"username,omitempty"`
	Role     *string `json:"role,omitempty"`
	Active   *bool   `json:"active,omitempty"`
	Password *string `json:"password,omitempty"`
}
