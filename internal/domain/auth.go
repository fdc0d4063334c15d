package domain

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Scopes, зеркалящие права view/change на заказы
const (
	ScopeOrderView   = "purchaseorder.view"
	ScopeOrderChange = "purchaseorder.change"
)

type CustomClaims struct {
	UserID string          `json:"user_id"`
	Scopes map[string]bool `json:"scopes"` // "purchaseorder.change": true
	jwt.RegisteredClaims
}

// Secure Token Issuing
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"` // Всегда "Bearer"
	ExpiresIn   int64  `json:"expires_in"`
}

type User struct {
	ID           string          `json:"id"`
	Email        string          `json:"email"`
	Username     string          `json:"username"`
	FullName     string          `json:"full_name"`
	PasswordHash string          `json:"-"` // Никогда не отправляем на фронт
	Active       bool            `json:"is_active"`
	Scopes       map[string]bool `json:"scopes"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

func (u *User) HasScope(scope string) bool {
	return u != nil && (u.Scopes[scope] || u.Scopes["admin"])
}

// Ref — компактная ссылка для записи в историю
func (u *User) Ref() UserRef {
	return UserRef{ID: u.ID, Name: u.DisplayName()}
}

func (u *User) DisplayName() string {
	if u.FullName != "" {
		return u.FullName
	}
	return u.Username
}

// UserRef — ссылка на пользователя с именем на момент действия
type UserRef struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

func (r UserRef) DisplayName() string {
	if r.Name != "" {
		return r.Name
	}
	return r.ID
}
