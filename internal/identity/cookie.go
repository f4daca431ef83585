package identity

import (
	"errors"
	"net/http"
	"strings"
	"time"
)

// Request token errors
var (
	ErrMissingToken      = errors.New("no session token")
	ErrInvalidAuthFormat = errors.New("invalid authorization format")
)

// CookieConfig describes the session cookie. Clearing uses the same
// attributes as setting so browsers match the cookie.
type CookieConfig struct {
	Name     string
	Secure   bool
	SameSite string
	MaxAge   time.Duration
}

func (c CookieConfig) sameSite() http.SameSite {
	switch strings.ToLower(c.SameSite) {
	case "lax":
		return http.SameSiteLaxMode
	case "strict":
		return http.SameSiteStrictMode
	default:
		return http.SameSiteNoneMode
	}
}

// SetCookie writes the session cookie.
func (c CookieConfig) SetCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.Name,
		Value:    token,
		Path:     "/",
		MaxAge:   int(c.MaxAge / time.Second),
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: c.sameSite(),
	})
}

// ClearCookie expires the session cookie.
func (c CookieConfig) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.Name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: c.sameSite(),
	})
}

// ExtractToken reads the session token from the cookie, falling back to an
// "Authorization: Bearer" header.
func (c CookieConfig) ExtractToken(r *http.Request) (string, error) {
	if cookie, err := r.Cookie(c.Name); err == nil && cookie.Value != "" {
		return cookie.Value, nil
	}

	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrMissingToken
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", ErrInvalidAuthFormat
	}
	return strings.TrimSpace(token), nil
}
