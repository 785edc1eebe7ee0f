package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"taskflow/database"
	"taskflow/models"
	"taskflow/response"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type contextKey string

const UserContextKey contextKey = "user"

const TokenCookieName = "token"

// TokenCookie builds the session cookie. A negative maxAge clears it.
func TokenCookie(value string, maxAge int, secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     TokenCookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
	}
}

type Claims struct {
	UserID   uuid.UUID   `json:"user_id"`
	Username string      `json:"username"`
	Role     models.Role `json:"role"`
	jwt.RegisteredClaims
}

var jwtSecret []byte

func SetJWTSecret(secret string) {
	jwtSecret = []byte(secret)
}

func GenerateToken(user *models.User, expiration time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID:   user.ID,
		Username: user.Username,
		Role:     user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiration)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(jwtSecret)
}

func ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return jwtSecret, nil
	})

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, jwt.ErrSignatureInvalid
}

// TokenFromRequest looks for a token in the cookie, then the Authorization
// header, then the token query parameter. Browsers cannot set headers on a
// WebSocket handshake, hence the last one.
func TokenFromRequest(r *http.Request) string {
	if cookie, err := r.Cookie(TokenCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}

	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}

	return r.URL.Query().Get("token")
}

var errInactiveUser = errors.New("user is inactive")

// Authenticate resolves the request's token to an active user.
func Authenticate(r *http.Request) (*models.User, error) {
	tokenString := TokenFromRequest(r)
	if tokenString == "" {
		return nil, jwt.ErrTokenMalformed
	}

	claims, err := ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}

	var user models.User
	if err := database.GetDB().WithContext(r.Context()).First(&user, "id = ?", claims.UserID).Error; err != nil {
		return nil, err
	}
	if !user.IsActive {
		return nil, errInactiveUser
	}
	return &user, nil
}

func AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if TokenFromRequest(r) == "" {
			response.Unauthorized(w, "Authentication required")
			return
		}

		user, err := Authenticate(r)
		if err != nil {
			// clear the rejected token cookie
			http.SetCookie(w, TokenCookie("", -1, r.TLS != nil))
			response.Unauthorized(w, "Invalid or expired token")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
	})
}

func RequireRole(roles ...models.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := GetUserFromContext(r.Context())
			if user == nil {
				response.Unauthorized(w, "")
				return
			}

			for _, role := range roles {
				if user.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}

			response.Forbidden(w, "Insufficient permissions")
		})
	}
}

func WithUser(ctx context.Context, user *models.User) context.Context {
	return context.WithValue(ctx, UserContextKey, user)
}

func GetUserFromContext(ctx context.Context) *models.User {
	user, ok := ctx.Value(UserContextKey).(*models.User)
	if !ok {
		return nil
	}
	return user
}

// GetUserID returns the authenticated user's id, or "" for anonymous requests.
func GetUserID(ctx context.Context) string {
	if user := GetUserFromContext(ctx); user != nil {
		return user.ID.String()
	}
	return ""
}
