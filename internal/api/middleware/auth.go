package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/burnroom/internal/chat"
)

type contextKey string

const MembershipContextKey contextKey = "membership"

// Names under which the capability token travels.
const (
	TokenHeader = "X-Auth-Token"
	TokenCookie = "x-auth-token"
)

// Authorizer resolves a room membership from a room ID and caller token.
type Authorizer interface {
	Authorize(ctx context.Context, roomID, token string) (chat.Membership, error)
}

// AuthMiddleware gates room-scoped endpoints on room membership.
type AuthMiddleware struct {
	authz        Authorizer
	cookieMaxAge time.Duration
	secureCookie bool
	logger       zerolog.Logger
}

// NewAuthMiddleware creates a new auth middleware. Minted tokens are set as
// cookies that live as long as a room.
func NewAuthMiddleware(authz Authorizer, cookieMaxAge time.Duration, secureCookie bool, logger zerolog.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		authz:        authz,
		cookieMaxAge: cookieMaxAge,
		secureCookie: secureCookie,
		logger:       logger,
	}
}

// RequireMember authorizes the request against the room named by the
// roomId query parameter, joining the caller if it holds no valid token.
func (m *AuthMiddleware) RequireMember(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		roomID := r.URL.Query().Get("roomId")
		if roomID == "" {
			jsonError(w, http.StatusBadRequest, "roomId is required")
			return
		}

		membership, err := m.authz.Authorize(r.Context(), roomID, TokenFromRequest(r))
		if err != nil {
			status, msg := ErrorStatus(err)
			if status >= http.StatusInternalServerError {
				m.logger.Error().Err(err).Str("room_id", roomID).Msg("authorization failed")
			}
			jsonError(w, status, msg)
			return
		}

		if membership.Issued {
			m.setToken(w, membership.Token)
		}

		ctx := context.WithValue(r.Context(), MembershipContextKey, membership)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *AuthMiddleware) setToken(w http.ResponseWriter, token string) {
	w.Header().Set(TokenHeader, token)
	http.SetCookie(w, &http.Cookie{
		Name:     TokenCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(m.cookieMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   m.secureCookie,
		SameSite: http.SameSiteStrictMode,
	})
}

// TokenFromRequest reads the capability token from the header, then the cookie.
func TokenFromRequest(r *http.Request) string {
	if token := r.Header.Get(TokenHeader); token != "" {
		return token
	}
	if c, err := r.Cookie(TokenCookie); err == nil {
		return c.Value
	}
	return ""
}

// ErrorStatus maps a chat error to an HTTP status and client message.
func ErrorStatus(err error) (int, string) {
	var verr *chat.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusUnprocessableEntity, verr.Error()
	case errors.Is(err, chat.ErrRoomNotFound):
		return http.StatusNotFound, "room not found"
	case errors.Is(err, chat.ErrRoomFull):
		return http.StatusForbidden, "room is full"
	case errors.Is(err, chat.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "service unavailable"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func jsonError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// GetMembership retrieves the authorized membership from the request context.
func GetMembership(ctx context.Context) (chat.Membership, bool) {
	m, ok := ctx.Value(MembershipContextKey).(chat.Membership)
	return m, ok
}
