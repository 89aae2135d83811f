package middleware

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	apperrors "travelflow-backend/errors"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

type contextKey string

const (
	UserIDKey contextKey = "user_id"
	EmailKey  contextKey = "email"
)

// AuthMiddleware verifies bearer tokens signed either with a shared HS256
// secret or with RS256/ES256 keys published at a JWKS endpoint.
type AuthMiddleware struct {
	jwtSecret  string
	jwksURL    string
	httpClient *http.Client
	cacheTTL   time.Duration

	keysMu    sync.RWMutex
	keys      map[string]interface{}
	lastFetch time.Time
}

func NewAuthMiddleware(jwtSecret, jwksURL string) *AuthMiddleware {
	return &AuthMiddleware{
		jwtSecret:  jwtSecret,
		jwksURL:    jwksURL,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		cacheTTL:   time.Hour,
	}
}

func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString, authErr := bearerToken(r)
		if authErr != nil {
			respondError(w, authErr)
			return
		}

		token, err := jwt.Parse(tokenString, m.keyFunc,
			jwt.WithValidMethods([]string{"HS256", "RS256", "ES256"}),
			jwt.WithExpirationRequired())
		if err != nil {
			zap.L().Debug("Token rejected",
				zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Error(err))
			if errors.Is(err, jwt.ErrTokenExpired) {
				respondError(w, apperrors.TokenExpired())
				return
			}
			respondError(w, apperrors.TokenInvalid())
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			respondError(w, apperrors.TokenInvalid())
			return
		}
		userID, _ := claims["sub"].(string)
		if userID == "" {
			respondError(w, apperrors.Unauthorized("user id not found in token"))
			return
		}

		ctx := context.WithValue(r.Context(), UserIDKey, userID)
		if email, _ := claims["email"].(string); email != "" {
			ctx = context.WithValue(ctx, EmailKey, email)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// bearerToken reads the Authorization header. Websocket handshakes from
// browsers cannot set headers, so they may pass access_token instead.
func bearerToken(r *http.Request) (string, *apperrors.AppError) {
	header := r.Header.Get("Authorization")
	if header == "" {
		if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
			if token := r.URL.Query().Get("access_token"); token != "" {
				return token, nil
			}
		}
		return "", apperrors.Unauthorized("missing authorization header")
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", apperrors.Unauthorized("invalid authorization header format")
	}
	if parts[1] == "" {
		return "", apperrors.Unauthorized("empty token")
	}
	return parts[1], nil
}

func (m *AuthMiddleware) keyFunc(token *jwt.Token) (interface{}, error) {
	switch token.Method.Alg() {
	case "HS256":
		if m.jwtSecret == "" {
			return nil, errors.New("jwt secret not configured")
		}
		return []byte(m.jwtSecret), nil
	case "RS256", "ES256":
		kid, _ := token.Header["kid"].(string)
		return m.publicKey(kid)
	default:
		return nil, fmt.Errorf("unexpected signing method: %v", token.Method.Alg())
	}
}

func (m *AuthMiddleware) publicKey(kid string) (interface{}, error) {
	m.keysMu.RLock()
	if m.keys != nil && time.Since(m.lastFetch) < m.cacheTTL {
		if key, ok := pickKey(m.keys, kid); ok {
			m.keysMu.RUnlock()
			return key, nil
		}
	}
	m.keysMu.RUnlock()

	m.keysMu.Lock()
	defer m.keysMu.Unlock()

	if m.jwksURL == "" {
		return nil, errors.New("JWKS_URL not configured")
	}
	keys, err := m.fetchJWKS()
	if err != nil {
		return nil, err
	}
	m.keys = keys
	m.lastFetch = time.Now()

	if key, ok := pickKey(m.keys, kid); ok {
		return key, nil
	}
	return nil, fmt.Errorf("key with kid %q not found in JWKS (available keys: %d)", kid, len(m.keys))
}

// pickKey falls back to any key when the token carries no kid.
func pickKey(keys map[string]interface{}, kid string) (interface{}, bool) {
	if key, ok := keys[kid]; ok {
		return key, true
	}
	if kid == "" {
		for _, key := range keys {
			return key, true
		}
	}
	return nil, false
}

type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y"`
	N   string `json:"n"`
	E   string `json:"e"`
}

func (m *AuthMiddleware) fetchJWKS() (map[string]interface{}, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.jwksURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating JWKS request: %w", err)
	}
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching JWKS: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching JWKS: status %d", resp.StatusCode)
	}

	var set struct {
		Keys []jwk `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return nil, fmt.Errorf("failed to decode JWKS: %w", err)
	}

	keys := make(map[string]interface{}, len(set.Keys))
	for _, k := range set.Keys {
		key, err := k.publicKey()
		if err != nil {
			zap.L().Warn("Skipping JWKS key", zap.String("kid", k.Kid), zap.Error(err))
			continue
		}
		keys[k.Kid] = key
	}
	return keys, nil
}

func (k jwk) publicKey() (interface{}, error) {
	switch k.Kty {
	case "EC":
		x, err := base64.RawURLEncoding.DecodeString(k.X)
		if err != nil {
			return nil, err
		}
		y, err := base64.RawURLEncoding.DecodeString(k.Y)
		if err != nil {
			return nil, err
		}
		return &ecdsa.PublicKey{
			Curve: curve(k.Crv),
			X:     new(big.Int).SetBytes(x),
			Y:     new(big.Int).SetBytes(y),
		}, nil
	case "RSA":
		n, err := base64.RawURLEncoding.DecodeString(k.N)
		if err != nil {
			return nil, err
		}
		e, err := base64.RawURLEncoding.DecodeString(k.E)
		if err != nil {
			return nil, err
		}
		return &rsa.PublicKey{
			N: new(big.Int).SetBytes(n),
			E: int(new(big.Int).SetBytes(e).Int64()),
		}, nil
	default:
		return nil, fmt.Errorf("unsupported key type %q", k.Kty)
	}
}

func curve(crv string) elliptic.Curve {
	switch crv {
	case "P-384":
		return elliptic.P384()
	case "P-521":
		return elliptic.P521()
	default:
		return elliptic.P256()
	}
}

func GetUserID(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(UserIDKey).(string)
	return userID, ok
}

func GetUserEmail(ctx context.Context) (string, bool) {
	email, ok := ctx.Value(EmailKey).(string)
	return email, ok
}

// WithUserID is used by tests and internal callers that bypass token checks.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

func respondError(w http.ResponseWriter, appErr *apperrors.AppError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apperrors.GetHTTPStatus(appErr.Type))
	json.NewEncoder(w).Encode(map[string]string{
		"error": appErr.Message,
		"code":  string(appErr.Code),
	})
}
