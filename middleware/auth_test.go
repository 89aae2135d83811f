package middleware

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func signHS256(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func echoUser() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, _ := GetUserID(r.Context())
		email, _ := GetUserEmail(r.Context())
		w.Write([]byte(userID + "|" + email))
	})
}

func TestAuthenticate_HS256(t *testing.T) {
	valid := jwt.MapClaims{"sub": "user-1", "email": "a@example.com", "exp": time.Now().Add(time.Hour).Unix()}

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantCode   string
		wantBody   string
	}{
		{"valid token", "Bearer " + signHS256(t, testSecret, valid), http.StatusOK, "", "user-1|a@example.com"},
		{"missing header", "", http.StatusUnauthorized, "AUTH_001", ""},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized, "AUTH_001", ""},
		{"wrong secret", "Bearer " + signHS256(t, "other", valid), http.StatusUnauthorized, "AUTH_003", ""},
		{"expired", "Bearer " + signHS256(t, testSecret, jwt.MapClaims{"sub": "user-1", "exp": time.Now().Add(-time.Hour).Unix()}), http.StatusUnauthorized, "AUTH_002", ""},
		{"no expiry", "Bearer " + signHS256(t, testSecret, jwt.MapClaims{"sub": "user-1"}), http.StatusUnauthorized, "AUTH_003", ""},
		{"no subject", "Bearer " + signHS256(t, testSecret, jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()}), http.StatusUnauthorized, "AUTH_001", ""},
	}

	handler := NewAuthMiddleware(testSecret, "").Authenticate(echoUser())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/trips", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantBody != "" {
				assert.Equal(t, tt.wantBody, rec.Body.String())
			}
			if tt.wantCode != "" {
				var body map[string]string
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
				assert.Equal(t, tt.wantCode, body["code"])
			}
		})
	}
}

func TestAuthenticate_WebsocketQueryToken(t *testing.T) {
	token := signHS256(t, testSecret, jwt.MapClaims{"sub": "user-9", "exp": time.Now().Add(time.Hour).Unix()})
	handler := NewAuthMiddleware(testSecret, "").Authenticate(echoUser())

	req := httptest.NewRequest(http.MethodGet, "/api/trips/stream?access_token="+token, nil)
	req.Header.Set("Upgrade", "websocket")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user-9|", rec.Body.String())

	// plain requests must use the header
	req = httptest.NewRequest(http.MethodGet, "/api/trips?access_token="+token, nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthenticate_JWKS(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	fetches := 0
	jwks := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches++
		json.NewEncoder(w).Encode(map[string]interface{}{
			"keys": []map[string]string{{
				"kty": "RSA",
				"kid": "key-1",
				"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
			}},
		})
	}))
	defer jwks.Close()

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{"sub": "user-rsa", "exp": time.Now().Add(time.Hour).Unix()})
	token.Header["kid"] = "key-1"
	signed, err := token.SignedString(key)
	require.NoError(t, err)

	handler := NewAuthMiddleware("", jwks.URL).Authenticate(echoUser())
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/trips", nil)
		req.Header.Set("Authorization", "Bearer "+signed)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "user-rsa|", rec.Body.String())
	}
	assert.Equal(t, 1, fetches)
}

func TestAuthenticate_UnknownKid(t *testing.T) {
	jwks := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"keys":[]}`))
	}))
	defer jwks.Close()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{"sub": "user-rsa", "exp": time.Now().Add(time.Hour).Unix()})
	token.Header["kid"] = "missing"
	signed, err := token.SignedString(key)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/trips", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rec := httptest.NewRecorder()
	NewAuthMiddleware("", jwks.URL).Authenticate(echoUser()).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
