package transport

import (
	"crypto/ecdsa"
	"crypto/elliptic"
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

	"github.com/gitlify/gitlify/internal/config"
)

func generateRSAKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	return key
}

func generateECKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	return key
}

func rsaKeyToJWK(kid string, pub *rsa.PublicKey) map[string]any {
	return map[string]any{
		"kid": kid,
		"kty": "RSA",
		"alg": "RS256",
		"use": "sig",
		"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}
}

func ecKeyToJWK(kid string, pub *ecdsa.PublicKey) map[string]any {
	return map[string]any{
		"kid": kid,
		"kty": "EC",
		"crv": "P-256",
		"use": "sig",
		"x":   base64.RawURLEncoding.EncodeToString(pub.X.Bytes()),
		"y":   base64.RawURLEncoding.EncodeToString(pub.Y.Bytes()),
	}
}

func startJWKSServer(t *testing.T, keys ...map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"keys": keys})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func signJWT(t *testing.T, key any, method jwt.SigningMethod, kid string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(method, claims)
	token.Header["kid"] = kid
	s, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}
	return s
}

func testIdentityCfg() config.IdentityConfig {
	return config.IdentityConfig{
		Issuer:     "https://auth.example.com",
		Audience:   "gitlify-api",
		Algorithms: []string{"RS256", "ES256"},
	}
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"sub":   "user-1",
		"email": "user@example.com",
		"iss":   "https://auth.example.com",
		"aud":   "gitlify-api",
		"exp":   jwt.NewNumericDate(time.Now().Add(1 * time.Hour)),
		"iat":   jwt.NewNumericDate(time.Now()),
	}
}

func authRequest(token string) *http.Request {
	req := httptest.NewRequest("GET", "/", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func TestJWKSClientGetKeyRSA(t *testing.T) {
	rsaKey := generateRSAKey(t)
	jwks := startJWKSServer(t, rsaKeyToJWK("rsa-key-1", &rsaKey.PublicKey))

	client := NewJWKSClient(jwks.URL, 1*time.Hour, nil)
	key, err := client.GetKey("rsa-key-1")
	if err != nil {
		t.Fatalf("GetKey: %v", err)
	}
	pubKey, ok := key.(*rsa.PublicKey)
	if !ok {
		t.Fatalf("key type = %T, want *rsa.PublicKey", key)
	}
	if pubKey.N.Cmp(rsaKey.PublicKey.N) != 0 {
		t.Error("RSA modulus mismatch")
	}
}

func TestJWKSClientGetKeyEC(t *testing.T) {
	ecKey := generateECKey(t)
	jwks := startJWKSServer(t, ecKeyToJWK("ec-key-1", &ecKey.PublicKey))

	client := NewJWKSClient(jwks.URL, 1*time.Hour, nil)
	key, err := client.GetKey("ec-key-1")
	if err != nil {
		t.Fatalf("GetKey: %v", err)
	}
	if _, ok := key.(*ecdsa.PublicKey); !ok {
		t.Fatalf("key type = %T, want *ecdsa.PublicKey", key)
	}
}

func TestJWKSClientCaching(t *testing.T) {
	callCount := 0
	rsaKey := generateRSAKey(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount++
		keys := []map[string]any{rsaKeyToJWK("cached-key", &rsaKey.PublicKey)}
		json.NewEncoder(w).Encode(map[string]any{"keys": keys})
	}))
	defer srv.Close()

	client := NewJWKSClient(srv.URL, 1*time.Hour, nil)
	client.minRefresh = 0

	client.GetKey("cached-key")
	client.GetKey("cached-key")

	if callCount != 1 {
		t.Errorf("JWKS fetched %d times, want 1", callCount)
	}
}

func TestJWKSClientUnknownKey(t *testing.T) {
	jwks := startJWKSServer(t) // empty key set
	client := NewJWKSClient(jwks.URL, 1*time.Hour, nil)
	if _, err := client.GetKey("nonexistent"); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestJWTAuthenticatorValidToken(t *testing.T) {
	rsaKey := generateRSAKey(t)
	jwksSrv := startJWKSServer(t, rsaKeyToJWK("test-key", &rsaKey.PublicKey))

	jwksClient := NewJWKSClient(jwksSrv.URL, 1*time.Hour, nil)
	handler := JWTAuthenticator(testIdentityCfg(), jwksClient)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := ClaimsFrom(r.Context())
		if claims == nil {
			t.Error("claims should be in context")
		}
		if sub, _ := claims["sub"].(string); sub != "user-1" {
			t.Errorf("sub = %q, want user-1", sub)
		}
		w.WriteHeader(200)
	}))

	tokenStr := signJWT(t, rsaKey, jwt.SigningMethodRS256, "test-key", validClaims())
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, authRequest(tokenStr))

	if w.Code != 200 {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestJWTAuthenticatorMissingHeader(t *testing.T) {
	jwksClient := NewJWKSClient("http://unused", 1*time.Hour, nil)
	handler := JWTAuthenticator(testIdentityCfg(), jwksClient)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, authRequest(""))

	if w.Code != 401 {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestJWTAuthenticatorExpiredToken(t *testing.T) {
	rsaKey := generateRSAKey(t)
	jwksSrv := startJWKSServer(t, rsaKeyToJWK("test-key", &rsaKey.PublicKey))

	jwksClient := NewJWKSClient(jwksSrv.URL, 1*time.Hour, nil)
	handler := JWTAuthenticator(testIdentityCfg(), jwksClient)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called for expired token")
	}))

	claims := validClaims()
	claims["exp"] = jwt.NewNumericDate(time.Now().Add(-1 * time.Hour))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, authRequest(signJWT(t, rsaKey, jwt.SigningMethodRS256, "test-key", claims)))

	if w.Code != 401 {
		t.Errorf("status = %d, want 401 for expired token", w.Code)
	}
}

func TestJWTAuthenticatorWrongIssuer(t *testing.T) {
	rsaKey := generateRSAKey(t)
	jwksSrv := startJWKSServer(t, rsaKeyToJWK("test-key", &rsaKey.PublicKey))

	jwksClient := NewJWKSClient(jwksSrv.URL, 1*time.Hour, nil)
	handler := JWTAuthenticator(testIdentityCfg(), jwksClient)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called for wrong issuer")
	}))

	claims := validClaims()
	claims["iss"] = "https://evil.example.com"

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, authRequest(signJWT(t, rsaKey, jwt.SigningMethodRS256, "test-key", claims)))

	if w.Code != 401 {
		t.Errorf("status = %d, want 401 for wrong issuer", w.Code)
	}
}

func TestJWTAuthenticatorDisallowedAlgorithm(t *testing.T) {
	rsaKey := generateRSAKey(t)
	jwksSrv := startJWKSServer(t, rsaKeyToJWK("test-key", &rsaKey.PublicKey))

	cfg := testIdentityCfg()
	cfg.Algorithms = []string{"ES256"}
	jwksClient := NewJWKSClient(jwksSrv.URL, 1*time.Hour, nil)
	handler := JWTAuthenticator(cfg, jwksClient)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called for disallowed algorithm")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, authRequest(signJWT(t, rsaKey, jwt.SigningMethodRS256, "test-key", validClaims())))

	if w.Code != 401 {
		t.Errorf("status = %d, want 401 for disallowed algorithm", w.Code)
	}
}

func TestJWTAuthenticatorClockSkewTolerance(t *testing.T) {
	rsaKey := generateRSAKey(t)
	jwksSrv := startJWKSServer(t, rsaKeyToJWK("test-key", &rsaKey.PublicKey))

	jwksClient := NewJWKSClient(jwksSrv.URL, 1*time.Hour, nil)
	handler := JWTAuthenticator(testIdentityCfg(), jwksClient)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
	}))

	// Expired 15 seconds ago, within the 30s leeway.
	claims := validClaims()
	claims["exp"] = jwt.NewNumericDate(time.Now().Add(-15 * time.Second))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, authRequest(signJWT(t, rsaKey, jwt.SigningMethodRS256, "test-key", claims)))

	if w.Code != 200 {
		t.Errorf("status = %d, want 200 within clock skew tolerance", w.Code)
	}
}
