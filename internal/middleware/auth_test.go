package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "unit-test-secret"

func signToken(t *testing.T, claims *JWTClaims, secret string) string {
	t.Helper()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func authRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/protected", JWTAuth(testSecret), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"tenant_id": GetTenantID(c).String()})
	})
	r.GET("/admin", JWTAuth(testSecret), RequireRole("administrador"), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return r
}

func get(r *gin.Engine, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestJWTAuthExtractsTenant(t *testing.T) {
	r := authRouter()
	tenantID := uuid.New()
	token := signToken(t, &JWTClaims{
		UserID:   uuid.NewString(),
		TenantID: tenantID.String(),
		Rol:      "facturador",
	}, testSecret)

	w := get(r, "/protected", token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), tenantID.String())
}

func TestJWTAuthRejections(t *testing.T) {
	r := authRouter()

	w := get(r, "/protected", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code, "missing header")

	w = get(r, "/protected", "garbage.token.here")
	assert.Equal(t, http.StatusUnauthorized, w.Code, "malformed token")

	wrongKey := signToken(t, &JWTClaims{TenantID: uuid.NewString(), Rol: "facturador"}, "otra-clave")
	w = get(r, "/protected", wrongKey)
	assert.Equal(t, http.StatusUnauthorized, w.Code, "wrong signing key")

	noTenant := signToken(t, &JWTClaims{UserID: uuid.NewString(), Rol: "facturador"}, testSecret)
	w = get(r, "/protected", noTenant)
	assert.Equal(t, http.StatusUnauthorized, w.Code, "token without tenant claim")
}

func TestRequireRole(t *testing.T) {
	r := authRouter()

	admin := signToken(t, &JWTClaims{TenantID: uuid.NewString(), Rol: "administrador"}, testSecret)
	w := get(r, "/admin", admin)
	assert.Equal(t, http.StatusOK, w.Code)

	facturador := signToken(t, &JWTClaims{TenantID: uuid.NewString(), Rol: "facturador"}, testSecret)
	w = get(r, "/admin", facturador)
	assert.Equal(t, http.StatusForbidden, w.Code)
}
