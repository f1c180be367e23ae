package cors

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func do(origins []string, method, origin string) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(New(origins))
	r.GET("/closures", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(method, "/closures", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestCORSListedOrigin(t *testing.T) {
	rec := do([]string{"https://ops.example.org/"}, http.MethodGet, "https://ops.example.org")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://ops.example.org", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
}

func TestCORSUnlistedOrigin(t *testing.T) {
	rec := do([]string{"https://ops.example.org"}, http.MethodGet, "https://evil.example.com")
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Credentials"))
}

func TestCORSOpenPreflight(t *testing.T) {
	rec := do(nil, http.MethodOptions, "https://any.example.com")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, POST, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
}
