package requestid

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, incoming string) (*httptest.ResponseRecorder, string, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	var fromGin, fromCtx string
	r := gin.New()
	r.Use(Middleware())
	r.GET("/payments", func(c *gin.Context) {
		fromGin = Value(c)
		fromCtx = FromContext(c.Request.Context())
		c.Status(http.StatusOK)
	})
	req := httptest.NewRequest(http.MethodGet, "/payments", nil)
	if incoming != "" {
		req.Header.Set(Header, incoming)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	return w, fromGin, fromCtx
}

func TestMiddlewareKeepsCallerID(t *testing.T) {
	w, fromGin, fromCtx := serve(t, "counter-7f3a")
	assert.Equal(t, "counter-7f3a", fromGin)
	assert.Equal(t, "counter-7f3a", fromCtx)
	assert.Equal(t, "counter-7f3a", w.Header().Get(Header))
}

func TestMiddlewareReplacesUnusableID(t *testing.T) {
	for _, incoming := range []string{"", "has space", strings.Repeat("a", 65)} {
		w, fromGin, fromCtx := serve(t, incoming)
		assert.Len(t, fromGin, 36, incoming)
		assert.Equal(t, fromGin, fromCtx)
		assert.Equal(t, fromGin, w.Header().Get(Header))
	}
}

func TestFromContextWithoutID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, FromContext(req.Context()))
	assert.Empty(t, FromContext(nil)) //nolint:staticcheck
}
