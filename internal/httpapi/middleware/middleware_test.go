package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

type staticValidator string

func (v staticValidator) Verify(token string) bool { return token == string(v) }

func newEngine() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Recovery(), RequestID())
	r.GET("/id", func(c *gin.Context) { c.String(http.StatusOK, c.GetString(RequestIDKey)) })
	r.GET("/panic", func(c *gin.Context) { panic("boom") })
	r.GET("/admin", AdminRequired(staticValidator("good")), func(c *gin.Context) { c.Status(http.StatusNoContent) })
	return r
}

func serve(r *gin.Engine, path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRequestID(t *testing.T) {
	r := newEngine()
	w := serve(r, "/id", http.Header{RequestIDHeader: {"abc"}})
	if w.Body.String() != "abc" || w.Header().Get(RequestIDHeader) != "abc" {
		t.Fatalf("caller id not propagated: %q", w.Body.String())
	}
	w = serve(r, "/id", nil)
	if len(w.Body.String()) != 36 {
		t.Fatalf("expected a generated uuid, got %q", w.Body.String())
	}
}

func TestRecovery(t *testing.T) {
	if w := serve(newEngine(), "/panic", nil); w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
}

func TestAdminRequired(t *testing.T) {
	r := newEngine()
	cases := map[string]int{
		"":            http.StatusUnauthorized,
		"Basic good":  http.StatusUnauthorized,
		"Bearer bad":  http.StatusUnauthorized,
		"Bearer good": http.StatusNoContent,
	}
	for h, want := range cases {
		hdr := http.Header{}
		if h != "" {
			hdr.Set("Authorization", h)
		}
		if w := serve(r, "/admin", hdr); w.Code != want {
			t.Fatalf("Authorization %q: got %d want %d", h, w.Code, want)
		}
	}
}
