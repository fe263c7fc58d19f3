package server

import (
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestSanitizeBase(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"/", ""},
		{"idlewatch", "/idlewatch"},
		{"/idlewatch", "/idlewatch"},
		{"/idlewatch/", "/idlewatch"},
		{" api ", "/api"},
	}
	for _, c := range cases {
		if got := sanitizeBase(c.in); got != c.want {
			t.Fatalf("sanitizeBase(%q)=%q want %q", c.in, got, c.want)
		}
	}
}

func TestIsSafeName(t *testing.T) {
	valid := []string{"a", "A1._-", "gpuowl", "name.1-2_3"}
	invalid := []string{"", "..", "a..b", "a/b", `a\\b`, "hello*", "unicode한글"}
	for _, s := range valid {
		if !isSafeName(s) {
			t.Fatalf("expected valid name %q", s)
		}
	}
	for _, s := range invalid {
		if isSafeName(s) {
			t.Fatalf("expected invalid name %q", s)
		}
	}
}

// runParseLimit exercises parseLimit through a real gin context.
func runParseLimit(t *testing.T, query string) (int, error) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	var n int
	var perr error
	r := gin.New()
	r.GET("/x", func(c *gin.Context) { n, perr = parseLimit(c); c.Status(200) })
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/x"+query, nil))
	return n, perr
}

func TestParseLimit(t *testing.T) {
	if n, err := runParseLimit(t, ""); err != nil || n != 50 {
		t.Fatalf("default limit = %d, %v", n, err)
	}
	if n, err := runParseLimit(t, "?limit=10"); err != nil || n != 10 {
		t.Fatalf("limit=10 -> %d, %v", n, err)
	}
	if n, err := runParseLimit(t, "?limit=9999"); err != nil || n != 500 {
		t.Fatalf("limit should cap at 500, got %d, %v", n, err)
	}
	for _, q := range []string{"?limit=abc", "?limit=0", "?limit=-1"} {
		if _, err := runParseLimit(t, q); err == nil {
			t.Fatalf("expected error for %s", q)
		}
	}
}

func TestWriteJSON(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/x", func(c *gin.Context) { writeJSON(c, 201, map[string]any{"a": 1}) })
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/x", nil))
	if rec.Code != 201 {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content-type: %s", ct)
	}
}
