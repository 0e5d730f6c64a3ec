package httpdebug

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/pprof/profile"
)

func TestIndexListsRegisteredGuestSource(t *testing.T) {
	h := Index(Source{
		Name: "wall",
		Desc: "wall-clock samples",
		Build: func(r *http.Request) (*profile.Profile, error) {
			return &profile.Profile{}, nil
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if !strings.Contains(rr.Body.String(), "wall") {
		t.Fatalf("expected index page to list the 'wall' source, got %q", rr.Body.String())
	}
}

func TestIndexServesGuestProfileByHref(t *testing.T) {
	called := false
	h := Index(Source{
		Name: "wall",
		Build: func(r *http.Request) (*profile.Profile, error) {
			called = true
			return &profile.Profile{SampleType: []*profile.ValueType{{Type: "wall", Unit: "nanosecond"}}}, nil
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/debug/pprof/wall", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if !called {
		t.Fatal("expected the 'wall' source's Build to be invoked")
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/octet-stream" {
		t.Fatalf("expected octet-stream content type, got %q", ct)
	}
}

func TestIndexServesHostProfileWhenQueryHostSet(t *testing.T) {
	h := Index()
	req := httptest.NewRequest(http.MethodGet, "/debug/pprof/cmdline?host", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 from host cmdline profile, got %d", rr.Code)
	}
}
