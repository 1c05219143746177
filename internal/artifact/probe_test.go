package artifact

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestPreviewURLDerivation(t *testing.T) {
	p := NewProbe()
	cases := []struct {
		remote string
		want   string
	}{
		{
			"https://github.com/hl7au/au-fhir-base.git",
			"https://raw.githubusercontent.com/hl7au/au-fhir-base/gh-pages/sitepreview/index.html",
		},
		{
			"https://github.com/hl7au/au-fhir-base",
			"https://raw.githubusercontent.com/hl7au/au-fhir-base/gh-pages/sitepreview/index.html",
		},
		{
			"git@github.com:hl7au/au-fhir-base.git",
			"https://raw.githubusercontent.com/hl7au/au-fhir-base/gh-pages/sitepreview/index.html",
		},
	}
	for _, tc := range cases {
		got, err := p.PreviewURL(tc.remote)
		if err != nil {
			t.Fatalf("%s: %v", tc.remote, err)
		}
		if got != tc.want {
			t.Errorf("%s:\n got  %s\n want %s", tc.remote, got, tc.want)
		}
	}
}

func TestPreviewURLRejectsShortPaths(t *testing.T) {
	p := NewProbe()
	if _, err := p.PreviewURL("https://example.com/"); err == nil {
		t.Fatalf("expected derivation error")
	}
}

func TestHasPrebuiltFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			t.Errorf("expected HEAD, got %s", r.Method)
		}
		if r.URL.Path != "/owner/ig/gh-pages/sitepreview/index.html" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewProbe(WithBaseURL(srv.URL))
	status := p.HasPrebuilt(context.Background(), "https://github.com/owner/ig.git")
	if !status.Exists {
		t.Fatalf("expected artifact to exist")
	}
	if status.CheckedAt.IsZero() {
		t.Fatalf("expected CheckedAt to be set")
	}
}

func TestHasPrebuiltMissing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	p := NewProbe(WithBaseURL(srv.URL))
	if p.HasPrebuilt(context.Background(), "https://github.com/owner/ig.git").Exists {
		t.Fatalf("404 must report absence")
	}
}

func TestHasPrebuiltUnreachableNeverErrors(t *testing.T) {
	// Closed port: connection refused must come back as Exists=false.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	base := srv.URL
	srv.Close()

	p := NewProbe(WithBaseURL(base))
	if p.HasPrebuilt(context.Background(), "https://github.com/owner/ig.git").Exists {
		t.Fatalf("unreachable host must report absence")
	}
}

func TestHasPrebuiltFollowsRedirects(t *testing.T) {
	var target *httptest.Server
	target = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/final" {
			w.WriteHeader(http.StatusOK)
			return
		}
		http.Redirect(w, r, target.URL+"/final", http.StatusMovedPermanently)
	}))
	defer target.Close()

	p := NewProbe(WithBaseURL(target.URL))
	if !p.HasPrebuilt(context.Background(), "https://github.com/owner/ig.git").Exists {
		t.Fatalf("redirect to 200 must report existence")
	}
}
