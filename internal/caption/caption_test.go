package caption

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	logx "github.com/torgash1221/ig-autoposter/pkg/logx"
)

func TestDisabledReturnsPlaceholder(t *testing.T) {
	t.Parallel()
	g := New(Config{Enabled: false}, logx.Nop())
	if got := g.Generate(context.Background(), Brand{Name: "x"}, ""); got != Placeholder {
		t.Fatalf("caption = %q, want placeholder", got)
	}
}

func TestGenerateCapsLength(t *testing.T) {
	t.Parallel()
	long := strings.Repeat("я", 500)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer key" {
			t.Errorf("missing auth header")
		}
		w.Write([]byte(`{"choices":[{"message":{"content":"` + long + `"}}]}`))
	}))
	defer srv.Close()

	g := New(Config{Enabled: true, APIKey: "key", APIURL: srv.URL, MaxChars: 100}, logx.Nop())
	got := g.Generate(context.Background(), Brand{Name: "x"}, "https://example.com/a.jpg")
	if n := len([]rune(got)); n != 100 {
		t.Fatalf("caption length = %d runes, want 100", n)
	}
}

func TestGenerateFailureDegrades(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	g := New(Config{Enabled: true, APIURL: srv.URL}, logx.Nop())
	if got := g.Generate(context.Background(), Brand{Name: "x"}, ""); got != Placeholder {
		t.Fatalf("caption = %q, want placeholder on failure", got)
	}
}

func TestBuildPrompt(t *testing.T) {
	t.Parallel()
	p := BuildPrompt(Brand{
		Name:     "OysterCo",
		Language: "uk",
		Tone:     "warm",
		Hashtags: []string{"#oysters", "#kyiv"},
	})
	for _, want := range []string{"Ukrainian", "OysterCo", "warm", "#oysters #kyiv"} {
		if !strings.Contains(p, want) {
			t.Fatalf("prompt missing %q:\n%s", want, p)
		}
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()
	if got := Truncate("hello", 10); got != "hello" {
		t.Fatalf("Truncate short = %q", got)
	}
	if got := Truncate("привіт", 3); got != "при" {
		t.Fatalf("Truncate multibyte = %q", got)
	}
}
