package oauth

import (
	"context"
	"net/url"
	"testing"

	"github.com/Hiplitehehe/redesigned-octo-telegram/internal/githubtest"
)

func TestLoginURLCarriesClientRedirectAndScope(t *testing.T) {
	client := New("client-1", "secret", "https://notes.example/callback", "repo", "", nil)

	parsed, err := url.Parse(client.LoginURL())
	if err != nil {
		t.Fatalf("parse login url: %v", err)
	}
	if parsed.Host != "github.com" || parsed.Path != "/login/oauth/authorize" {
		t.Fatalf("unexpected authorize endpoint: %s", parsed)
	}
	q := parsed.Query()
	if q.Get("client_id") != "client-1" {
		t.Fatalf("client_id = %q", q.Get("client_id"))
	}
	if q.Get("redirect_uri") != "https://notes.example/callback" {
		t.Fatalf("redirect_uri = %q", q.Get("redirect_uri"))
	}
	if q.Get("scope") != "repo" {
		t.Fatalf("scope = %q", q.Get("scope"))
	}
	if q.Get("client_secret") != "" {
		t.Fatal("client secret must never appear in the redirect")
	}
}

func TestLoginURLRespectsBaseURL(t *testing.T) {
	client := New("c", "s", "r", "repo", "https://ghe.example/", nil)
	parsed, err := url.Parse(client.LoginURL())
	if err != nil {
		t.Fatalf("parse login url: %v", err)
	}
	if parsed.Host != "ghe.example" || parsed.Path != "/login/oauth/authorize" {
		t.Fatalf("unexpected authorize endpoint: %s", parsed)
	}
}

func TestExchangeRelaysBodyVerbatim(t *testing.T) {
	gh := githubtest.NewServer(t)
	gh.TokenResponse = `{"error":"bad_verification_code","error_description":"The code passed is incorrect or expired."}`
	client := New("c", "s", "r", "repo", gh.URL, gh.Client())

	body, err := client.Exchange(context.Background(), "abc")
	if err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}
	if string(body) != gh.TokenResponse {
		t.Fatalf("body = %q, want %q", body, gh.TokenResponse)
	}
	if gh.LastCode() != "abc" {
		t.Fatalf("provider saw code %q", gh.LastCode())
	}
}

func TestExchangeTransportFailure(t *testing.T) {
	gh := githubtest.NewServer(t)
	base := gh.URL
	gh.Close()

	if _, err := New("c", "s", "r", "repo", base, nil).Exchange(context.Background(), "abc"); err == nil {
		t.Fatal("expected transport error")
	}
}
