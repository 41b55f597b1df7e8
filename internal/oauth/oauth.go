// Package oauth builds the GitHub authorize redirect and relays the
// authorization-code exchange.
package oauth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
)

const maxTokenResponse = 1 << 20

type Client struct {
	config oauth2.Config
	http   *http.Client
}

// New configures the client. An empty baseURL uses github.com.
func New(clientID, clientSecret, redirectURI, scope, baseURL string, httpClient *http.Client) *Client {
	endpoint := github.Endpoint
	if baseURL = strings.TrimRight(baseURL, "/"); baseURL != "" {
		endpoint = oauth2.Endpoint{
			AuthURL:  baseURL + "/login/oauth/authorize",
			TokenURL: baseURL + "/login/oauth/access_token",
		}
	}
	var scopes []string
	if scope != "" {
		scopes = []string{scope}
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		config: oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURI,
			Scopes:       scopes,
			Endpoint:     endpoint,
		},
		http: httpClient,
	}
}

// LoginURL is the authorize URL carrying client id, redirect URI and scope.
func (c *Client) LoginURL() string {
	return c.config.AuthCodeURL("")
}

// Exchange posts code to the token endpoint and returns the provider's
// response body untouched, whatever its status. Only transport failures are
// errors.
func (c *Client) Exchange(ctx context.Context, code string) ([]byte, error) {
	payload, err := json.Marshal(map[string]string{
		"client_id":     c.config.ClientID,
		"client_secret": c.config.ClientSecret,
		"code":          code,
		"redirect_uri":  c.config.RedirectURL,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal exchange request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint.TokenURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build exchange request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("exchange code: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponse))
	if err != nil {
		return nil, fmt.Errorf("read exchange response: %w", err)
	}
	return body, nil
}
