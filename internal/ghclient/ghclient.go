// Package ghclient builds go-github clients rooted at a configurable API URL.
package ghclient

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/go-github/v68/github"
)

const userAgent = "notes-approval-service"

// New returns a client for the REST API at apiURL. A non-empty token is sent
// as a bearer credential on every request.
func New(apiURL, token string, httpClient *http.Client) (*github.Client, error) {
	base, err := url.Parse(strings.TrimRight(apiURL, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("parse github api url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("github api url %q is not absolute", apiURL)
	}

	client := github.NewClient(httpClient)
	client.BaseURL = base
	client.UserAgent = userAgent
	if token != "" {
		client = client.WithAuthToken(token)
	}
	return client, nil
}

// StatusCode reports the HTTP status of a GitHub error response, or 0 when
// err carries none.
func StatusCode(err error) int {
	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		return ghErr.Response.StatusCode
	}
	return 0
}

// Message joins the top-level message of a GitHub error response with the
// messages of its field errors.
func Message(err error) string {
	var ghErr *github.ErrorResponse
	if !errors.As(err, &ghErr) {
		return ""
	}
	parts := []string{ghErr.Message}
	for _, fieldErr := range ghErr.Errors {
		if fieldErr.Message != "" {
			parts = append(parts, fieldErr.Message)
		}
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}
