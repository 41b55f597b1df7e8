// Package auth resolves bearer credentials to identity handles through the
// GitHub "who am I" endpoint.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/go-github/v68/github"

	"github.com/Hiplitehehe/redesigned-octo-telegram/internal/ghclient"
)

var (
	ErrUnauthenticated   = errors.New("unauthenticated")
	ErrMissingCredential = fmt.Errorf("%w: missing bearer credential", ErrUnauthenticated)
	ErrInvalidCredential = fmt.Errorf("%w: invalid credential", ErrUnauthenticated)
)

// Identity is the handle the provider reports for a credential.
type Identity struct {
	Login string
}

// BearerToken extracts the credential from an Authorization header value.
// It returns "" when the header is absent or does not use the Bearer scheme.
func BearerToken(header string) string {
	header = strings.TrimSpace(header)
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

type Verifier struct {
	client *github.Client
}

// NewVerifier builds a verifier calling {apiURL}/user.
func NewVerifier(apiURL string, httpClient *http.Client) (*Verifier, error) {
	client, err := ghclient.New(apiURL, "", httpClient)
	if err != nil {
		return nil, err
	}
	return &Verifier{client: client}, nil
}

// Verify exchanges credential for an identity. Every failure, including an
// unreachable or slow provider, matches ErrUnauthenticated.
func (v *Verifier) Verify(ctx context.Context, credential string) (Identity, error) {
	if credential == "" {
		return Identity{}, ErrMissingCredential
	}

	user, _, err := v.client.WithAuthToken(credential).Users.Get(ctx, "")
	if err != nil {
		if status := ghclient.StatusCode(err); status != 0 {
			return Identity{}, fmt.Errorf("%w: identity provider returned %d", ErrInvalidCredential, status)
		}
		return Identity{}, fmt.Errorf("%w: identity provider: %w", ErrInvalidCredential, err)
	}
	login := strings.TrimSpace(user.GetLogin())
	if login == "" {
		return Identity{}, fmt.Errorf("%w: no login in identity response", ErrInvalidCredential)
	}
	return Identity{Login: login}, nil
}
