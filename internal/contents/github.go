package contents

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/go-github/v68/github"

	"github.com/Hiplitehehe/redesigned-octo-telegram/internal/ghclient"
	"github.com/Hiplitehehe/redesigned-octo-telegram/internal/notes"
)

// GitHub talks to the REST contents API. The blob sha GitHub reports for a
// file is used as its Version.
type GitHub struct {
	client *github.Client
}

// NewGitHub authenticates every call with token, the service credential.
func NewGitHub(baseURL, token string, httpClient *http.Client) (*GitHub, error) {
	client, err := ghclient.New(baseURL, token, httpClient)
	if err != nil {
		return nil, err
	}
	return &GitHub{client: client}, nil
}

var _ Store = (*GitHub)(nil)

func (g *GitHub) Read(ctx context.Context, loc Location) (Snapshot, error) {
	owner, repo, err := splitRepo(loc)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrRead, err)
	}

	var opts *github.RepositoryContentGetOptions
	if loc.Branch != "" {
		opts = &github.RepositoryContentGetOptions{Ref: loc.Branch}
	}
	file, dir, _, err := g.client.Repositories.GetContents(ctx, owner, repo, filePath(loc), opts)
	if err != nil {
		if ghclient.StatusCode(err) == http.StatusNotFound {
			return Snapshot{}, fmt.Errorf("%w: %s", ErrNotFound, loc)
		}
		return Snapshot{}, fmt.Errorf("%w: %s: %w", ErrRead, loc, err)
	}
	if file == nil || dir != nil {
		return Snapshot{}, fmt.Errorf("%w: %s: expected a file, found a directory", ErrRead, loc)
	}
	if kind := file.GetType(); kind != "" && kind != "file" {
		return Snapshot{}, fmt.Errorf("%w: %s: expected a file, found %s", ErrRead, loc, kind)
	}
	// Files over 1 MB come back with encoding "none" and no content.
	if file.GetEncoding() != "base64" {
		return Snapshot{}, fmt.Errorf("%w: %s: unsupported content encoding %q", ErrRead, loc, file.GetEncoding())
	}

	raw, err := file.GetContent()
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: %s: %v", ErrRead, loc, err)
	}
	entries, err := notes.Decode([]byte(raw))
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: %s: %w", ErrRead, loc, err)
	}
	return Snapshot{Entries: entries, Version: Version(file.GetSHA())}, nil
}

// Write creates the file when expected is empty and updates it otherwise.
// A 2xx reply whose body cannot be decoded still means the commit landed;
// the new Version is then reported as empty.
func (g *GitHub) Write(ctx context.Context, loc Location, entries []notes.Entry, expected Version, message string) (Version, error) {
	owner, repo, err := splitRepo(loc)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrWrite, err)
	}
	payload, err := notes.Encode(entries)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrWrite, loc, err)
	}

	opts := &github.RepositoryContentFileOptions{
		Message: github.Ptr(message),
		Content: payload,
	}
	if loc.Branch != "" {
		opts.Branch = github.Ptr(loc.Branch)
	}

	var (
		result *github.RepositoryContentResponse
		resp   *github.Response
	)
	if expected == "" {
		result, resp, err = g.client.Repositories.CreateFile(ctx, owner, repo, filePath(loc), opts)
	} else {
		opts.SHA = github.Ptr(string(expected))
		result, resp, err = g.client.Repositories.UpdateFile(ctx, owner, repo, filePath(loc), opts)
	}

	switch status := ghclient.StatusCode(err); {
	case err == nil:
		if result == nil || result.Content == nil {
			return "", nil
		}
		return Version(result.Content.GetSHA()), nil
	case status == http.StatusConflict:
		return "", fmt.Errorf("%w: %s: %s", ErrVersionConflict, loc, ghclient.Message(err))
	case status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(ghclient.Message(err)), "sha"):
		// Returned when the file appeared after we read it as missing, or
		// when the sha we sent no longer names the current blob.
		return "", fmt.Errorf("%w: %s: %s", ErrVersionConflict, loc, ghclient.Message(err))
	case status == 0 && landed(resp, err):
		return "", nil
	default:
		return "", fmt.Errorf("%w: %s: %w", ErrWrite, loc, err)
	}
}

// landed reports a successful status whose reply body failed to decode.
func landed(resp *github.Response, err error) bool {
	if resp == nil || resp.Response == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated
}

func splitRepo(loc Location) (owner, repo string, err error) {
	owner, repo, ok := strings.Cut(loc.Repo, "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return "", "", fmt.Errorf("repository %q is not owner/name", loc.Repo)
	}
	return owner, repo, nil
}

func filePath(loc Location) string {
	return strings.Trim(loc.Path, "/")
}
