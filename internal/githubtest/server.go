// Package githubtest serves an in-memory imitation of the GitHub endpoints
// this service talks to: OAuth token exchange, GET /user and the repository
// contents API with sha compare-and-swap.
package githubtest

import (
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

type file struct {
	content []byte
	sha     string
}

type Commit struct {
	Repo    string
	Path    string
	Branch  string
	Message string
	Token   string
}

type Server struct {
	*httptest.Server

	// ServiceToken is the bearer the contents API accepts.
	ServiceToken string
	// TokenResponse is relayed by POST /login/oauth/access_token.
	TokenResponse string

	// BeforeWrite runs ahead of every contents PUT, outside the lock, so it
	// may mutate files to simulate a concurrent writer.
	BeforeWrite func(repo, path string)

	mu       sync.Mutex
	files    map[string]file
	users    map[string]string
	commits  []Commit
	reads    int
	userHits int
	lastCode string
}

func NewServer(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		ServiceToken:  "service-token",
		TokenResponse: `{"access_token":"gho_test","token_type":"bearer","scope":"repo"}`,
		files:         make(map[string]file),
		users:         make(map[string]string),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /user", s.handleUser)
	mux.HandleFunc("POST /login/oauth/access_token", s.handleAccessToken)
	mux.HandleFunc("GET /repos/{owner}/{repo}/contents/{path...}", s.handleGetContents)
	mux.HandleFunc("PUT /repos/{owner}/{repo}/contents/{path...}", s.handlePutContents)
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

// AddUser makes token resolve to login on GET /user.
func (s *Server) AddUser(token, login string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[token] = login
}

// PutFile stores raw content and returns its blob sha.
func (s *Server) PutFile(repo, path, branch string, content []byte) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	sha := BlobSHA(content)
	s.files[key(repo, path, branch)] = file{content: append([]byte(nil), content...), sha: sha}
	return sha
}

// File returns the raw content stored at the location.
func (s *Server) File(repo, path, branch string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[key(repo, path, branch)]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), f.content...), true
}

func (s *Server) Commits() []Commit {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Commit(nil), s.commits...)
}

func (s *Server) Reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

func (s *Server) UserLookups() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userHits
}

// LastCode is the most recent code posted to the token endpoint.
func (s *Server) LastCode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastCode
}

// BlobSHA is git's object id for a blob with the given content.
func BlobSHA(content []byte) string {
	h := sha1.New()
	fmt.Fprintf(h, "blob %d\x00", len(content))
	h.Write(content)
	return hex.EncodeToString(h.Sum(nil))
}

func key(repo, path, branch string) string {
	return repo + "/" + strings.Trim(path, "/") + "@" + branch
}

func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.userHits++
	login, ok := s.users[strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")]
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Bad credentials"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"login": login, "id": 1})
}

func (s *Server) handleAccessToken(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ClientID     string `json:"client_id"`
		ClientSecret string `json:"client_secret"`
		Code         string `json:"code"`
		RedirectURI  string `json:"redirect_uri"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	s.mu.Lock()
	s.lastCode = body.Code
	s.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(s.TokenResponse))
}

func (s *Server) authorized(r *http.Request) bool {
	return r.Header.Get("Authorization") == "Bearer "+s.ServiceToken
}

func (s *Server) handleGetContents(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Bad credentials"})
		return
	}
	repo := r.PathValue("owner") + "/" + r.PathValue("repo")
	path := r.PathValue("path")
	branch := r.URL.Query().Get("ref")

	s.mu.Lock()
	s.reads++
	f, ok := s.files[key(repo, path, branch)]
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"type":     "file",
		"encoding": "base64",
		"path":     path,
		"sha":      f.sha,
		"content":  wrap(base64.StdEncoding.EncodeToString(f.content)),
	})
}

func (s *Server) handlePutContents(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Bad credentials"})
		return
	}
	repo := r.PathValue("owner") + "/" + r.PathValue("repo")
	path := r.PathValue("path")

	var body struct {
		Message string `json:"message"`
		Content string `json:"content"`
		SHA     string `json:"sha"`
		Branch  string `json:"branch"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Problems parsing JSON"})
		return
	}
	content, err := base64.StdEncoding.DecodeString(body.Content)
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"message": "content is not valid Base64"})
		return
	}

	if s.BeforeWrite != nil {
		s.BeforeWrite(repo, path)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(repo, path, body.Branch)
	current, exists := s.files[k]
	switch {
	case exists && body.SHA == "":
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"message": "Invalid request.\n\n\"sha\" wasn't supplied."})
		return
	case exists && body.SHA != current.sha:
		writeJSON(w, http.StatusConflict, map[string]string{"message": fmt.Sprintf("%s does not match %s", path, body.SHA)})
		return
	case !exists && body.SHA != "":
		writeJSON(w, http.StatusConflict, map[string]string{"message": fmt.Sprintf("%s does not match %s", path, body.SHA)})
		return
	}

	sha := BlobSHA(content)
	s.files[k] = file{content: content, sha: sha}
	s.commits = append(s.commits, Commit{
		Repo:    repo,
		Path:    path,
		Branch:  body.Branch,
		Message: body.Message,
		Token:   strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "),
	})
	status := http.StatusOK
	if !exists {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]any{
		"content": map[string]string{"path": path, "sha": sha},
		"commit":  map[string]string{"message": body.Message},
	})
}

// wrap splits base64 into 60-column lines the way GitHub returns it.
func wrap(encoded string) string {
	var b strings.Builder
	for len(encoded) > 60 {
		b.WriteString(encoded[:60])
		b.WriteByte('\n')
		encoded = encoded[60:]
	}
	b.WriteString(encoded)
	b.WriteByte('\n')
	return b.String()
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
