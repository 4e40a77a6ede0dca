// Package contentapitest provides an in-process fake of the repository
// content API for tests.
package contentapitest

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
)

// Request is one call observed by the fake.
type Request struct {
	Method      string
	EscapedPath string
	Body        []byte
}

type file struct {
	content []byte
	sha     string
}

type failure struct {
	status int
	header http.Header
	left   int
}

// Server fakes GET/PUT on /repos/{owner}/{repo}/contents/{path}.
type Server struct {
	*httptest.Server

	Owner string
	Repo  string
	Token string

	mu       sync.Mutex
	files    map[string]file
	requests []Request
	failures map[string]*failure
}

// NewServer starts a fake that accepts the given bearer token.
func NewServer(owner, repo, token string) *Server {
	s := &Server{
		Owner:    owner,
		Repo:     repo,
		Token:    token,
		files:    map[string]file{},
		failures: map[string]*failure{},
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// Seed stores raw content under key as if it had been committed earlier.
func (s *Server) Seed(key string, content []byte) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	sha := blobSHA(content)
	s.files[key] = file{content: content, sha: sha}
	return sha
}

// Content returns the stored bytes for key.
func (s *Server) Content(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[key]
	return f.content, ok
}

// Requests returns a copy of every request seen so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// CountMethod returns how many requests used method.
func (s *Server) CountMethod(method string) int {
	n := 0
	for _, r := range s.Requests() {
		if r.Method == method {
			n++
		}
	}
	return n
}

// FailNext makes the next n requests with method answer status.
func (s *Server) FailNext(method string, status, n int, header http.Header) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[method] = &failure{status: status, header: header, left: n}
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	var body []byte
	if r.Body != nil {
		var raw json.RawMessage
		_ = json.NewDecoder(r.Body).Decode(&raw)
		body = raw
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, Request{Method: r.Method, EscapedPath: r.URL.EscapedPath(), Body: body})

	if r.Header.Get("Authorization") != "Bearer "+s.Token {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Bad credentials"})
		return
	}
	if f := s.failures[r.Method]; f != nil && f.left > 0 {
		f.left--
		for k, vs := range f.header {
			for _, v := range vs {
				w.Header().Add(k, v)
			}
		}
		writeJSON(w, f.status, map[string]string{"message": http.StatusText(f.status)})
		return
	}

	repoPath := "/repos/" + s.Owner + "/" + s.Repo
	if r.URL.Path == repoPath && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]string{"full_name": s.Owner + "/" + s.Repo})
		return
	}
	key, ok := strings.CutPrefix(r.URL.Path, repoPath+"/contents/")
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.get(w, key)
	case http.MethodPut:
		s.put(w, key, body)
	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"message": "method not allowed"})
	}
}

func (s *Server) get(w http.ResponseWriter, key string) {
	f, ok := s.files[key]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"type":     "file",
		"path":     key,
		"sha":      f.sha,
		"encoding": "base64",
		"content":  wrap(base64.StdEncoding.EncodeToString(f.content), 60),
	})
}

func (s *Server) put(w http.ResponseWriter, key string, body []byte) {
	var req struct {
		Message string `json:"message"`
		Content string `json:"content"`
		SHA     string `json:"sha"`
	}
	if err := json.Unmarshal(body, &req); err != nil || req.Message == "" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"message": "Invalid request."})
		return
	}
	existing, exists := s.files[key]
	switch {
	case exists && req.SHA == "":
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"message": "Invalid request.\n\n\"sha\" wasn't supplied."})
		return
	case exists && req.SHA != existing.sha, !exists && req.SHA != "":
		writeJSON(w, http.StatusConflict, map[string]string{"message": fmt.Sprintf("%s does not match %s", key, req.SHA)})
		return
	}
	content, err := base64.StdEncoding.DecodeString(req.Content)
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"message": "content is not valid Base64"})
		return
	}
	sha := blobSHA(content)
	s.files[key] = file{content: content, sha: sha}

	status := http.StatusOK
	if !exists {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]any{
		"content": map[string]string{"type": "file", "path": key, "sha": sha},
	})
}

// blobSHA is the git object id of content, which is what the API reports.
func blobSHA(content []byte) string {
	h := sha1.New()
	fmt.Fprintf(h, "blob %d\x00", len(content))
	h.Write(content)
	return hex.EncodeToString(h.Sum(nil))
}

func wrap(s string, width int) string {
	var b strings.Builder
	for len(s) > width {
		b.WriteString(s[:width])
		b.WriteByte('\n')
		s = s[width:]
	}
	b.WriteString(s)
	return b.String()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
