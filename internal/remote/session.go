package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/italolelis/modmirror/internal/logctx"
	"github.com/italolelis/modmirror/internal/transfer"
)

const (
	DefaultCommitsURL   = "https://api.github.com/repos/nacrt/SkyblockClient-REPO/commits/main"
	DefaultBaseTemplate = "https://cdn.jsdelivr.net/gh/nacrt/SkyblockClient-REPO@%s/files/"
)

// Session pins every content fetch of a run to one commit of the remote repository.
type Session struct {
	Commit  string
	BaseURL string
	// MirrorURL is an optional second host serving the same commit.
	MirrorURL string
}

type commitResponse struct {
	SHA string `json:"sha"`
}

// Pin resolves the current commit from commitsURL and derives the versioned base URL
// by formatting baseTemplate with the commit id.
func Pin(ctx context.Context, source transfer.Source, commitsURL, baseTemplate string) (*Session, error) {
	logger := logctx.LoggerFromContext(ctx)

	body, err := source.Open(ctx, commitsURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch commit metadata: %w", err)
	}

	defer func() {
		_ = body.Close()
	}()

	var commit commitResponse
	if err := json.NewDecoder(body).Decode(&commit); err != nil {
		return nil, fmt.Errorf("failed to decode commit metadata: %w", err)
	}

	if commit.SHA == "" {
		return nil, fmt.Errorf("commit metadata from %s has no sha", commitsURL)
	}

	s := &Session{Commit: commit.SHA, BaseURL: fmt.Sprintf(baseTemplate, commit.SHA)}

	logger.InfoContext(ctx, "pinned repository commit", "commit", s.Commit, "base_url", s.BaseURL)

	return s, nil
}

// Resolve joins a repository-relative path onto the pinned base URL.
func (s *Session) Resolve(rel string) string {
	u, err := url.JoinPath(s.BaseURL, strings.TrimPrefix(rel, "/"))
	if err != nil {
		return strings.TrimSuffix(s.BaseURL, "/") + "/" + strings.TrimPrefix(rel, "/")
	}

	return u
}

// SetMirror derives MirrorURL from template and the pinned commit. An empty template clears it.
func (s *Session) SetMirror(template string) {
	if template == "" {
		s.MirrorURL = ""

		return
	}

	s.MirrorURL = fmt.Sprintf(template, s.Commit)
}

// Mirror rewrites a URL below BaseURL onto MirrorURL. ok is false when there is
// no mirror or uri is not served from the pinned base.
func (s *Session) Mirror(uri string) (string, bool) {
	if s.MirrorURL == "" || !strings.HasPrefix(uri, s.BaseURL) {
		return "", false
	}

	return s.MirrorURL + strings.TrimPrefix(uri, s.BaseURL), true
}
