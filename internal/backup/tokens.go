package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	drive "google.golang.org/api/drive/v3"
)

// FileTokenSource serves bearer tokens from a token file written by
// cmd/oauth-init. Given the OAuth client credentials file it refreshes
// expired tokens transparently; without one it hands out the stored access
// token as-is.
type FileTokenSource struct {
	mu     sync.Mutex
	source oauth2.TokenSource
	static string
}

// NewFileTokenSource loads the token from tokenFile. clientFile may be empty,
// in which case refresh is unavailable and the stored access token is used
// until it expires.
func NewFileTokenSource(ctx context.Context, clientFile, tokenFile string) (*FileTokenSource, error) {
	raw, err := os.ReadFile(tokenFile)
	if err != nil {
		return nil, fmt.Errorf("read token file: %w", err)
	}

	var tok oauth2.Token
	if err := json.Unmarshal(raw, &tok); err != nil {
		return nil, fmt.Errorf("parse token file %s: %w", tokenFile, err)
	}

	if clientFile == "" {
		if tok.AccessToken == "" {
			return nil, fmt.Errorf("token file %s has no access token", tokenFile)
		}
		return &FileTokenSource{static: tok.AccessToken}, nil
	}

	creds, err := os.ReadFile(clientFile)
	if err != nil {
		return nil, fmt.Errorf("read client file: %w", err)
	}
	cfg, err := google.ConfigFromJSON(creds, drive.DriveFileScope)
	if err != nil {
		return nil, fmt.Errorf("parse client file %s: %w", clientFile, err)
	}

	return &FileTokenSource{source: cfg.TokenSource(ctx, &tok)}, nil
}

// Token returns a valid bearer token, refreshing the cached one if needed.
func (s *FileTokenSource) Token(_ context.Context) (string, error) {
	if s.source == nil {
		return s.static, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tok, err := s.source.Token()
	if err != nil {
		return "", fmt.Errorf("refresh access token: %w", err)
	}
	return tok.AccessToken, nil
}
