// Command oauth-init walks through the browser consent flow once and writes
// the token file that the backup transport reads. Run it before starting
// backup-worker or enabling automatic backups in contabile.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	drive "google.golang.org/api/drive/v3"
)

func main() {
	creds, err := loadClientCredentials()
	if err != nil {
		log.Fatalf("client credentials: %v", err)
	}

	// drive.file: only files this app created, which is all the backup
	// transport ever touches.
	cfg, err := google.ConfigFromJSON(creds, drive.DriveFileScope)
	if err != nil {
		log.Fatalf("oauth config: %v", err)
	}

	// The consent redirect lands on a short-lived local server. The OAuth
	// client must list this URI among its authorized redirect URIs.
	port := os.Getenv("OAUTH_REDIRECT_PORT")
	if port == "" {
		port = "8085"
	}
	cfg.RedirectURL = "http://localhost:" + port + "/callback"

	codeCh := make(chan string, 1)
	srv := &http.Server{Addr: ":" + port}
	http.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		if errStr := r.URL.Query().Get("error"); errStr != "" {
			http.Error(w, "authorization refused: "+errStr, http.StatusBadRequest)
			return
		}
		fmt.Fprintln(w, "Authorization received; you can close this tab.")
		codeCh <- r.URL.Query().Get("code")
		go func() { time.Sleep(500 * time.Millisecond); _ = srv.Close() }()
	})
	go func() { _ = srv.ListenAndServe() }()

	fmt.Printf("Visit this URL to authorize the backup store:\n%s\n", cfg.AuthCodeURL("state-token", oauth2.AccessTypeOffline))

	interrupted := make(chan os.Signal, 1)
	signal.Notify(interrupted, os.Interrupt)

	select {
	case code := <-codeCh:
		tok, err := cfg.Exchange(context.Background(), code)
		if err != nil {
			log.Fatalf("exchange authorization code: %v", err)
		}
		path, err := saveToken(tok)
		if err != nil {
			log.Fatalf("save token: %v", err)
		}
		fmt.Printf("Token written to %s — point OAUTH_TOKEN_FILE at it.\n", path)
	case <-time.After(5 * time.Minute):
		log.Fatalf("no authorization within 5 minutes, giving up")
	case <-interrupted:
		log.Fatalf("interrupted")
	}
}

func loadClientCredentials() ([]byte, error) {
	if raw := os.Getenv("OAUTH_CLIENT_JSON"); raw != "" {
		return []byte(raw), nil
	}
	if file := os.Getenv("OAUTH_CLIENT_FILE"); file != "" {
		return os.ReadFile(file)
	}
	return nil, fmt.Errorf("set OAUTH_CLIENT_JSON or OAUTH_CLIENT_FILE")
}

// saveToken writes the token where the backup transport expects it, readable
// by the owner only.
func saveToken(tok *oauth2.Token) (string, error) {
	path := os.Getenv("OAUTH_TOKEN_FILE")
	if path == "" {
		path = "token.json"
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if err := json.NewEncoder(f).Encode(tok); err != nil {
		return "", err
	}
	return path, nil
}
