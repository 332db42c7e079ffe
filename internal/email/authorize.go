package email

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/evalite/evalite/internal/config"
)

// AuthorizeOptions tune the interactive Gmail consent flow.
type AuthorizeOptions struct {
	// Out receives the consent URL and progress. Defaults to os.Stdout.
	Out io.Writer
	// OpenURL opens the consent page. Defaults to the system browser.
	OpenURL func(url string) error
	// Timeout bounds the wait for consent. Defaults to five minutes.
	Timeout time.Duration
	// Endpoint overrides Google's OAuth endpoint.
	Endpoint *oauth2.Endpoint
}

// Authorize runs the desktop OAuth flow for the gmail.send scope: it serves
// a loopback redirect, sends the user to the consent page, and exchanges
// the returned code for a token. Only ClientID and ClientSecret are read.
func Authorize(ctx context.Context, cfg config.GmailConfig, opts AuthorizeOptions) (*oauth2.Token, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET are required")
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.OpenURL == nil {
		opts.OpenURL = openBrowser
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Minute
	}

	oauthCfg := oauthConfig(cfg)
	if opts.Endpoint != nil {
		oauthCfg.Endpoint = *opts.Endpoint
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("listen for oauth redirect: %w", err)
	}
	oauthCfg.RedirectURL = "http://" + listener.Addr().String()

	state := uuid.NewString()
	codeCh := make(chan string, 1)
	errCh := make(chan error, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if msg := q.Get("error"); msg != "" {
			trySend(errCh, fmt.Errorf("authorization denied: %s", msg))
			http.Error(w, "Authorization failed: "+msg, http.StatusBadRequest)
			return
		}
		code := q.Get("code")
		if code == "" {
			// favicon and the like
			return
		}
		if q.Get("state") != state {
			http.Error(w, "state mismatch", http.StatusBadRequest)
			return
		}
		trySend(codeCh, code)
		fmt.Fprint(w, "EVA-Lite is authorized to send mail. You can close this window.")
	})

	server := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			trySend(errCh, err)
		}
	}()
	defer server.Shutdown(context.Background())

	authURL := oauthCfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	fmt.Fprintf(opts.Out, "Redirect URI: %s\n", oauthCfg.RedirectURL)
	if err := opts.OpenURL(authURL); err != nil {
		fmt.Fprintf(opts.Out, "Open this URL in your browser:\n\n%s\n\n", authURL)
	}
	fmt.Fprintln(opts.Out, "Waiting for authorization...")

	waitCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	var code string
	select {
	case code = <-codeCh:
	case err := <-errCh:
		return nil, err
	case <-waitCtx.Done():
		return nil, fmt.Errorf("waiting for authorization: %w", waitCtx.Err())
	}

	token, err := oauthCfg.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange authorization code: %w", err)
	}
	return token, nil
}

// SaveToken writes token as JSON readable by NewGmailSender.
func SaveToken(path string, token *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create token directory: %w", err)
	}
	data, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

func trySend[T any](ch chan T, v T) {
	select {
	case ch <- v:
	default:
	}
}

func openBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "linux":
		path, err := exec.LookPath("xdg-open")
		if err != nil {
			return fmt.Errorf("no browser found")
		}
		cmd = exec.Command(path, url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		return fmt.Errorf("unsupported platform")
	}
	return cmd.Start()
}
