package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/carelinehq/realtime/internal/config"
	"github.com/carelinehq/realtime/internal/credentials"
	"github.com/carelinehq/realtime/internal/domain"
	"github.com/carelinehq/realtime/internal/history"
	"github.com/carelinehq/realtime/internal/session"
	"github.com/carelinehq/realtime/pkg/log"
)

var (
	flagEndpoint    string
	flagToken       string
	flagTokenURL    string
	flagUserID      string
	flagMode        string
	flagSessionID   string
	flagHistoryPath string
	flagNoHistory   bool
	flagVerbose     bool
)

var rootCmd = &cobra.Command{
	Use:   "careline-chat",
	Short: "Terminal client for the CareLine realtime consultation gateway",
	Long: `careline-chat opens a realtime consultation session against a CareLine
gateway and streams assistant replies to the terminal. Dropped connections
are retried automatically with bounded backoff; pass --session-id to resume
an earlier session with its history.`,
	RunE: runChat,
}

func init() {
	rootCmd.Flags().StringVar(&flagEndpoint, "endpoint", "", "gateway websocket endpoint (default from config)")
	rootCmd.Flags().StringVar(&flagToken, "token", "", "bearer token; omit to request one from the gateway")
	rootCmd.Flags().StringVar(&flagTokenURL, "token-url", "", "token issue endpoint (default derived from --endpoint)")
	rootCmd.Flags().StringVar(&flagUserID, "user", "cli-user", "user id for token requests")
	rootCmd.Flags().StringVar(&flagMode, "mode", "", "session mode: triage, consult or follow_up")
	rootCmd.Flags().StringVar(&flagSessionID, "session-id", "", "resume an existing session")
	rootCmd.Flags().StringVar(&flagHistoryPath, "history-path", "", "sqlite history file (default from config)")
	rootCmd.Flags().BoolVar(&flagNoHistory, "no-history", false, "disable the local history store")
	rootCmd.Flags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	level := cfg.Log.Level
	if flagVerbose {
		level = "debug"
	}
	log.Init(log.Config{Level: level, Pretty: true, ServiceName: "careline-chat"})

	endpoint := cfg.Client.Endpoint
	if flagEndpoint != "" {
		endpoint = flagEndpoint
	}
	mode := domain.Mode(cfg.Client.Mode)
	if flagMode != "" {
		mode = domain.Mode(flagMode)
	}

	creds, err := buildCredentials(cmd.Context(), endpoint)
	if err != nil {
		return err
	}

	var store *history.SQLiteStore
	var loader history.Loader
	if !flagNoHistory {
		path := cfg.Client.HistoryPath
		if flagHistoryPath != "" {
			path = flagHistoryPath
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("failed to create history directory: %w", err)
		}
		store, err = history.NewSQLiteStore(path)
		if err != nil {
			return err
		}
		loader = store
	}

	sess, err := session.New(session.Options{
		Endpoint:          endpoint,
		Mode:              mode,
		SessionID:         flagSessionID,
		Credentials:       creds,
		History:           loader,
		HeartbeatInterval: cfg.Client.HeartbeatInterval,
		Backoff: session.BackoffConfig{
			BaseDelay:   cfg.Client.BackoffBaseDelay,
			MaxAttempts: cfg.Client.MaxAttempts,
		},
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	if err := sess.Connect(ctx); err != nil {
		return err
	}
	defer sess.Disconnect()

	done := make(chan struct{})
	go consumeEvents(ctx, sess, store, done)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		fmt.Println("\nbye")
		sess.Disconnect()
	}()

	fmt.Printf("connecting to %s (mode %s)\n", endpoint, mode)
	fmt.Println(`type a message and press enter; "/attach <file>" queues an upload, "/reconnect" retries, "/quit" exits`)

	go readInput(ctx, sess, store, creds, deriveAttachmentsURL(endpoint))

	<-done
	return nil
}

// buildCredentials prefers a caller-supplied token and falls back to the
// gateway's token endpoint. JWTs refresh themselves through that endpoint
// when they expire; anything unparseable is carried as a static token.
func buildCredentials(ctx context.Context, endpoint string) (credentials.Provider, error) {
	tokenURL := flagTokenURL
	if tokenURL == "" {
		tokenURL = deriveTokenURL(endpoint)
	}
	refresh := func(ctx context.Context) (string, error) {
		return requestToken(ctx, tokenURL, flagUserID)
	}

	token := flagToken
	if token == "" {
		t, err := refresh(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to obtain token from %s: %w", tokenURL, err)
		}
		token = t
	}

	jwtProvider, err := credentials.NewJWT(token, 30*time.Second, refresh)
	if err != nil {
		return credentials.NewStatic(token), nil
	}
	return jwtProvider, nil
}

func requestToken(ctx context.Context, url, userID string) (string, error) {
	body, _ := json.Marshal(map[string]string{"user_id": userID})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint returned %s", resp.Status)
	}

	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.Token, nil
}

// deriveTokenURL maps ws://host/v1/chat/ws to http://host/v1/auth/token.
func deriveTokenURL(endpoint string) string {
	return gatewayBaseURL(endpoint) + "/v1/auth/token"
}

func deriveAttachmentsURL(endpoint string) string {
	return gatewayBaseURL(endpoint) + "/v1/attachments"
}

func gatewayBaseURL(endpoint string) string {
	u := endpoint
	u = strings.Replace(u, "wss://", "https://", 1)
	u = strings.Replace(u, "ws://", "http://", 1)
	if i := strings.Index(u, "/v1/"); i >= 0 {
		u = u[:i]
	}
	return u
}

// uploadAttachment posts one file to the gateway and returns the reference
// to carry on the next message.
func uploadAttachment(ctx context.Context, url, token, path string) (domain.Attachment, error) {
	f, err := os.Open(path)
	if err != nil {
		return domain.Attachment{}, err
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return domain.Attachment{}, err
	}
	if _, err := io.Copy(part, f); err != nil {
		return domain.Attachment{}, err
	}
	if err := mw.Close(); err != nil {
		return domain.Attachment{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return domain.Attachment{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return domain.Attachment{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return domain.Attachment{}, fmt.Errorf("upload returned %s", resp.Status)
	}

	var att domain.Attachment
	if err := json.NewDecoder(resp.Body).Decode(&att); err != nil {
		return domain.Attachment{}, err
	}
	return att, nil
}

func consumeEvents(ctx context.Context, sess *session.Session, store *history.SQLiteStore, done chan<- struct{}) {
	defer close(done)

	streaming := false
	for ev := range sess.Events() {
		switch ev.Type {
		case session.EventSessionStarted:
			fmt.Printf("session %s ready\n", ev.SessionID)
			printHistory(sess)

		case session.EventMessageDelta:
			if !streaming {
				fmt.Print("assistant: ")
				streaming = true
			}
			fmt.Print(ev.Fragment)

		case session.EventMessageComplete:
			if streaming {
				fmt.Println()
				streaming = false
			}
			if store != nil && ev.Message.Role == domain.RoleAssistant {
				if err := store.Record(ctx, ev.SessionID, ev.Message); err != nil {
					l := log.L()
					l.Warn().Err(err).Msg("failed to record assistant message")
				}
			}

		case session.EventCitations:
			for _, c := range ev.Message.Citations {
				fmt.Printf("  [%s] %s", c.SourceType, c.Title)
				if c.URL != "" {
					fmt.Printf(" <%s>", c.URL)
				}
				fmt.Println()
			}

		case session.EventReconnecting:
			if streaming {
				fmt.Println()
				streaming = false
			}
			fmt.Printf("! connection lost, retry %d in %s\n", ev.Attempt, ev.Delay)

		case session.EventReconnectExhausted:
			fmt.Println(`! reconnect attempts exhausted; "/reconnect" to try again`)

		case session.EventFatal:
			if streaming {
				fmt.Println()
				streaming = false
			}
			fmt.Printf("! session closed by server: %v\n", ev.Err)
		}
	}
}

// printHistory shows whatever the session was seeded with on resume.
func printHistory(sess *session.Session) {
	for _, m := range sess.Messages() {
		switch m.Role {
		case domain.RoleUser:
			fmt.Printf("you: %s\n", m.Content)
		case domain.RoleAssistant:
			fmt.Printf("assistant: %s\n", m.Content)
		}
	}
}

func readInput(ctx context.Context, sess *session.Session, store *history.SQLiteStore, creds credentials.Provider, attachURL string) {
	var pending []domain.Attachment

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/quit":
			sess.Disconnect()
			return
		case line == "/reconnect":
			if err := sess.Reconnect(); err != nil {
				fmt.Printf("! %v\n", err)
			}
			continue
		case strings.HasPrefix(line, "/attach "):
			path := strings.TrimSpace(strings.TrimPrefix(line, "/attach "))
			token, err := creds.Token(ctx)
			if err != nil {
				fmt.Printf("! attach failed: %v\n", err)
				continue
			}
			att, err := uploadAttachment(ctx, attachURL, token, path)
			if err != nil {
				fmt.Printf("! attach failed: %v\n", err)
				continue
			}
			pending = append(pending, att)
			fmt.Printf("attached %s (%d bytes); it will ride on your next message\n", att.Name, att.Size)
			continue
		}

		msg, err := sess.Send(ctx, line, pending...)
		if err != nil {
			fmt.Printf("! send failed: %v\n", err)
			continue
		}
		pending = nil
		if store != nil {
			if err := store.Record(ctx, sess.SessionID(), msg); err != nil {
				l := log.L()
				l.Warn().Err(err).Msg("failed to record user message")
			}
		}
	}
	sess.Disconnect()
}
