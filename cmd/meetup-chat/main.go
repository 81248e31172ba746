// ABOUTME: Entry point for the meetup-chat terminal client
// ABOUTME: Loads config, wires identity, store, transport, session and coordinator

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/hobbylink/meetup-chat/internal/auth"
	"github.com/hobbylink/meetup-chat/internal/client"
	"github.com/hobbylink/meetup-chat/internal/config"
	"github.com/hobbylink/meetup-chat/internal/conversation"
	"github.com/hobbylink/meetup-chat/internal/session"
	"github.com/hobbylink/meetup-chat/internal/store"
	"github.com/hobbylink/meetup-chat/internal/transport"
)

// version is set at build time.
var version = "dev"

// getConfigPath returns the path to the config file.
// Priority: MEETUP_CHAT_CONFIG env var > XDG_CONFIG_HOME/meetup-chat/config.yaml
func getConfigPath() string {
	if envPath := os.Getenv("MEETUP_CHAT_CONFIG"); envPath != "" {
		return envPath
	}
	return config.DefaultPath()
}

func main() {
	cmd := "chat"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch cmd {
	case "chat":
		err = runChat(ctx)
	case "whoami":
		err = runWhoami()
	case "checkpoints":
		err = runCheckpoints(ctx)
	case "version":
		fmt.Println(version)
	case "help", "-h", "--help":
		printUsage(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage(os.Stderr)
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: meetup-chat [command]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  chat          Join the configured meetup conversation (default)")
	fmt.Fprintln(w, "  whoami        Show the identity in the configured token")
	fmt.Fprintln(w, "  checkpoints   List stored sync checkpoints")
	fmt.Fprintln(w, "  version       Print the version")
}

// loadConfig reads the config file. A missing default file falls back to
// environment-only configuration.
func loadConfig() (*config.Config, string, error) {
	path := getConfigPath()
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) && os.Getenv("MEETUP_CHAT_CONFIG") == "" {
		path = ""
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, nil
}

func identity(cfg *config.Config) (auth.Identity, error) {
	var secret []byte
	if cfg.Auth.JWTSecret != "" {
		secret = []byte(cfg.Auth.JWTSecret)
	}
	id, err := auth.NewParser(secret).Identity(cfg.Auth.Token)
	if err != nil {
		return auth.Identity{}, fmt.Errorf("reading token: %w", err)
	}
	return id, nil
}

func runChat(ctx context.Context) error {
	cfg, path, err := loadConfig()
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Logging, os.Stderr)

	id, err := identity(cfg)
	if err != nil {
		return err
	}

	st, err := store.NewSQLiteStore(cfg.Store.Path, logger)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	dialer := transport.NewWebSocketDialer(cfg.Server.WSURL, logger)

	sess := session.New(session.Config{
		MeetupID:          cfg.Session.MeetupID,
		UserID:            id.UserID,
		Token:             id.Token,
		InitialDelay:      cfg.Session.ReconnectInitialDelay,
		MaxDelay:          cfg.Session.ReconnectMaxDelay,
		MaxAttempts:       cfg.Session.MaxReconnectAttempts,
		HeartbeatInterval: cfg.Session.HeartbeatInterval,
		QueueCapacity:     cfg.Session.QueueCapacity,
		QueueMaxAge:       cfg.Session.QueueMaxAge,
	}, dialer, st, logger)
	defer sess.Close()

	opts := conversation.Options{
		Checkpoints:     st,
		TypingIdle:      cfg.Chat.TypingIdle,
		ReceiptTTL:      cfg.Chat.ReceiptTTL,
		ReceiptCapacity: cfg.Chat.ReceiptCapacity,
	}
	if cfg.Server.APIURL != "" {
		api, err := client.New(cfg.Server.APIURL, id.Token, nil, logger)
		if err != nil {
			return fmt.Errorf("creating api client: %w", err)
		}
		opts.History = api
	}

	coord := conversation.New(sess, opts, logger)

	green := color.New(color.FgGreen)
	green.Print("▶ ")
	fmt.Printf("meetup %d as %s (user %d)\n", cfg.Session.MeetupID, displayName(id), id.UserID)
	if path != "" {
		color.New(color.FgHiBlack).Printf("  config: %s\n", path)
	}
	fmt.Println("Type a message and press Enter. /help for commands. Ctrl+C to quit.")
	fmt.Println()

	logger.Info("starting meetup-chat",
		"meetup_id", cfg.Session.MeetupID,
		"user_id", id.UserID,
		"ws_url", cfg.Server.WSURL)

	startCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	r := newRenderer(os.Stdout, id.UserID, displayName(id))
	done, err := follow(ctx, startCtx, coord, r)
	if err == nil {
		err = runLoop(ctx, os.Stdin, &chatCommands{coord: coord, sess: sess, out: os.Stdout})
	}
	stopConversation(coord, logger)
	<-done

	fmt.Println("\nGoodbye!")
	return err
}

// follow subscribes r to coord's changes and starts the conversation. The
// loaded history reaches r as one batch ahead of live changes. The returned
// channel closes once coord stops.
func follow(ctx, startCtx context.Context, coord *conversation.Coordinator, r *renderer) (<-chan struct{}, error) {
	changes := coord.Changes(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ch := range changes {
			r.change(ch, coord)
		}
	}()

	if err := coord.Start(startCtx); err != nil {
		return done, fmt.Errorf("starting conversation: %w", err)
	}
	return done, nil
}

// stopConversation stops coord and logs a failed teardown.
func stopConversation(coord *conversation.Coordinator, logger *slog.Logger) {
	if err := coord.Stop(); err != nil {
		logger.Error("stopping conversation", "error", err)
	}
}

func runWhoami() error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	id, err := identity(cfg)
	if err != nil {
		return err
	}

	fmt.Printf("user id:  %d\n", id.UserID)
	fmt.Printf("username: %s\n", displayName(id))
	if id.ExpiresAt.IsZero() {
		fmt.Println("expires:  never")
	} else {
		fmt.Printf("expires:  %s (in %s)\n",
			id.ExpiresAt.Local().Format(time.RFC1123),
			time.Until(id.ExpiresAt).Round(time.Minute))
	}
	return nil
}

func runCheckpoints(ctx context.Context) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	st, err := store.NewSQLiteStore(cfg.Store.Path, setupLogger(cfg.Logging, os.Stderr))
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	cps, err := st.Checkpoints(ctx)
	if err != nil {
		return err
	}
	if len(cps) == 0 {
		fmt.Println("No sync checkpoints")
		return nil
	}
	for _, cp := range cps {
		fmt.Printf("meetup %-6d user %-6d last sync %s\n",
			cp.MeetupID, cp.UserID, cp.LastSync.Local().Format("2006-01-02 15:04:05"))
	}
	return nil
}

func displayName(id auth.Identity) string {
	if id.Username != "" {
		return id.Username
	}
	return fmt.Sprintf("user-%d", id.UserID)
}

func setupLogger(cfg config.LoggingConfig, out io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})
	} else {
		handler = newColorHandler(out, level)
	}

	return slog.New(handler)
}
