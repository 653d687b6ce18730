package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/satriahrh/cocoa-fruit/relay/adapters/forwarder"
	"github.com/satriahrh/cocoa-fruit/relay/adapters/terminal"
	"github.com/satriahrh/cocoa-fruit/relay/domain"
	"github.com/satriahrh/cocoa-fruit/relay/usecase"
	"github.com/satriahrh/cocoa-fruit/relay/utils/log"
	"github.com/spf13/cobra"
	"github.com/subosito/gotenv"
	"go.uber.org/zap"
)

const greeting = "Hi! Tell me about the work you want to enter and I will find categories that fit."

func main() {
	gotenv.Load()
	log.SetLogger(zap.NewNop())

	rootCmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the assistant through the relay from a terminal",
		RunE:  run,
	}
	flags := rootCmd.Flags()
	flags.String("relay-url", envOr("RELAY_URL", "http://localhost:8080"), "Base URL of the relay")
	flags.String("token", os.Getenv("CHAT_TOKEN"), "Bearer token forwarded with chat turns")
	flags.String("auth-url", "", "Token endpoint to exchange --api-key and --api-secret for a token")
	flags.String("api-key", "", "API key for --auth-url")
	flags.String("api-secret", "", "API secret for --auth-url")
	flags.String("session-id", "", "Resume this conversation id instead of starting a new one")
	flags.Bool("ask", false, "Use the unauthenticated question route")
	flags.Duration("char-delay", usecase.DefaultPacing().CharDelay, "Delay per revealed character")
	flags.Int("batch-size", usecase.DefaultPacing().BatchSize, "Characters revealed per step")
	flags.Bool("no-pacing", false, "Print deltas as they arrive")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()
	relayURL, _ := flags.GetString("relay-url")
	token, _ := flags.GetString("token")
	sessionID, _ := flags.GetString("session-id")
	ask, _ := flags.GetBool("ask")
	noPacing, _ := flags.GetBool("no-pacing")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if authURL, _ := flags.GetString("auth-url"); authURL != "" && token == "" {
		key, _ := flags.GetString("api-key")
		secret, _ := flags.GetString("api-secret")
		var err error
		if token, err = fetchToken(ctx, authURL, key, secret); err != nil {
			return fmt.Errorf("fetch token: %w", err)
		}
	}

	pacing := usecase.DefaultPacing()
	pacing.CharDelay, _ = flags.GetDuration("char-delay")
	pacing.BatchSize, _ = flags.GetInt("batch-size")
	// Piped output gets the text as fast as it arrives.
	if noPacing || !isatty.IsTerminal(os.Stdout.Fd()) {
		pacing = usecase.NoPacing()
	}

	out := cmd.OutOrStdout()
	renderer := terminal.NewRenderer(out)
	opts := []usecase.SessionOption{
		usecase.WithGreeting(greeting),
		usecase.WithPacing(pacing),
		usecase.WithCredential(token),
		usecase.WithObserver(renderer.Observe),
	}
	if sessionID != "" {
		opts = append(opts, usecase.WithSessionID(sessionID))
	}
	if ask {
		opts = append(opts, usecase.WithRoute(domain.RouteAsk))
	}

	session := usecase.NewSession(forwarder.New(relayURL), opts...)
	defer session.Close()

	return loop(ctx, session, cmd.InOrStdin(), out)
}

// loop reads one line per turn until EOF, /exit or an interrupt.
func loop(ctx context.Context, session *usecase.Session, in io.Reader, out io.Writer) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		fmt.Fprint(out, "you> ")
		var text string
		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			text = strings.TrimSpace(line)
		}

		switch text {
		case "":
			continue
		case "/exit", "/quit":
			return nil
		case "/restart":
			if err := session.Restart(); err != nil {
				return err
			}
			continue
		}

		if err := session.Submit(ctx, text); err != nil {
			if errors.Is(err, usecase.ErrSessionClosed) {
				return err
			}
			fmt.Fprintln(out, err.Error())
			continue
		}
		if err := session.Wait(ctx); err != nil {
			return nil
		}
	}
}

func fetchToken(ctx context.Context, url, key, secret string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("X-API-Key", key)
	req.Header.Set("X-API-Secret", secret)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", err
	}
	return payload.Token, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
