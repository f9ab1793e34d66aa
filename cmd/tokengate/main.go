// Package main provides the tokengate command line interface: one-shot
// challenge token fetches, a long-running resident channel, and an
// interactive login window for seeding the browser profile.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/pallasite/tokengate/pkg/browser"
	"github.com/pallasite/tokengate/pkg/config"
	"github.com/pallasite/tokengate/pkg/logging"
)

const version = "0.1.0"

// CLIConfig holds command-line configuration
type CLIConfig struct {
	Target      string
	Resident    string
	Login       bool
	ConfigFile  string
	Timeout     time.Duration
	ShowVersion bool
}

func main() {
	// Environment files feed the settings overrides (TOKENGATE_*)
	_ = godotenv.Load()

	cliConfig := parseFlags()

	if cliConfig.ShowVersion {
		fmt.Printf("tokengate v%s\n", version)
		return
	}

	// Create context with signal handling
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nShutting down gracefully...")
		cancel()
	}()

	if err := run(ctx, cliConfig); err != nil {
		cancel()
		log.Printf("tokengate failed: %v", err)
		os.Exit(1)
	}
	cancel()
}

// parseFlags parses command line flags
func parseFlags() *CLIConfig {
	cliConfig := &CLIConfig{}

	flag.StringVar(&cliConfig.Target, "target", "", "Target identifier: fetch one token and print it")
	flag.StringVar(&cliConfig.Resident, "resident", "", "Target identifier: keep a resident channel alive until interrupted")
	flag.BoolVar(&cliConfig.Login, "login", false, "Open a login window for manual authentication")
	flag.StringVar(&cliConfig.ConfigFile, "config", "", "Path to settings file (YAML)")
	flag.DurationVar(&cliConfig.Timeout, "timeout", 2*time.Minute, "Deadline for a one-shot token fetch")
	flag.BoolVar(&cliConfig.ShowVersion, "version", false, "Show version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "tokengate - managed reCAPTCHA token acquisition\n\n")
		fmt.Fprintf(os.Stderr, "Usage: tokengate [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  # Fetch a single token\n")
		fmt.Fprintf(os.Stderr, "  tokengate -target my-project-id\n\n")
		fmt.Fprintf(os.Stderr, "  # Keep a resident channel warm (tokens served to the host process)\n")
		fmt.Fprintf(os.Stderr, "  tokengate -resident my-project-id\n\n")
		fmt.Fprintf(os.Stderr, "  # Seed the browser profile with a logged-in session\n")
		fmt.Fprintf(os.Stderr, "  tokengate -login\n\n")
	}

	flag.Parse()
	return cliConfig
}

func run(ctx context.Context, cliConfig *CLIConfig) error {
	settings, err := config.Load(cliConfig.ConfigFile)
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	logger, logErr := logging.NewLogger("tokengate")
	if logErr != nil {
		log.Printf("file logging unavailable, continuing on stderr: %v", logErr)
	}
	defer logger.Close()

	service := browser.NewService(settings, logger)
	defer service.Close()

	switch {
	case cliConfig.Login:
		return runLogin(ctx, service)
	case cliConfig.Resident != "":
		return runResident(ctx, service, cliConfig.Resident)
	case cliConfig.Target != "":
		return runFetch(ctx, service, cliConfig.Target, cliConfig.Timeout)
	default:
		flag.Usage()
		return fmt.Errorf("one of -target, -resident or -login is required")
	}
}

// runFetch obtains a single token and prints it to stdout.
func runFetch(ctx context.Context, service *browser.Service, targetID string, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	token, err := service.GetToken(ctx, targetID)
	if err != nil {
		return fmt.Errorf("token acquisition failed: %w", err)
	}

	fmt.Println(token)
	return nil
}

// runResident keeps a resident channel alive until the context is cancelled.
func runResident(ctx context.Context, service *browser.Service, targetID string) error {
	if err := service.StartResident(ctx, targetID); err != nil {
		return fmt.Errorf("failed to start resident channel: %w", err)
	}
	defer service.StopResident()

	fmt.Printf("Resident channel ready (target: %s). Press Ctrl+C to stop.\n", targetID)
	<-ctx.Done()
	return nil
}

// runLogin opens the login window and waits: the browser lives only as long
// as this process, so the operator finishes signing in before interrupting.
func runLogin(ctx context.Context, service *browser.Service) error {
	if err := service.OpenLoginWindow(ctx); err != nil {
		return fmt.Errorf("failed to open login window: %w", err)
	}

	fmt.Println("Sign in using the opened browser window. The profile directory")
	fmt.Println("persists the session for future runs. Press Ctrl+C when done.")
	<-ctx.Done()
	return nil
}
