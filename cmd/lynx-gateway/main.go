// ABOUTME: Entry point for the lynx-gateway authentication and session server
// ABOUTME: Subcommands to serve, mint credentials and probe a running gateway

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/lynx-gateway/internal/auth"
	"github.com/2389/lynx-gateway/internal/config"
	"github.com/2389/lynx-gateway/internal/gateway"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
  _                                 _
 | |_   _ _ __ __  __      __ _  __ _| |_ _____      ____ _ _   _
 | | | | | '_ \\ \/ /____ / _' |/ _' | __/ _ \ \ /\ / / _' | | | |
 | | |_| | | | |>  <_____| (_| | (_| | ||  __/\ V  V / (_| | |_| |
 |_|\__, |_| |_/_/\_\     \__, |\__,_|\__\___| \_/\_/ \__,_|\__, |
    |___/                 |___/                             |___/
`

func usage() {
	fmt.Println("Usage: lynx-gateway <command> [flags]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                          Start the gateway server")
	fmt.Println("  token --subject ID [--ttl D]   Issue a bearer credential for a subject")
	fmt.Println("  health                         Check gateway liveness")
	fmt.Println("  ready                          Check store readiness and live sessions")
	fmt.Println()
	fmt.Println("Every command accepts --config PATH.")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	args := os.Args[2:]
	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx, args)
	case "token":
		err = runToken(args)
	case "health":
		err = runProbe(ctx, args, "/health")
	case "ready":
		err = runProbe(ctx, args, "/health/ready")
	case "help", "-h", "--help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig resolves and loads the config file named by --config or the defaults.
func loadConfig(explicit string) (*config.Config, string, error) {
	path, err := config.ResolvePath(explicit)
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, nil
}

func runServe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configFlag := fs.String("config", "", "path to gateway.yaml")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	// A missing secret fails here, before anything listens.
	cfg, configPath, err := loadConfig(*configFlag)
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", cfg.Database.Path)
	if cfg.Metrics.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Metrics:   %s\n", cfg.Metrics.Path)
	}
	fmt.Println()

	logger.Info("starting lynx-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"version", version,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

// runToken mints a credential offline with the configured signing secret.
func runToken(args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	configFlag := fs.String("config", "", "path to gateway.yaml")
	subject := fs.String("subject", "", "account or agent UUID the credential speaks for")
	ttl := fs.Duration("ttl", 0, "credential lifetime (default: auth.token_ttl)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *subject == "" {
		return errors.New("--subject flag is required")
	}

	cfg, _, err := loadConfig(*configFlag)
	if err != nil {
		return err
	}

	lifetime := cfg.Auth.TokenTTL
	if *ttl > 0 {
		lifetime = *ttl
	}

	issuer, err := auth.NewJWTIssuer([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return fmt.Errorf("creating issuer: %w", err)
	}
	token, err := issuer.Issue(*subject, lifetime)
	if err != nil {
		return fmt.Errorf("issuing token: %w", err)
	}

	yellow := color.New(color.FgYellow)
	yellow.Fprintf(os.Stderr, "expires: %s\n", time.Now().Add(lifetime).Format(time.RFC3339))
	fmt.Println(token)
	return nil
}

// runProbe issues a GET against a running gateway and prints the body.
func runProbe(ctx context.Context, args []string, path string) error {
	fs := flag.NewFlagSet(path, flag.ContinueOnError)
	configFlag := fs.String("config", "", "path to gateway.yaml")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, _, err := loadConfig(*configFlag)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	url := fmt.Sprintf("http://%s%s", cfg.Server.HTTPAddr, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("probe failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d: %s", resp.StatusCode, body)
	}

	fmt.Println(string(body))
	return nil
}
