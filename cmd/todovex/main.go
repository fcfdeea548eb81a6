// ABOUTME: Entry point for the todovex server: backend surface plus the app API
// ABOUTME: Subcommands serve, init, migrate, health and ready

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/todovex/internal/auth"
	"github.com/2389/todovex/internal/config"
	"github.com/2389/todovex/internal/gateway"
	"github.com/2389/todovex/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
  _            _
 | |_ ___   __| | _____   _______  __
 | __/ _ \ / _' |/ _ \ \ / / _ \ \/ /
 | || (_) | (_| | (_) \ V /  __/>  <
  \__\___/ \__,_|\___/ \_/ \___/_/\_\
`

// getConfigPath returns the path to the server config file.
// Priority: TODOVEX_CONFIG env var > XDG_CONFIG_HOME/todovex/config.yaml > ~/.config/todovex/config.yaml
func getConfigPath() string {
	if envPath := os.Getenv("TODOVEX_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "todovex", "config.yaml")
}

// getDataPath returns the todovex data directory.
// Priority: XDG_DATA_HOME/todovex > ~/.local/share/todovex
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "todovex")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: todovex <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve      Start the backend surface and app API")
		fmt.Println("  init       Create a new config file interactively")
		fmt.Println("  migrate    Apply database migrations and exit")
		fmt.Println("  health     Check that the server is up")
		fmt.Println("  ready      Check that the server can reach its backend")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "migrate":
		err = runMigrate()
	case "health":
		err = runProbe(ctx, "/health")
	case "ready":
		err = runProbe(ctx, "/health/ready")
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Backend:   %s\n", cfg.Server.GRPCAddr)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Models:    %s / %s\n", cfg.AI.ChatModel, cfg.AI.EmbeddingModel)

	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Funnel {
			yellow.Print(" [funnel]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}

	fmt.Println()

	logger.Info("starting todovex",
		"config", configPath,
		"grpc_addr", cfg.Server.GRPCAddr,
		"http_addr", cfg.Server.HTTPAddr,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

func runMigrate() error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Opening the store applies any pending migrations.
	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	if err := s.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}

	color.New(color.FgGreen).Printf("  ✓ Database up to date: %s\n", cfg.Database.Path)
	return nil
}

func runProbe(ctx context.Context, path string) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

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
		return fmt.Errorf("unhealthy: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	fmt.Println(strings.TrimSpace(string(body)))
	return nil
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("todovex configuration setup")
	fmt.Println("===========================")
	fmt.Println()

	defaultConfigPath := getConfigPath()
	defaultDbPath := filepath.Join(getDataPath(), "todovex.db")

	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if !isYes(overwrite) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	fmt.Println("\n--- Server Configuration ---")
	grpcAddr := prompt(reader, "Backend gRPC address", "localhost:50051")
	httpAddr := prompt(reader, "HTTP address", "localhost:8080")
	baseURL := prompt(reader, "Public base URL (leave empty to derive)", "")

	fmt.Println("\n--- Database Configuration ---")
	dbPath := prompt(reader, "SQLite database path", defaultDbPath)

	fmt.Println("\n--- AI Configuration ---")
	apiKey := prompt(reader, "OpenAI API key (or ${OPENAI_API_KEY})", "${OPENAI_API_KEY}")
	chatModel := prompt(reader, "Chat model", config.DefaultChatModel)

	fmt.Println("\n--- Tailscale Configuration ---")
	tailscaleEnabled := isYes(prompt(reader, "Enable Tailscale?", "no"))

	var tsHostname, tsAuthKey string
	var tsEphemeral, tsFunnel bool
	if tailscaleEnabled {
		tsHostname = prompt(reader, "Tailscale hostname", "todovex")
		tsAuthKey = prompt(reader, "Tailscale auth key (leave empty for interactive)", "")
		tsEphemeral = isYes(prompt(reader, "Ephemeral node?", "no"))
		tsFunnel = isYes(prompt(reader, "Enable Funnel (public HTTPS)?", "no"))
	}

	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	secret, err := auth.NewOpaqueToken(32)
	if err != nil {
		return fmt.Errorf("generating adapter secret: %w", err)
	}

	var cfg strings.Builder
	cfg.WriteString("# todovex configuration\n")
	cfg.WriteString("# Generated by todovex init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  grpc_addr: %q\n", grpcAddr))
	cfg.WriteString(fmt.Sprintf("  http_addr: %q\n", httpAddr))
	if baseURL != "" {
		cfg.WriteString(fmt.Sprintf("  base_url: %q\n", baseURL))
	}
	cfg.WriteString("\n")

	cfg.WriteString("database:\n")
	cfg.WriteString(fmt.Sprintf("  path: %q\n", dbPath))
	cfg.WriteString("\n")

	cfg.WriteString("auth:\n")
	cfg.WriteString(fmt.Sprintf("  adapter_secret: %q\n", secret))
	cfg.WriteString("  session_max_age: \"720h\"\n")
	cfg.WriteString("  session_update_age: \"24h\"\n")
	cfg.WriteString("  verification_token_ttl: \"24h\"\n")
	cfg.WriteString("  signin_throttle: \"1m\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("backend:\n")
	cfg.WriteString(fmt.Sprintf("  addr: %q\n", grpcAddr))
	cfg.WriteString("\n")

	cfg.WriteString("ai:\n")
	cfg.WriteString(fmt.Sprintf("  api_key: %q\n", apiKey))
	cfg.WriteString(fmt.Sprintf("  chat_model: %q\n", chatModel))
	cfg.WriteString(fmt.Sprintf("  embedding_model: %q\n", config.DefaultEmbeddingModel))
	cfg.WriteString(fmt.Sprintf("  embedding_dimensions: %d\n", config.DefaultEmbeddingDimensions))
	cfg.WriteString(fmt.Sprintf("  request_timeout: %q\n", config.DefaultRequestTimeout.String()))
	cfg.WriteString("\n")

	cfg.WriteString("tailscale:\n")
	cfg.WriteString(fmt.Sprintf("  enabled: %t\n", tailscaleEnabled))
	if tailscaleEnabled {
		cfg.WriteString(fmt.Sprintf("  hostname: %q\n", tsHostname))
		if tsAuthKey != "" {
			cfg.WriteString(fmt.Sprintf("  auth_key: %q\n", tsAuthKey))
		}
		cfg.WriteString(fmt.Sprintf("  ephemeral: %t\n", tsEphemeral))
		cfg.WriteString(fmt.Sprintf("  funnel: %t\n", tsFunnel))
	}
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: %q\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: %q\n", logFormat))

	configDir := filepath.Dir(outputFile)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	// The file carries the adapter secret.
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	dataDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Printf("Data directory: %s\n", dataDir)
	fmt.Println("\nTo start the server:")
	fmt.Printf("  todovex serve\n")

	return nil
}

func isYes(answer string) bool {
	a := strings.ToLower(answer)
	return a == "yes" || a == "y"
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
