// ABOUTME: Entry point for partner-poller
// ABOUTME: Subcommands: serve runs the poller, validate checks config, state prints runtime state

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/partner-poller/internal/app"
	"github.com/2389/partner-poller/internal/config"
	"github.com/2389/partner-poller/internal/runtimestate"
)

// Version is set at build time.
var version = "dev"

const banner = `
                  _
 _ __   __ _ _ __| |_ _ __   ___ _ __      _ __   ___ | | | ___ _ __
| '_ \ / _' | '__| __| '_ \ / _ \ '__|____| '_ \ / _ \| | |/ _ \ '__|
| |_) | (_| | |  | |_| | | |  __/ | |_____| |_) | (_) | | |  __/ |
| .__/ \__,_|_|   \__|_| |_|\___|_|       | .__/ \___/|_|_|\___|_|
|_|                                       |_|
`

func usage() {
	fmt.Println("Usage: partner-poller <command> [-config path]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve      Run the scheduler, agents and observer API")
	fmt.Println("  validate   Load and validate the config file")
	fmt.Println("  state      Print the runtime state file as a table")
	fmt.Println()
	fmt.Println("The config path defaults to $POLLER_CONFIG, then ./config.yaml, ./config.yml, ./config.toml.")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx, os.Args[2:])
	case "validate":
		err = runValidate(os.Args[2:])
	case "state":
		err = runState(os.Args[2:])
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

// loadConfig parses -config from args and loads the resolved file.
func loadConfig(name string, args []string, extra func(*flag.FlagSet)) (*config.Config, string, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	configPath := fs.String("config", "", "path to the config file")
	if extra != nil {
		extra(fs)
	}
	if err := fs.Parse(args); err != nil {
		return nil, "", err
	}

	path, err := config.ResolvePath(*configPath)
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, nil
}

func runServe(ctx context.Context, args []string) error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, configPath, err := loadConfig("serve", args, nil)
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("State:     %s\n", cfg.RuntimeState.Path)
	green.Print("    ▶ ")
	fmt.Printf("Agents:    %d\n", len(cfg.Agents))
	if cfg.Observer.HTTPAddr != "" {
		green.Print("    ▶ ")
		fmt.Printf("HTTP:      %s\n", cfg.Observer.HTTPAddr)
	}
	if cfg.Telemetry.Endpoint != "" {
		green.Print("    ▶ ")
		fmt.Printf("OTLP:      %s\n", cfg.Telemetry.Endpoint)
	}
	fmt.Println()

	logger.Info("starting partner-poller",
		"config", configPath,
		"env", cfg.App.Env,
		"agents", len(cfg.Agents),
		"http_addr", cfg.Observer.HTTPAddr,
	)

	a, err := app.New(ctx, cfg, logger, version)
	if err != nil {
		return fmt.Errorf("creating poller: %w", err)
	}
	return a.Run(ctx)
}

func runValidate(args []string) error {
	cfg, path, err := loadConfig("validate", args, nil)
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	green.Print("✓ ")
	fmt.Printf("%s is valid (%d agents, %d services, %d database profiles)\n",
		path, len(cfg.Agents), len(cfg.Services), len(cfg.Databases.Profiles))
	return nil
}

func runState(args []string) error {
	var file string
	fs := flag.NewFlagSet("state", flag.ContinueOnError)
	fs.StringVar(&file, "file", "", "runtime state file (overrides the config)")
	configPath := fs.String("config", "", "path to the config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if file == "" {
		path, err := config.ResolvePath(*configPath)
		if err != nil {
			return err
		}
		cfg, err := config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		file = cfg.RuntimeState.Path
	}

	snap, err := runtimestate.ReadFile(file)
	if err != nil {
		return err
	}
	printState(os.Stdout, file, snap)
	return nil
}
