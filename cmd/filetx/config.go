package main

// config.go - Command handlers for config

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/pinboard/filetx/config"
)

func handleConfigCommand(args []string) {
	if len(args) == 0 {
		printConfigUsage()
		os.Exit(1)
	}

	switch args[0] {
	case "validate":
		handleConfigValidate(args[1:])
	case "dump":
		handleConfigDump(args[1:])
	case "--help", "-h", "help":
		printConfigUsage()
	default:
		fmt.Printf("Unknown config subcommand: %s\n\n", args[0])
		printConfigUsage()
		os.Exit(1)
	}
}

func printConfigUsage() {
	fmt.Printf(`Configuration management

Usage:
  filetx config <subcommand> [options]

Subcommands:
  validate   Check configuration syntax and settings
  dump       Print the effective configuration (secrets masked)

Examples:
  filetx config validate --config /etc/filetx/config.toml
  filetx config dump --config /etc/filetx/config.toml
`)
}

func handleConfigValidate(args []string) {
	fs := flag.NewFlagSet("config validate", flag.ExitOnError)
	configPath := fs.String("config", "config.toml", "Path to TOML configuration file")
	if err := fs.Parse(args); err != nil {
		log.Fatalf("Error parsing flags: %v", err)
	}

	cfg := config.NewDefaultConfig()
	if err := config.LoadConfigFromFile(*configPath, &cfg); err != nil {
		fmt.Printf("Configuration file '%s' could not be loaded:\n%v\n", *configPath, err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Printf("Configuration file '%s' is invalid:\n", *configPath)
		for _, line := range strings.Split(err.Error(), "\n") {
			fmt.Printf("  - %s\n", line)
		}
		os.Exit(1)
	}

	fmt.Printf("Configuration file '%s' is valid\n", *configPath)
}

func handleConfigDump(args []string) {
	fs := flag.NewFlagSet("config dump", flag.ExitOnError)
	configPath := fs.String("config", "config.toml", "Path to TOML configuration file")
	if err := fs.Parse(args); err != nil {
		log.Fatalf("Error parsing flags: %v", err)
	}

	cfg := config.NewDefaultConfig()
	if err := config.LoadConfigFromFile(*configPath, &cfg); err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := toml.NewEncoder(os.Stdout).Encode(maskSecrets(cfg)); err != nil {
		log.Fatalf("Failed to encode configuration: %v", err)
	}
}

// maskSecrets returns a copy of cfg that is safe to print.
func maskSecrets(cfg config.Config) config.Config {
	if cfg.S3.SecretKey != "" {
		cfg.S3.SecretKey = "********"
	}
	return cfg
}
