package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"syscall"
	"time"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"

	"github.com/greenlight-hq/greenlight/internal/adapter/postgres"
	"github.com/greenlight-hq/greenlight/internal/config"
)

// runAdmin dispatches operational subcommands that run outside the server
// process.
func runAdmin(args []string) error {
	if len(args) == 0 {
		printAdminHelp()
		return errors.New("missing subcommand")
	}

	switch args[0] {
	case "hash-operator-key":
		return adminHashOperatorKey(args[1:])
	case "migrate-status":
		return adminMigrateStatus(args[1:])
	case "help", "-h", "--help":
		printAdminHelp()
		return nil
	default:
		printAdminHelp()
		return fmt.Errorf("unknown subcommand %q", args[0])
	}
}

func printAdminHelp() {
	fmt.Fprintln(os.Stderr, `Usage: greenlight admin <subcommand>

Subcommands:
  hash-operator-key   Prompt for an operator key and print its bcrypt hash.
  migrate-status      Print the current database migration version.`)
}

// adminHashOperatorKey prompts for a key twice and prints the bcrypt hash to
// set as GREENLIGHT_OPERATOR_KEY_HASH (or operator.key_hash in YAML).
func adminHashOperatorKey(args []string) error {
	fs := flag.NewFlagSet("hash-operator-key", flag.ContinueOnError)
	cost := fs.Int("cost", bcrypt.DefaultCost, "bcrypt cost factor")
	if err := fs.Parse(args); err != nil {
		return err
	}

	key, err := promptPassword("Operator key: ")
	if err != nil {
		return err
	}
	if len(key) == 0 {
		return errors.New("key must not be empty")
	}
	confirm, err := promptPassword("Confirm key:  ")
	if err != nil {
		return err
	}
	if string(key) != string(confirm) {
		return errors.New("keys do not match")
	}

	hash, err := bcrypt.GenerateFromPassword(key, *cost)
	if err != nil {
		return fmt.Errorf("hash: %w", err)
	}

	fmt.Println(string(hash))
	return nil
}

func promptPassword(prompt string) ([]byte, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("read key: %w", err)
	}
	return b, nil
}

// adminMigrateStatus prints the schema version the configured database is at.
func adminMigrateStatus(args []string) error {
	fs := flag.NewFlagSet("migrate-status", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	version, err := postgres.MigrationVersion(ctx, cfg.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("migration version: %w", err)
	}

	fmt.Printf("migration version: %d\n", version)
	return nil
}
