// Package main provides a standalone operator CLI over the embedded
// schema migrations every tenant database runs at worker startup: same
// migration set, same Deployer, pointed at one DATABASE_URL/SCHEMA_NAME
// pair for manual inspection and recovery.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/correlator-io/correlator/internal/config"
	"github.com/correlator-io/correlator/internal/dbconn"
	"github.com/correlator-io/correlator/internal/schemadeploy"
)

const (
	version = "1.0.0-dev"
	name    = "migrator"
)

func main() {
	showHelp := flag.Bool("help", false, "Show help information")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	if *showHelp || flag.NArg() < 1 {
		printUsage()
		os.Exit(0)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	if err := run(flag.Arg(0), logger); err != nil {
		log.Fatalf("migrator: %v", err)
	}
}

func run(command string, logger *slog.Logger) error {
	databaseURL := config.GetEnvStr("DATABASE_URL", "")
	if databaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	schema := config.GetEnvStr("SCHEMA_NAME", "public")

	conn, err := dbconn.New(dbconn.NewConfig(databaseURL))
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer func() { _ = conn.Close() }()

	deployer, err := schemadeploy.NewDeployer(logger)
	if err != nil {
		return fmt.Errorf("loading embedded migrations: %w", err)
	}

	ctx := context.Background()

	switch command {
	case "up":
		return deployer.Deploy(ctx, conn, schema)
	case "down":
		return deployer.Down(ctx, conn, schema)
	case "version":
		v, dirty, err := deployer.Version(ctx, conn, schema)
		if err != nil {
			return err
		}

		fmt.Printf("schema=%s version=%d dirty=%t\n", schema, v, dirty)

		return nil
	case "drop":
		fmt.Print("WARNING: this drops every migrated object in schema " + schema + ". Are you sure? (y/N): ")

		var response string

		_, _ = fmt.Scanln(&response)

		if response != "y" && response != "Y" {
			fmt.Println("Operation cancelled.")

			return nil
		}

		return deployer.Drop(ctx, conn, schema)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

func printUsage() {
	fmt.Printf(`%s v%s - schema migration CLI

USAGE:
    %s [OPTIONS] COMMAND

COMMANDS:
    up       Apply all pending migrations
    down     Roll back the single most recent migration
    version  Show the currently applied migration version
    drop     Drop every migrated object (requires confirmation)

OPTIONS:
    --help     Show this help message
    --version  Show version information

ENVIRONMENT VARIABLES:
    DATABASE_URL  PostgreSQL connection string (required)
    SCHEMA_NAME   Schema to migrate (default: public)
`, name, version, name)
}
