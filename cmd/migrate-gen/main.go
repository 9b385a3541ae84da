// Command migrate-gen generates SQL migration files that create the ledger
// and lock tables.
//
// Usage:
//
//	go run github.com/getpup/docledger/cmd/migrate-gen -output migrations -filename init.sql
//
// Or with go generate:
//
//	//go:generate go run github.com/getpup/docledger/cmd/migrate-gen -output migrations
//
// Generate migrations for different database adapters:
//
//	go run github.com/getpup/docledger/cmd/migrate-gen -adapter postgres -output migrations
//	go run github.com/getpup/docledger/cmd/migrate-gen -adapter mysql -output migrations
//	go run github.com/getpup/docledger/cmd/migrate-gen -adapter sqlite -output migrations
//
// Customize table names:
//
//	go run github.com/getpup/docledger/cmd/migrate-gen -base-name releaselog -output migrations
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/getpup/docledger"
	"github.com/getpup/docledger/pkg/migrations"
	"github.com/getpup/docledger/store/sqlstore"
)

func main() {
	var (
		adapter        = flag.String("adapter", "postgres", "Database adapter: postgres, mysql, or sqlite")
		outputFolder   = flag.String("output", "migrations", "Output folder for migration file")
		outputFilename = flag.String("filename", "", "Output filename (default: timestamp-based)")
		baseName       = flag.String("base-name", docledger.DefaultBaseName, "Base name of the ledger table; the lock table appends 'lock'")
	)

	flag.Parse()

	dialect, err := sqlstore.DialectFor(*adapter)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	config := migrations.DefaultConfig()
	config.OutputFolder = *outputFolder
	config.LedgerTable, config.LockTable = docledger.CollectionNames(*baseName)

	if *outputFilename != "" {
		config.OutputFilename = *outputFilename
	}

	if err := migrations.Generate(dialect, &config); err != nil {
		fmt.Fprintf(os.Stderr, "Error generating migration: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Generated %s migration: %s/%s\n", dialect.Name, config.OutputFolder, config.OutputFilename)
}
