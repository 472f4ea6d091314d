// Command ledgerline runs configured ETL jobs and manages their status
// ledger.
package main

import (
	"context"
	"os"

	"github.com/joho/godotenv"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	os.Exit(execute(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}
