// Command taxcheck audits NF-e XML files offline with the same rules the
// tax specialist agent uses.
package main

import (
	"os"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
