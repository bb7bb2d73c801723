package main

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/rustyeddy/advisor/cmd/advisor/cmd"
)

func main() {
	// Optional .env for secrets like TELEGRAM_TOKEN.
	_ = godotenv.Load()

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
