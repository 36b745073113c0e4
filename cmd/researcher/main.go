package main

import (
	"os"

	"github.com/joho/godotenv"
)

func main() {
	// .env is optional; real environment variables win
	_ = godotenv.Load()

	if err := rootCMD().Execute(); err != nil {
		os.Exit(1)
	}
}
