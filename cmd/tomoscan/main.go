package main

import (
	"github.com/joho/godotenv"
)

func main() {
	// A .env file can carry TOMOSCAN_* settings; running without one is
	// fine.
	_ = godotenv.Load()

	Execute()
}
