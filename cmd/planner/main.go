package main

import (
	"context"
	"os"
)

// Version is set at build time via -ldflags "-X main.Version=..."
var Version = "dev"

func main() {
	os.Exit(Run(context.Background(), os.Args[1:]))
}
