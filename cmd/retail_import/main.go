package main

import (
	"context"
	"log/slog"
	"os"
)

func main() {
	cmd := newRootCommand()
	err := cmd.ExecuteContext(context.Background())
	if err != nil {
		slog.Error("retail import failed", "error", err)
	}
	os.Exit(exitCode(err))
}
