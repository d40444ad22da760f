package main

import (
	"log/slog"
	"os"

	"github.com/bonnefoa/pgcachectl/app"
)

func main() {
	if err := app.Execute(); err != nil {
		slog.Error("Run error", "error", err)
		os.Exit(1)
	}
}
