// Package main is the entry point for the vkb CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/XuanZiK/V-knowledge/cmd/vkb/cmd"
	vkberrors "github.com/XuanZiK/V-knowledge/internal/errors"
)

func main() {
	// A missing .env is normal.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cmd.Execute(ctx)
	stop()
	if err != nil {
		fmt.Fprint(os.Stderr, vkberrors.FormatForCLI(err))
		os.Exit(1)
	}
}
