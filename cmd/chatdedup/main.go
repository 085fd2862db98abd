// Package main contains the chatdedup command-line entrypoint.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	errs "github.com/edgard/chatdedup/internal/errors"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()

	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps an error to the process exit status: 2 for bad input or
// configuration, 1 for everything else.
func exitCode(err error) int {
	switch errs.Code(err) {
	case errs.CodeValidation, errs.CodeConfig:
		return 2
	default:
		return 1
	}
}
