// Command pilethost discovers pilethost-cli-* plugins, loads them into one
// session and renders or serves what they contribute.
package main

//	@title						pilethost inspector API
//	@version					0.1.0
//	@description				Read-only view of a pilethost session.
//	@BasePath					/
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				Inspector token from "pilethost token". Format: "Bearer {token}"

import (
	"context"
	"errors"
	"fmt"
	"os"

	_ "github.com/HerbHall/pilethost/api/swagger"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		var exitErr *exitError
		if errors.As(err, &exitErr) {
			if exitErr.err != nil {
				fmt.Fprintln(os.Stderr, "error:", exitErr.err)
			}
			os.Exit(exitErr.code)
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// exitError carries a specific process exit code out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return fmt.Sprintf("exit status %d", e.code)
}

func (e *exitError) Unwrap() error { return e.err }
