package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/livefeed/lode"
	"github.com/justapithecus/livefeed/lserr"
	"github.com/justapithecus/livefeed/policy"
)

// Exit codes.
const (
	exitSuccess    = 0
	exitUsage      = 1 // bad flags, config, or arguments
	exitAuth       = 2 // gateway rejected the credentials
	exitConnection = 3 // transport failure, stale feed, or reconnects exhausted
	exitGateway    = 4 // gateway error record or protocol violation
	exitStorage    = 5 // capture storage failed
)

// exitCode maps a session error to a process exit code. The outermost
// classification wins, so an exhausted reconnect caused by an auth
// rejection still exits with exitConnection.
func exitCode(err error) int {
	if err == nil || errors.Is(err, context.Canceled) {
		return exitSuccess
	}
	var storageErr *lode.StorageError
	if errors.As(err, &storageErr) || errors.Is(err, policy.ErrBufferFull) {
		return exitStorage
	}
	switch lserr.KindOf(err) {
	case lserr.ErrAuth:
		return exitAuth
	case lserr.ErrTransport, lserr.ErrStale, lserr.ErrReconnectExhausted:
		return exitConnection
	case lserr.ErrGateway, lserr.ErrProtocol:
		return exitGateway
	default:
		return exitUsage
	}
}

// exitErr wraps err in a cli.ExitCoder carrying its exit code.
// Returns nil for errors that map to success.
func exitErr(err error) error {
	code := exitCode(err)
	if code == exitSuccess {
		return nil
	}
	return cli.Exit(err.Error(), code)
}

// usageErr reports a configuration problem with exitUsage.
func usageErr(format string, args ...any) error {
	return cli.Exit(fmt.Sprintf(format, args...), exitUsage)
}
