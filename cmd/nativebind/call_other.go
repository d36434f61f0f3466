//go:build !(darwin || freebsd || linux)

package main

import (
	"context"
	"fmt"
	"runtime"

	"github.com/urfave/cli/v3"
)

func callAction(ctx context.Context, cmd *cli.Command) error {
	return fmt.Errorf("native calls are not supported on %s", runtime.GOOS)
}
