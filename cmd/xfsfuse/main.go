// Command xfsfuse mounts a read-only XFS v5 disk image via FUSE.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"github.com/distr1/xfsfuse/internal/fuse"
)

func logic() error {
	join, unmount, err := fuse.Mount(context.Background(), os.Args[1:])
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	var eg errgroup.Group
	eg.Go(func() error {
		defer cancel()
		return join(ctx)
	})
	eg.Go(func() error {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGTERM)
		select {
		case <-sigc:
			return unmount()
		case <-ctx.Done():
			return nil
		}
	})
	if err := eg.Wait(); err != nil {
		return xerrors.Errorf("Join: %w", err)
	}
	return nil
}

func main() {
	if err := logic(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
