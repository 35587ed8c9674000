// Copyright 2025 Certen Protocol

package main

import (
	"context"
	"flag"
	"fmt"
)

func sweepCommand(args []string) error {
	fs := flag.NewFlagSet("sweep", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	app, err := newApp()
	if err != nil {
		return err
	}
	defer closeApp(app)

	ctx := context.Background()

	retiredKeys := app.Keys.Sweep(ctx)

	noncesRemoved, err := app.NonceCache.Sweep(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("swept: %d key registry entr(y/ies) retired, %d expired nonce(s) removed\n", retiredKeys, noncesRemoved)
	return nil
}
