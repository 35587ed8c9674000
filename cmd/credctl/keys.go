// Copyright 2025 Certen Protocol

package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/google/uuid"

	"github.com/certen/credential-core/pkg/keyregistry"
)

func rotateKeyCommand(args []string) error {
	fs := flag.NewFlagSet("rotate-key", flag.ExitOnError)
	alg := fs.String("alg", "ed25519", "signing algorithm: ed25519 or es256")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var algorithm keyregistry.Algorithm
	switch *alg {
	case "ed25519":
		algorithm = keyregistry.AlgorithmEd25519
	case "es256":
		algorithm = keyregistry.AlgorithmES256
	default:
		return fmt.Errorf("unknown algorithm %q (want ed25519 or es256)", *alg)
	}

	app, err := newApp()
	if err != nil {
		return err
	}
	defer closeApp(app)

	key, err := app.Keys.Rotate(context.Background(), algorithm)
	if err != nil {
		return err
	}

	fmt.Printf("rotated: new current key %s (%s)\n", key.ID, key.Algorithm)
	return nil
}

func retireKeyCommand(args []string) error {
	fs := flag.NewFlagSet("retire-key", flag.ExitOnError)
	reason := fs.String("reason", "", "retirement reason")
	actor := fs.String("actor", "", "operator identity performing the retirement")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		fs.Usage()
		return fmt.Errorf("key id required")
	}
	kid, err := uuid.Parse(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("invalid key id: %w", err)
	}

	app, err := newApp()
	if err != nil {
		return err
	}
	defer closeApp(app)

	if err := app.Keys.Retire(context.Background(), kid, *reason, *actor); err != nil {
		return err
	}

	fmt.Printf("retired: key %s\n", kid)
	return nil
}
