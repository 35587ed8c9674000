// Copyright 2025 Certen Protocol

package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/google/uuid"
)

func sealCommand(args []string) error {
	fs := flag.NewFlagSet("seal", flag.ExitOnError)
	policyID := fs.String("policy", "", "policy id the credential was issued under")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		fs.Usage()
		return fmt.Errorf("credential wire file required")
	}
	if *policyID == "" {
		return fmt.Errorf("--policy is required")
	}

	raw, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("read credential file: %w", err)
	}

	app, err := newApp()
	if err != nil {
		return err
	}
	defer closeApp(app)

	id, err := app.SealedStore.Seal(string(raw), *policyID)
	if err != nil {
		return err
	}

	fmt.Printf("sealed: credential id %s\n", id)
	return nil
}

func openCommand(args []string) error {
	fs := flag.NewFlagSet("open", flag.ExitOnError)
	out := fs.String("out", "", "write the decrypted credential wire form to this file instead of stdout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		fs.Usage()
		return fmt.Errorf("credential id required")
	}
	id, err := uuid.Parse(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("invalid credential id: %w", err)
	}

	app, err := newApp()
	if err != nil {
		return err
	}
	defer closeApp(app)

	wire, err := app.SealedStore.Open(id)
	if err != nil {
		return err
	}

	if *out != "" {
		if err := os.WriteFile(*out, []byte(wire), 0o600); err != nil {
			return fmt.Errorf("write credential: %w", err)
		}
		fmt.Printf("opened: credential %s written to %s\n", id, *out)
		return nil
	}

	fmt.Println(wire)
	return nil
}
