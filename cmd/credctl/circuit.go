// Copyright 2025 Certen Protocol

package main

import (
	"context"
	"flag"
	"fmt"
)

func loadCircuitCommand(args []string) error {
	fs := flag.NewFlagSet("load-circuit", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 2 {
		fs.Usage()
		return fmt.Errorf("circuit id and version required")
	}
	circuitID, version := fs.Arg(0), fs.Arg(1)

	app, err := newApp()
	if err != nil {
		return err
	}
	defer closeApp(app)

	if app.CircuitLoader == nil {
		return fmt.Errorf("no circuit artifact directory configured (CERTEN_CIRCUIT_ARTIFACT_DIR)")
	}

	circuit, err := app.CircuitLoader.Load(context.Background(), circuitID, version)
	if err != nil {
		return err
	}

	fmt.Printf("loaded: circuit %s@%s (prover %d bytes, built %d, builder %s)\n",
		circuit.CircuitID, circuit.Version, len(circuit.ProverBytes), circuit.Manifest.BuildTimestamp, circuit.Manifest.Builder.Name)
	return nil
}
