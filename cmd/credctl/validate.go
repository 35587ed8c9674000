// Copyright 2025 Certen Protocol

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/certen/credential-core/pkg/envelope"
)

// validateCommand validates a proof envelope end to end. The relying
// party's envelope.Directory starts empty on every process invocation,
// so this command registers the local device signer's own public key
// under its own device tag before validating — the workable answer for
// a one-shot CLI exercising the full issue/seal/validate loop against a
// single local device identity. A deployment validating envelopes from
// many remote devices populates the directory out of band instead.
func validateCommand(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	origin := fs.String("origin", "", "expected envelope origin")
	credentialPath := fs.String("credential", "", "path to the credential wire form the envelope was built against")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		fs.Usage()
		return fmt.Errorf("envelope file required")
	}
	if *origin == "" || *credentialPath == "" {
		return fmt.Errorf("--origin and --credential are required")
	}

	envRaw, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("read envelope file: %w", err)
	}
	var env envelope.Envelope
	if err := json.Unmarshal(envRaw, &env); err != nil {
		return fmt.Errorf("parse envelope file: %w", err)
	}

	credRaw, err := os.ReadFile(*credentialPath)
	if err != nil {
		return fmt.Errorf("read credential file: %w", err)
	}

	app, err := newApp()
	if err != nil {
		return err
	}
	defer closeApp(app)

	pub, err := app.DeviceSigner.PublicKey()
	if err != nil {
		return err
	}
	app.Directory.Register(envelope.DeviceTagFor(pub), pub)

	result, err := app.newValidator().Validate(context.Background(), &env, *origin, string(credRaw))
	if err != nil {
		return err
	}

	fmt.Printf("valid: policy %s@%s claim_result=%v validated_at=%s origin=%s\n",
		result.PolicyID, result.PolicyVersion, result.ClaimResultBit, result.ValidatedAt.Format("2006-01-02T15:04:05Z07:00"), result.Origin)
	return nil
}
