// Copyright 2025 Certen Protocol

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/certen/credential-core/pkg/credential"
)

func issueCommand(args []string) error {
	fs := flag.NewFlagSet("issue", flag.ExitOnError)
	subjectHash := fs.String("subject", "", "subject id hash (already hashed by the identity provider)")
	policyID := fs.String("policy", "", "policy id")
	policyVersion := fs.String("policy-version", "", "policy version")
	claimsPath := fs.String("claims", "", "path to a JSON file of attribute claims")
	deviceTag := fs.String("device-tag", "", "device tag commitment to bind the credential to")
	ttl := fs.Duration("ttl", 24*time.Hour, "credential time-to-live")
	out := fs.String("out", "", "write the encoded credential wire form to this file instead of stdout")
	fs.Usage = func() {
		fmt.Println(`Issue a credential under the current signing key

USAGE:
    credctl issue --subject <hash> --policy <id> --policy-version <v> --claims <file.json> [--device-tag <tag>] [--ttl <duration>] [--out <file>]`)
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *subjectHash == "" || *policyID == "" || *policyVersion == "" {
		fs.Usage()
		return fmt.Errorf("--subject, --policy, and --policy-version are required")
	}

	attributes := map[string]interface{}{}
	if *claimsPath != "" {
		raw, err := os.ReadFile(*claimsPath)
		if err != nil {
			return fmt.Errorf("read claims file: %w", err)
		}
		if err := json.Unmarshal(raw, &attributes); err != nil {
			return fmt.Errorf("parse claims file: %w", err)
		}
	}

	app, err := newApp()
	if err != nil {
		return err
	}
	defer closeApp(app)

	identity := credential.IdentityClaims{SubjectIDHash: *subjectHash, Attributes: attributes}
	encoded, cred, err := app.Factory.Issue(context.Background(), identity, *policyID, *policyVersion, *deviceTag, *ttl)
	if err != nil {
		return err
	}

	wire := encoded.String()
	if *out != "" {
		if err := os.WriteFile(*out, []byte(wire), 0o600); err != nil {
			return fmt.Errorf("write credential: %w", err)
		}
		fmt.Printf("issued: credential %s written to %s\n", cred.ID, *out)
		return nil
	}

	fmt.Println(wire)
	return nil
}
