// Copyright 2025 Certen Protocol
//
// credctl is the trust core's operator CLI: key rotation, credential
// issuance, sealed-credential management, circuit/policy registry
// maintenance, envelope validation, and cache upkeep. Grounded on
// sufield-e5s/cmd/e5s's subcommand-dispatch main.go.

package main

import (
	"fmt"
	"os"
)

func main() {
	registry := NewCommandRegistry()
	registerCommands(registry)

	if err := registry.Execute(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func registerCommands(r *CommandRegistry) {
	r.Register(&Command{
		Name:        "rotate-key",
		Description: "Rotate the issuer signing key",
		Usage:       "credctl rotate-key --alg <ed25519|es256>",
		Examples:    []string{"credctl rotate-key --alg ed25519"},
		Run:         rotateKeyCommand,
	})

	r.Register(&Command{
		Name:        "retire-key",
		Description: "Retire an issuer signing key",
		Usage:       "credctl retire-key --reason <reason> --actor <actor> <key-id>",
		Examples:    []string{"credctl retire-key --reason compromised --actor ops@example.com 8f1c..."},
		Run:         retireKeyCommand,
	})

	r.Register(&Command{
		Name:        "issue",
		Description: "Issue a credential under the current signing key",
		Usage:       "credctl issue --subject <id> --policy <id> --policy-version <v> --claims <file.json> --ttl <duration>",
		Examples:    []string{"credctl issue --subject alice --policy age_gate --policy-version 1.2.0 --claims claims.json --ttl 720h"},
		Run:         issueCommand,
	})

	r.Register(&Command{
		Name:        "seal",
		Description: "Seal an encoded credential into the sealed store",
		Usage:       "credctl seal --policy <id> <credential-wire-file>",
		Examples:    []string{"credctl seal --policy age_gate credential.jwt"},
		Run:         sealCommand,
	})

	r.Register(&Command{
		Name:        "open",
		Description: "Open a sealed credential back to its wire form",
		Usage:       "credctl open <credential-id>",
		Examples:    []string{"credctl open 3f9e4c21-...-000000000000"},
		Run:         openCommand,
	})

	r.Register(&Command{
		Name:        "load-circuit",
		Description: "Load and verify a circuit manifest and its artifacts",
		Usage:       "credctl load-circuit <circuit-id> <version>",
		Examples:    []string{"credctl load-circuit age_over_18 1.0.0"},
		Run:         loadCircuitCommand,
	})

	r.Register(&Command{
		Name:        "validate",
		Description: "Validate a proof envelope against the trust core",
		Usage:       "credctl validate --origin <origin> --credential <credential-wire-file> <envelope-file>",
		Examples:    []string{"credctl validate --origin https://example.com --credential credential.jwt envelope.json"},
		Run:         validateCommand,
	})

	r.Register(&Command{
		Name:        "sweep",
		Description: "Sweep expired key registry entries and replay-cache nonces",
		Usage:       "credctl sweep",
		Examples:    []string{"credctl sweep"},
		Run:         sweepCommand,
	})

	r.Register(&Command{
		Name:        "serve-metrics",
		Description: "Serve the Prometheus /metrics scrape endpoint",
		Usage:       "credctl serve-metrics",
		Examples:    []string{"credctl serve-metrics"},
		Run:         serveMetricsCommand,
	})

	r.Register(&Command{
		Name:        "help",
		Description: "Show help information",
		Usage:       "credctl help [command]",
		Examples:    []string{"credctl help", "credctl help issue"},
		Run: func(args []string) error {
			r.PrintHelp(os.Stdout)
			return nil
		},
	})
}
