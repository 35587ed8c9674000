// Copyright 2025 Certen Protocol

package main

import (
	"flag"
	"fmt"
	"net/http"
)

func serveMetricsCommand(args []string) error {
	fs := flag.NewFlagSet("serve-metrics", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	app, err := newApp()
	if err != nil {
		return err
	}
	defer closeApp(app)

	addr := app.Config.MetricsAddr
	app.Logger.Info("serving metrics", "addr", addr)
	fmt.Printf("serving /metrics on %s\n", addr)
	return http.ListenAndServe(addr, app.Telemetry.Handler())
}
