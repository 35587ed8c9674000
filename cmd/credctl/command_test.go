// Copyright 2025 Certen Protocol

package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestCommandRegistryExecuteDispatchesByName(t *testing.T) {
	r := NewCommandRegistry()
	called := false
	r.Register(&Command{
		Name: "ping",
		Run: func(args []string) error {
			called = true
			return nil
		},
	})

	if err := r.Execute([]string{"ping"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("expected ping command to run")
	}
}

func TestCommandRegistryExecutePassesArgsThrough(t *testing.T) {
	r := NewCommandRegistry()
	var got []string
	r.Register(&Command{
		Name: "echo",
		Run: func(args []string) error {
			got = args
			return nil
		},
	})

	if err := r.Execute([]string{"echo", "a", "b"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("expected args [a b], got %v", got)
	}
}

func TestCommandRegistryExecuteUnknownCommand(t *testing.T) {
	r := NewCommandRegistry()
	r.Register(&Command{Name: "ping", Run: func(args []string) error { return nil }})

	if err := r.Execute([]string{"bogus"}); err == nil {
		t.Fatal("expected error for unknown command")
	}
}

func TestCommandRegistryExecuteNoArgsReturnsError(t *testing.T) {
	r := NewCommandRegistry()
	r.Register(&Command{Name: "ping", Run: func(args []string) error { return nil }})

	if err := r.Execute(nil); err == nil {
		t.Fatal("expected an error when no command is given")
	}
}

func TestCommandRegistryExecuteHelpFlagVariants(t *testing.T) {
	r := NewCommandRegistry()
	r.Register(&Command{Name: "ping", Run: func(args []string) error { return nil }})

	for _, args := range [][]string{{"help"}, {"-h"}, {"--help"}} {
		if err := r.Execute(args); err != nil {
			t.Fatalf("args %v: unexpected error %v", args, err)
		}
	}
}

func TestCommandRegistryPropagatesRunError(t *testing.T) {
	r := NewCommandRegistry()
	want := errors.New("boom")
	r.Register(&Command{Name: "fail", Run: func(args []string) error { return want }})

	err := r.Execute([]string{"fail"})
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func TestCommandRegistryPrintHelpListsInRegistrationOrder(t *testing.T) {
	r := NewCommandRegistry()
	r.Register(&Command{Name: "first", Description: "first command", Run: func(args []string) error { return nil }})
	r.Register(&Command{Name: "second", Description: "second command", Run: func(args []string) error { return nil }})

	var buf bytes.Buffer
	r.PrintHelp(&buf)

	out := buf.String()
	firstIdx := strings.Index(out, "first")
	secondIdx := strings.Index(out, "second")
	if firstIdx < 0 || secondIdx < 0 || firstIdx > secondIdx {
		t.Fatalf("expected 'first' to appear before 'second' in help output, got:\n%s", out)
	}
}

func TestCommandNewFlagSetUsesCommandName(t *testing.T) {
	cmd := &Command{Name: "issue", Description: "Issue a credential"}
	fs := cmd.NewFlagSet()
	if fs.Name() != "issue" {
		t.Fatalf("expected flag set name %q, got %q", "issue", fs.Name())
	}
}
