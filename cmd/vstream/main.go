// vstream inspects, produces and decodes vstream binary streams.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"

	"github.com/spf13/pflag"
)

// Command is one vstream subcommand
type Command interface {
	Name() string
	Summary() string
	DefineFlags(fs *pflag.FlagSet)
	Execute(ctx context.Context, env *Env, args []string) error
}

// Env is the process surface a command runs against
type Env struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// CommandRegistry holds all available commands
type CommandRegistry struct {
	commands map[string]Command
}

func NewCommandRegistry() *CommandRegistry {
	registry := &CommandRegistry{
		commands: make(map[string]Command),
	}

	registry.Register(&InspectCmd{})
	registry.Register(&EncodeCmd{})
	registry.Register(&DecodeCmd{})
	registry.Register(&HashCmd{})

	return registry
}

func (r *CommandRegistry) Register(cmd Command) {
	r.commands[cmd.Name()] = cmd
}

func (r *CommandRegistry) Get(name string) (Command, bool) {
	cmd, exists := r.commands[name]
	return cmd, exists
}

func (r *CommandRegistry) ListCommands() []string {
	var names []string
	for name := range r.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *CommandRegistry) ExecuteCommand(ctx context.Context, env *Env, cmdName string, args []string) error {
	cmd, exists := r.Get(cmdName)
	if !exists {
		return fmt.Errorf("unknown command: %s", cmdName)
	}

	fs := pflag.NewFlagSet("vstream "+cmdName, pflag.ContinueOnError)
	fs.SetOutput(env.Stderr)
	cmd.DefineFlags(fs)
	fs.Usage = func() {
		fmt.Fprintf(env.Stderr, "Usage: vstream %s [flags] [args...]\n\n%s\n", cmdName, cmd.Summary())
		if fs.HasFlags() {
			fmt.Fprintf(env.Stderr, "\nFlags:\n%s", fs.FlagUsages())
		}
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	return cmd.Execute(ctx, env, fs.Args())
}

func main() {
	env := &Env{Stdin: os.Stdin, Stdout: os.Stdout, Stderr: os.Stderr}
	if err := run(context.Background(), env, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, env *Env, args []string) error {
	registry := NewCommandRegistry()

	if len(args) == 0 || args[0] == "--help" || args[0] == "-h" || args[0] == "help" {
		printGlobalHelp(env.Stdout, registry)
		return nil
	}
	return registry.ExecuteCommand(ctx, env, args[0], args[1:])
}

func printGlobalHelp(w io.Writer, registry *CommandRegistry) {
	fmt.Fprint(w, `vstream - inspect and convert vstream binary streams

Usage:
  vstream <command> [flags] [args...]

Commands:
`)
	for _, name := range registry.ListCommands() {
		cmd, _ := registry.Get(name)
		fmt.Fprintf(w, "  %-8s %s\n", name, cmd.Summary())
	}
	fmt.Fprint(w, `
Examples:
  echo '{"name": "SampleUser", /* age */ "age": 32}' | vstream encode > doc.vs
  vstream inspect doc.vs
  vstream decode < doc.vs
  vstream hash 'example.com/orders.Order'

Use 'vstream <command> --help' for command-specific help.
`)
}

// newLogger builds the stderr logger shared by the commands
func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
