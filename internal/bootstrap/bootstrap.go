// Package bootstrap registers the brief MCP server with locally installed
// agent CLIs.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

var lookPath = exec.LookPath

// Scopes accepted by the clients that support them.
const (
	ScopeUser    = "user"
	ScopeProject = "project"
)

// Options control client registration.
type Options struct {
	ConfigPath string
	Scope      string
	ServerName string
	ServeCmd   string
	// Clients limits registration to the named clients; empty means all known.
	Clients  []string
	AuditDir string
	DryRun   bool
}

// Command is one external invocation.
type Command struct {
	Name string
	Args []string
}

func (c Command) String() string { return c.Name + " " + strings.Join(c.Args, " ") }

// Runner executes external commands.
type Runner interface {
	Run(ctx context.Context, c Command) error
}

// ExecRunner runs commands with os/exec, forwarding their output.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, c Command) error {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

// client describes how one agent CLI adds and removes MCP servers.
type client struct {
	name   string
	scoped bool
	// dashDash separates the server name from the launch command.
	dashDash bool
}

var knownClients = []client{
	{name: "codex", dashDash: true},
	{name: "claude", scoped: true, dashDash: true},
	{name: "gemini", scoped: true},
}

// KnownClients lists the client names Register understands.
func KnownClients() []string {
	out := make([]string, 0, len(knownClients))
	for _, c := range knownClients {
		out = append(out, c.name)
	}
	return out
}

// Register replaces any existing registration of the server in each
// selected client that is installed, and appends the commands to an audit log.
func Register(ctx context.Context, logger *log.Logger, opts Options, runner Runner) ([]Command, error) {
	if runner == nil {
		runner = ExecRunner{}
	}
	cmds, err := BuildCommands(opts)
	if err != nil {
		return nil, err
	}
	if len(cmds) == 0 {
		return nil, errors.New("no supported MCP client found on PATH")
	}

	audit, err := openAudit(opts.AuditDir)
	if err != nil {
		return nil, err
	}
	defer audit.Close()
	fmt.Fprintf(audit, "# %s register %s\n", opts.ServerName, time.Now().UTC().Format(time.RFC3339))

	for _, c := range cmds {
		fmt.Fprintln(audit, c.String())
		logger.Info("register command", "cmd", c.String(), "dry_run", opts.DryRun)
		if opts.DryRun {
			continue
		}
		if err := runner.Run(ctx, c); err != nil {
			// A missing registration makes remove fail.
			if len(c.Args) > 1 && c.Args[1] == "remove" {
				logger.Debug("ignoring remove error", "cmd", c.String(), "error", err)
				continue
			}
			return cmds, fmt.Errorf("run %q: %w", c.String(), err)
		}
	}
	logger.Info("client registration complete", "clients", len(cmds)/2, "audit_log", audit.Name())
	return cmds, nil
}

// BuildCommands returns remove+add pairs in a fixed client order.
func BuildCommands(opts Options) ([]Command, error) {
	opts = withDefaults(opts)
	if opts.Scope != ScopeUser && opts.Scope != ScopeProject {
		return nil, fmt.Errorf("invalid scope %q (expected user or project)", opts.Scope)
	}
	if strings.TrimSpace(opts.ConfigPath) == "" {
		return nil, errors.New("config path is required")
	}
	launch := strings.Fields(opts.ServeCmd)
	if len(launch) == 0 {
		return nil, errors.New("serve command is required")
	}
	launch = append(launch, "--config", opts.ConfigPath)

	selected, err := selectClients(opts.Clients)
	if err != nil {
		return nil, err
	}

	var cmds []Command
	for _, c := range selected {
		if _, err := lookPath(c.name); err != nil {
			continue
		}
		var scope []string
		if c.scoped {
			scope = []string{"-s", opts.Scope}
		}
		remove := append(append([]string{"mcp", "remove"}, scope...), opts.ServerName)
		add := append(append([]string{"mcp", "add"}, scope...), opts.ServerName)
		if c.dashDash {
			add = append(add, "--")
		}
		cmds = append(cmds,
			Command{Name: c.name, Args: remove},
			Command{Name: c.name, Args: append(add, launch...)},
		)
	}
	return cmds, nil
}

func withDefaults(opts Options) Options {
	if opts.Scope == "" {
		opts.Scope = ScopeUser
	}
	if strings.TrimSpace(opts.ServerName) == "" {
		opts.ServerName = "brief-engine"
	}
	if strings.TrimSpace(opts.ServeCmd) == "" {
		opts.ServeCmd = "brief-engine serve"
	}
	return opts
}

func selectClients(names []string) ([]client, error) {
	if len(names) == 0 {
		return knownClients, nil
	}
	want := map[string]bool{}
	for _, n := range names {
		want[strings.ToLower(strings.TrimSpace(n))] = true
	}
	var out []client
	for _, c := range knownClients {
		if want[c.name] {
			out = append(out, c)
			delete(want, c.name)
		}
	}
	if len(want) > 0 {
		unknown := make([]string, 0, len(want))
		for n := range want {
			unknown = append(unknown, n)
		}
		sort.Strings(unknown)
		return nil, fmt.Errorf("unknown client %q (known: %s)", unknown[0], strings.Join(KnownClients(), ", "))
	}
	return out, nil
}

func openAudit(dir string) (*os.File, error) {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		dir = filepath.Join(home, ".brief-engine")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, "register.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	return f, nil
}
