// Package npm implements the build tool port for JavaScript projects. The
// package manager is detected from the lockfile in the working directory.
package npm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"

	"github.com/ericfisherdev/staticdeploy/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.BuildTool = (*Tool)(nil)

// PackageManager is a JavaScript package manager binary.
type PackageManager string

const (
	Bun  PackageManager = "bun"
	PNPM PackageManager = "pnpm"
	Yarn PackageManager = "yarn"
	NPM  PackageManager = "npm"
)

// lockfiles in detection order.
var lockfiles = []struct {
	name string
	pm   PackageManager
}{
	{"bun.lockb", Bun},
	{"bun.lock", Bun},
	{"pnpm-lock.yaml", PNPM},
	{"yarn.lock", Yarn},
	{"package-lock.json", NPM},
}

// Runner executes a command in dir with the given environment appended to the
// process environment.
type Runner func(ctx context.Context, dir string, env []string, name string, args ...string) error

// Options configures a Tool.
type Options struct {
	// BuildCommand replaces the package.json build script; it runs through sh -c.
	BuildCommand string
	// Output receives the command output. Defaults to os.Stderr.
	Output io.Writer
	// Runner overrides command execution, mainly for tests.
	Runner Runner
}

// Tool runs dependency installs and builds with the detected package manager.
type Tool struct {
	buildCommand string
	run          Runner
}

// NewTool creates a Tool.
func NewTool(opts Options) *Tool {
	if opts.Output == nil {
		opts.Output = os.Stderr
	}
	run := opts.Runner
	if run == nil {
		run = execRunner(opts.Output)
	}
	return &Tool{buildCommand: opts.BuildCommand, run: run}
}

// Detect returns the package manager for dir, defaulting to npm when only
// package.json is present. It fails when dir has no package.json.
func Detect(dir string) (PackageManager, error) {
	for _, lf := range lockfiles {
		if _, err := os.Stat(filepath.Join(dir, lf.name)); err == nil {
			slog.Debug("detected package manager", "pm", lf.pm, "lockfile", lf.name)
			return lf.pm, nil
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "package.json")); err != nil {
		return "", fmt.Errorf("no package.json in %s: %w", dir, err)
	}
	return NPM, nil
}

// InstallArgs returns the install command line for pm. A clean install
// honours the lockfile strictly.
func InstallArgs(pm PackageManager, clean bool) []string {
	if !clean {
		return []string{"install"}
	}
	switch pm {
	case NPM:
		return []string{"ci"}
	default:
		return []string{"install", "--frozen-lockfile"}
	}
}

// Install installs the project dependencies.
func (t *Tool) Install(ctx context.Context, dir string, clean bool) error {
	pm, err := Detect(dir)
	if err != nil {
		return err
	}

	args := InstallArgs(pm, clean)
	slog.Info("installing dependencies", "pm", pm, "args", args)
	if err := t.run(ctx, dir, nil, string(pm), args...); err != nil {
		return fmt.Errorf("%s %v: %w", pm, args, err)
	}
	return nil
}

// Build runs the environment build. With a build command override it runs
// that through sh -c; otherwise it runs the "build:<environment>" script when
// package.json defines it, and "build" when it does not.
func (t *Tool) Build(ctx context.Context, dir, environment string, env map[string]string) error {
	envList := environ(env)

	if t.buildCommand != "" {
		slog.Info("running build command", "command", t.buildCommand)
		if err := t.run(ctx, dir, envList, "sh", "-c", t.buildCommand); err != nil {
			return fmt.Errorf("build command %q: %w", t.buildCommand, err)
		}
		return nil
	}

	pm, err := Detect(dir)
	if err != nil {
		return err
	}
	scripts, err := readScripts(dir)
	if err != nil {
		return err
	}

	script := "build"
	if _, ok := scripts["build:"+environment]; ok {
		script = "build:" + environment
	} else if _, ok := scripts["build"]; !ok {
		return fmt.Errorf("package.json defines neither build:%s nor build", environment)
	}

	slog.Info("running build script", "pm", pm, "script", script)
	if err := t.run(ctx, dir, envList, string(pm), "run", script); err != nil {
		return fmt.Errorf("%s run %s: %w", pm, script, err)
	}
	return nil
}

func readScripts(dir string) (map[string]string, error) {
	data, err := os.ReadFile(filepath.Join(dir, "package.json"))
	if err != nil {
		return nil, fmt.Errorf("reading package.json: %w", err)
	}

	var pkg struct {
		Scripts map[string]string `json:"scripts"`
	}
	if err := json.Unmarshal(data, &pkg); err != nil {
		return nil, fmt.Errorf("parsing package.json: %w", err)
	}
	return pkg.Scripts, nil
}

// environ renders env as sorted KEY=VALUE pairs.
func environ(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

func execRunner(output io.Writer) Runner {
	return func(ctx context.Context, dir string, env []string, name string, args ...string) error {
		cmd := exec.CommandContext(ctx, name, args...)
		cmd.Dir = dir
		cmd.Env = append(os.Environ(), env...)
		cmd.Stdout = output
		cmd.Stderr = output

		err := cmd.Run()
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("exit status %d", exitErr.ExitCode())
		}
		return err
	}
}
