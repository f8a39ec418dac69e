package driven

import "context"

// BuildTool defines the driven port for the web build tool. Both methods run
// inside dir, the checked-out working directory.
type BuildTool interface {
	// Install materializes dependencies. clean requests a from-scratch install
	// (e.g. "npm ci") instead of an incremental one.
	Install(ctx context.Context, dir string, clean bool) error

	// Build runs the build command for the named environment.
	Build(ctx context.Context, dir string, environment string, env map[string]string) error
}
