package secret

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"
)

// ErrNotFound is returned by a Keyring when no entry exists for a key.
var ErrNotFound = errors.New("secret not found in keyring")

// Keyring is the keyring capability: get, set and delete a value by key.
type Keyring interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Delete(key string) error
}

// CommandResult holds the outcome of a finished command.
type CommandResult struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Runner is the command execution capability. Run returns an error only
// when the process could not be spawned; a non-zero exit is reported
// through CommandResult.ExitCode.
type Runner interface {
	Run(ctx context.Context, argv []string) (CommandResult, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	// Timeout bounds each command when positive.
	Timeout time.Duration
}

// Run executes argv and captures its output.
func (r ExecRunner) Run(ctx context.Context, argv []string) (CommandResult, error) {
	if len(argv) == 0 {
		return CommandResult{}, errors.New("empty command")
	}

	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := CommandResult{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return res, nil
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	default:
		return res, err
	}
}

// Env bundles the capabilities a Source needs to resolve itself.
type Env struct {
	Runner  Runner
	Keyring Keyring
}

func (e Env) runner() Runner {
	if e.Runner == nil {
		return ExecRunner{}
	}
	return e.Runner
}
