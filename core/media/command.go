package media

import (
	"bytes"
	"context"
	"errors"
	"os/exec"

	"chunk-transcriber/core/models"
)

// commandResult is an internal process execution response
type commandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// commandRunner abstracts process execution for testability
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (commandResult, error)
}

// execRunner executes commands via os/exec
type execRunner struct{}

// Run executes one command and captures stdout/stderr and exit code
func (r *execRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := commandResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		return result, err
	}
	return result, nil
}

// commandLog trims a result into the form carried by decode errors
func commandLog(name string, args []string, res commandResult) models.CommandLog {
	stderr := res.Stderr
	if len(stderr) > 2048 {
		stderr = stderr[len(stderr)-2048:]
	}
	return models.CommandLog{
		Command:  name,
		Args:     args,
		ExitCode: res.ExitCode,
		Stderr:   stderr,
	}
}
