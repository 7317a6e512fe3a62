package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
)

// Invocation is the argument list handed to the annotation tool
type Invocation struct {
	InputPath string
	WorkDir   string
	UserID    string
	JobID     string
	UserEmail string
}

// Args returns the positional arguments in the order the tool expects
func (i Invocation) Args() []string {
	return []string{i.InputPath, i.WorkDir, i.UserID, i.JobID, i.UserEmail}
}

// Tool runs the annotation step for one job, writing its outputs to WorkDir
type Tool interface {
	Run(ctx context.Context, inv Invocation) error
}

// CommandTool runs an external executable with the invocation appended to
// its arguments
type CommandTool struct {
	Command []string
	Dir     string
}

// NewCommandTool creates a tool from a command line such as
// ["python", "/opt/anntools/run.py"]
func NewCommandTool(command []string) (*CommandTool, error) {
	if len(command) == 0 {
		return nil, errors.New("annotator command is empty")
	}
	return &CommandTool{Command: command}, nil
}

// Run executes the command and waits for it to exit
func (t *CommandTool) Run(ctx context.Context, inv Invocation) error {
	args := append(append([]string{}, t.Command[1:]...), inv.Args()...)
	cmd := exec.CommandContext(ctx, t.Command[0], args...)
	cmd.Dir = t.Dir

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("annotator for job %s: %w: %s", inv.JobID, err, tail(output.Bytes(), 512))
	}
	return nil
}

// tail returns at most n trailing bytes of b
func tail(b []byte, n int) string {
	if len(b) > n {
		b = b[len(b)-n:]
	}
	return string(bytes.TrimSpace(b))
}
