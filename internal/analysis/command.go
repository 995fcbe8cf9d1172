package analysis

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// CommandAnalyzer runs an external analyzer with the audio path appended
// to its arguments and decodes the document it prints on stdout.
type CommandAnalyzer struct {
	Command []string
}

func NewCommandAnalyzer(command []string) *CommandAnalyzer {
	return &CommandAnalyzer{Command: command}
}

func (a *CommandAnalyzer) Analyze(ctx context.Context, audioPath string) (*Result, error) {
	if len(a.Command) == 0 {
		return nil, fmt.Errorf("analyzer command is empty")
	}
	args := append(append([]string(nil), a.Command[1:]...), audioPath)
	cmd := exec.CommandContext(ctx, a.Command[0], args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("analyzer %s failed: %w: %s", a.Command[0], err, strings.TrimSpace(stderr.String()))
	}
	return Decode(stdout.Bytes())
}
