package worker

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/icdev-platform/dispatch/internal/queue"
)

// ExecExecutor runs a workflow as an executable from the workflow
// directory. The workflow name doubles as the file name, so anything
// that looks like a path is rejected before it reaches exec.
type ExecExecutor struct {
	dir    string
	runner CommandRunner
}

func NewExecExecutor(dir string, runner CommandRunner) *ExecExecutor {
	if runner == nil {
		runner = ExecCommandRunner{}
	}
	return &ExecExecutor{dir: dir, runner: runner}
}

func (e *ExecExecutor) Execute(ctx context.Context, msg queue.Message) error {
	if strings.ContainsAny(msg.Workflow, `/\`) || msg.Workflow != filepath.Base(msg.Workflow) {
		return fmt.Errorf("invalid workflow name %q", msg.Workflow)
	}

	cmd := Command{
		Name: filepath.Join(e.dir, msg.Workflow),
		Env: []string{
			"DISPATCH_WORKFLOW=" + msg.Workflow,
			"DISPATCH_RUN_ID=" + msg.RunID,
			"DISPATCH_SESSION_KEY=" + msg.SessionKey,
			"DISPATCH_PLATFORM=" + msg.Platform,
		},
	}

	slog.InfoContext(ctx, "executing workflow",
		"workflow", msg.Workflow,
		"run_id", msg.RunID,
		"session_key", msg.SessionKey)

	output, err := e.runner.Run(ctx, cmd)
	if err != nil {
		return fmt.Errorf("workflow %s failed: %w (output: %s)", msg.Workflow, err, truncateOutput(output))
	}

	slog.DebugContext(ctx, "workflow finished",
		"workflow", msg.Workflow,
		"run_id", msg.RunID,
		"output_bytes", len(output))
	return nil
}

func truncateOutput(out []byte) string {
	const max = 512
	s := strings.TrimSpace(string(out))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
