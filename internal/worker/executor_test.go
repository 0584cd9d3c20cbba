package worker_test

import (
	"context"
	"errors"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/icdev-platform/dispatch/internal/queue"
	"github.com/icdev-platform/dispatch/internal/worker"
)

type mockCommandRunner struct {
	runFn    func(ctx context.Context, cmd worker.Command) ([]byte, error)
	captured []worker.Command
}

func (m *mockCommandRunner) Run(ctx context.Context, cmd worker.Command) ([]byte, error) {
	m.captured = append(m.captured, cmd)
	if m.runFn != nil {
		return m.runFn(ctx, cmd)
	}
	return nil, nil
}

var _ = Describe("ExecExecutor", func() {
	var (
		runner   *mockCommandRunner
		executor *worker.ExecExecutor
		ctx      context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		runner = &mockCommandRunner{}
		executor = worker.NewExecExecutor("/opt/dispatch/workflows", runner)
	})

	It("invokes the workflow executable with run metadata in the environment", func() {
		err := executor.Execute(ctx, queue.Message{
			Workflow:   "icdev_build",
			SessionKey: "gl-1-mr-7",
			RunID:      "run-xyz",
			Platform:   "gitlab",
		})

		Expect(err).NotTo(HaveOccurred())
		Expect(runner.captured).To(HaveLen(1))
		cmd := runner.captured[0]
		Expect(cmd.Name).To(Equal(filepath.Join("/opt/dispatch/workflows", "icdev_build")))
		Expect(cmd.Env).To(ContainElements(
			"DISPATCH_WORKFLOW=icdev_build",
			"DISPATCH_RUN_ID=run-xyz",
			"DISPATCH_SESSION_KEY=gl-1-mr-7",
			"DISPATCH_PLATFORM=gitlab",
		))
	})

	It("rejects workflow names that escape the workflow directory", func() {
		err := executor.Execute(ctx, queue.Message{Workflow: "../bin/sh", RunID: "run-xyz"})

		Expect(err).To(HaveOccurred())
		Expect(runner.captured).To(BeEmpty())
	})

	It("wraps execution failures with the captured output", func() {
		runner.runFn = func(ctx context.Context, cmd worker.Command) ([]byte, error) {
			return []byte("compile error on line 4"), errors.New("exit status 2")
		}

		err := executor.Execute(ctx, queue.Message{Workflow: "icdev_test", RunID: "run-xyz"})

		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("compile error on line 4"))
	})
})
