package worker_test

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/icdev-platform/dispatch/internal/model"
	"github.com/icdev-platform/dispatch/internal/queue"
	"github.com/icdev-platform/dispatch/internal/store"
	"github.com/icdev-platform/dispatch/internal/worker"
)

type mockConsumer struct {
	readFn   func(ctx context.Context) ([]queue.Message, error)
	acked    []string
	requeued []string
	dlq      []string
}

func (m *mockConsumer) Read(ctx context.Context) ([]queue.Message, error) {
	if m.readFn != nil {
		return m.readFn(ctx)
	}
	return nil, nil
}

func (m *mockConsumer) Ack(ctx context.Context, msg queue.Message) error {
	m.acked = append(m.acked, msg.ID)
	return nil
}

func (m *mockConsumer) Requeue(ctx context.Context, msg queue.Message, errMsg string) error {
	m.requeued = append(m.requeued, msg.ID)
	return nil
}

func (m *mockConsumer) SendDLQ(ctx context.Context, msg queue.Message, errMsg string) error {
	m.dlq = append(m.dlq, msg.ID)
	return nil
}

type mockExecutor struct {
	executeFn func(ctx context.Context, msg queue.Message) error
	executed  []queue.Message
}

func (m *mockExecutor) Execute(ctx context.Context, msg queue.Message) error {
	m.executed = append(m.executed, msg)
	if m.executeFn != nil {
		return m.executeFn(ctx, msg)
	}
	return nil
}

type mockReporter struct {
	reportFn func(ctx context.Context, runID string, status model.RunStatus) error
	reports  []reportedStatus
}

type reportedStatus struct {
	runID  string
	status model.RunStatus
}

func (m *mockReporter) ReportStatus(ctx context.Context, runID string, status model.RunStatus) error {
	m.reports = append(m.reports, reportedStatus{runID: runID, status: status})
	if m.reportFn != nil {
		return m.reportFn(ctx, runID, status)
	}
	return nil
}

var _ = Describe("Worker", func() {
	var (
		consumer *mockConsumer
		executor *mockExecutor
		reporter *mockReporter
		w        *worker.Worker
		ctx      context.Context
		msg      queue.Message
	)

	BeforeEach(func() {
		ctx = context.Background()
		consumer = &mockConsumer{}
		executor = &mockExecutor{}
		reporter = &mockReporter{}
		w = worker.New(consumer, executor, reporter, worker.Config{MaxAttempts: 3})

		msg = queue.Message{
			ID:         "1700000000000-0",
			Workflow:   "icdev_sdlc",
			SessionKey: "gl-1-issue-42",
			RunID:      "run-abc",
			Platform:   "gitlab",
			Attempt:    1,
		}
	})

	Describe("ProcessMessage", func() {
		It("executes the workflow and reports completion before acking", func() {
			err := w.ProcessMessage(ctx, msg)

			Expect(err).NotTo(HaveOccurred())
			Expect(executor.executed).To(HaveLen(1))
			Expect(executor.executed[0].Workflow).To(Equal("icdev_sdlc"))
			Expect(reporter.reports).To(Equal([]reportedStatus{
				{runID: "run-abc", status: model.RunStatusCompleted},
			}))
			Expect(consumer.acked).To(Equal([]string{"1700000000000-0"}))
		})

		It("returns the report error without acking so the message retries", func() {
			reporter.reportFn = func(ctx context.Context, runID string, status model.RunStatus) error {
				return errors.New("connection refused")
			}

			err := w.ProcessMessage(ctx, msg)

			Expect(err).To(MatchError(ContainSubstring("connection refused")))
			Expect(consumer.acked).To(BeEmpty())
		})

		It("acks a redelivery whose report already landed", func() {
			reporter.reportFn = func(ctx context.Context, runID string, status model.RunStatus) error {
				return store.ErrNotFound
			}

			err := w.ProcessMessage(ctx, msg)

			Expect(err).NotTo(HaveOccurred())
			Expect(consumer.acked).To(Equal([]string{"1700000000000-0"}))
			Expect(consumer.requeued).To(BeEmpty())
		})

		It("returns the execution error without reporting or acking", func() {
			executor.executeFn = func(ctx context.Context, msg queue.Message) error {
				return errors.New("exit status 1")
			}

			err := w.ProcessMessage(ctx, msg)

			Expect(err).To(HaveOccurred())
			Expect(reporter.reports).To(BeEmpty())
			Expect(consumer.acked).To(BeEmpty())
		})
	})

	Describe("Run", func() {
		// Drives one batch through the loop, then cancels.
		runOneBatch := func(batch []queue.Message) error {
			runCtx, cancel := context.WithCancel(ctx)
			defer cancel()
			calls := 0
			consumer.readFn = func(ctx context.Context) ([]queue.Message, error) {
				calls++
				if calls == 1 {
					return batch, nil
				}
				cancel()
				return nil, nil
			}
			return w.Run(runCtx)
		}

		It("requeues a failed message below the attempt cap", func() {
			executor.executeFn = func(ctx context.Context, msg queue.Message) error {
				return errors.New("exit status 1")
			}

			err := runOneBatch([]queue.Message{msg})

			Expect(err).To(MatchError(context.Canceled))
			Expect(consumer.requeued).To(Equal([]string{msg.ID}))
			Expect(consumer.dlq).To(BeEmpty())
			Expect(reporter.reports).To(BeEmpty())
		})

		It("dead-letters at the attempt cap and reports the run failed", func() {
			executor.executeFn = func(ctx context.Context, msg queue.Message) error {
				return errors.New("exit status 1")
			}
			msg.Attempt = 3

			err := runOneBatch([]queue.Message{msg})

			Expect(err).To(MatchError(context.Canceled))
			Expect(consumer.requeued).To(BeEmpty())
			Expect(consumer.dlq).To(Equal([]string{msg.ID}))
			Expect(reporter.reports).To(Equal([]reportedStatus{
				{runID: "run-abc", status: model.RunStatusFailed},
			}))
		})
	})
})
