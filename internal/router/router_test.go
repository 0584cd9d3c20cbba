package router_test

import (
	"context"
	"errors"
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/icdev-platform/dispatch/common/id"
	"github.com/icdev-platform/dispatch/core/config"
	"github.com/icdev-platform/dispatch/internal/conversation"
	"github.com/icdev-platform/dispatch/internal/model"
	"github.com/icdev-platform/dispatch/internal/router"
	"github.com/icdev-platform/dispatch/internal/store"
)

var _ = Describe("Router", func() {
	var (
		runs     *fakeRunStore
		queue    *fakeQueueStore
		convs    *fakeConvStore
		launcher *fakeLauncher
		poster   *fakePoster
		registry config.Registry
		r        *router.Router
		ctx      context.Context
	)

	const laneKey = "gl-7-issue-5"

	newRouter := func() *router.Router {
		manager := conversation.NewManager(convs, poster, nil, nil)
		built, err := router.New(runs, queue, manager, launcher, registry, nil)
		Expect(err).NotTo(HaveOccurred())
		return built
	}

	commandEvent := func(workflow string) *model.Event {
		return &model.Event{
			ID:              id.New(),
			Source:          model.SourceWebhook,
			Type:            model.EventIssueOpened,
			Platform:        "gitlab",
			SessionKey:      laneKey,
			Content:         "Please run " + workflow,
			Author:          "alice",
			WorkflowCommand: workflow,
			Metadata:        map[string]string{},
		}
	}

	commentEvent := func(text, noteID string) *model.Event {
		return &model.Event{
			ID:         id.New(),
			Source:     model.SourceWebhook,
			Type:       model.EventIssueComment,
			Platform:   "gitlab",
			SessionKey: laneKey,
			Content:    text,
			Author:     "alice",
			Metadata:   map[string]string{"note_id": noteID},
		}
	}

	BeforeEach(func() {
		ctx = context.Background()

		err := id.Init(1)
		Expect(err).NotTo(HaveOccurred())

		registry, err = config.LoadRegistry("")
		Expect(err).NotTo(HaveOccurred())

		runs = newFakeRunStore()
		queue = newFakeQueueStore()
		convs = newFakeConvStore()
		launcher = &fakeLauncher{}
		poster = &fakePoster{}
		r = newRouter()
	})

	Describe("short-circuits", func() {
		It("ignores bot-authored events before touching lane state", func() {
			ev := commandEvent("icdev_sdlc")
			ev.IsBot = true

			decision := r.Route(ctx, ev)

			Expect(decision.Action).To(Equal(router.ActionIgnored))
			Expect(decision.Reason).To(Equal("bot_message"))
			Expect(launcher.launches).To(BeEmpty())
			Expect(runs.active).To(BeEmpty())
		})

		It("ignores unknown workflow commands", func() {
			decision := r.Route(ctx, commandEvent("icdev_nonsense"))

			Expect(decision.Action).To(Equal(router.ActionIgnored))
			Expect(decision.Reason).To(Equal("unknown_workflow:icdev_nonsense"))
		})

		It("ignores run-scoped workflows without a run id", func() {
			decision := r.Route(ctx, commandEvent("icdev_fix"))

			Expect(decision.Action).To(Equal(router.ActionIgnored))
			Expect(decision.Reason).To(ContainSubstring("requires run_id"))
		})

		It("ignores a nil event", func() {
			decision := r.Route(ctx, nil)

			Expect(decision.Action).To(Equal(router.ActionIgnored))
		})
	})

	Describe("idle lane", func() {
		It("creates the run and launches the commanded workflow", func() {
			decision := r.Route(ctx, commandEvent("icdev_build"))

			Expect(decision.Action).To(Equal(router.ActionLaunched))
			Expect(decision.Workflow).To(Equal("icdev_build"))
			Expect(decision.RunID).NotTo(BeEmpty())

			Expect(launcher.launches).To(HaveLen(1))
			Expect(launcher.launches[0].workflow).To(Equal("icdev_build"))
			Expect(launcher.launches[0].sessionKey).To(Equal(laneKey))
			Expect(launcher.launches[0].runID).To(Equal(decision.RunID))

			active, err := runs.GetActive(ctx, laneKey)
			Expect(err).NotTo(HaveOccurred())
			Expect(active.Status).To(Equal(model.RunStatusRunning))
			Expect(active.Workflow).To(Equal("icdev_build"))
		})

		It("falls back to the default workflow on the trigger keyword", func() {
			ev := commentEvent("could you generate a fix for this?", "n1")

			decision := r.Route(ctx, ev)

			Expect(decision.Action).To(Equal(router.ActionLaunched))
			Expect(decision.Workflow).To(Equal("icdev_sdlc"))
		})

		It("ignores command-less events without the trigger keyword", func() {
			decision := r.Route(ctx, commentEvent("just an observation", "n1"))

			Expect(decision.Action).To(Equal(router.ActionIgnored))
			Expect(decision.Reason).To(Equal("no_workflow_detected"))
			Expect(launcher.launches).To(BeEmpty())
		})

		It("still reports launched when the launcher errors", func() {
			launcher.err = errors.New("redis down")

			decision := r.Route(ctx, commandEvent("icdev_build"))

			Expect(decision.Action).To(Equal(router.ActionLaunched))
			_, err := runs.GetActive(ctx, laneKey)
			Expect(err).NotTo(HaveOccurred())
		})

		It("degrades to ignored when lane state cannot be read", func() {
			runs.getErr = errors.New("connection refused")

			decision := r.Route(ctx, commandEvent("icdev_build"))

			Expect(decision.Action).To(Equal(router.ActionIgnored))
			Expect(decision.Reason).To(HavePrefix("store_error"))
			Expect(launcher.launches).To(BeEmpty())
		})
	})

	Describe("dispatched lane", func() {
		BeforeEach(func() {
			decision := r.Route(ctx, commandEvent("icdev_sdlc"))
			Expect(decision.Action).To(Equal(router.ActionLaunched))
		})

		It("queues a second command event behind the active run", func() {
			decision := r.Route(ctx, commandEvent("icdev_build"))

			Expect(decision.Action).To(Equal(router.ActionQueued))
			Expect(decision.Reason).To(Equal("lane_busy"))

			depth, err := queue.Depth(ctx, laneKey)
			Expect(err).NotTo(HaveOccurred())
			Expect(depth).To(Equal(1))
			Expect(launcher.launches).To(HaveLen(1))
		})

		It("ignores overflow once the lane queue is full", func() {
			registry.QueueMax = 2
			r = newRouter()

			first := r.Route(ctx, commandEvent("icdev_build"))
			second := r.Route(ctx, commandEvent("icdev_test"))
			third := r.Route(ctx, commandEvent("icdev_build"))

			Expect(first.Action).To(Equal(router.ActionQueued))
			Expect(second.Action).To(Equal(router.ActionQueued))
			Expect(third.Action).To(Equal(router.ActionIgnored))
			Expect(third.Reason).To(Equal("queue_full"))

			depth, _ := queue.Depth(ctx, laneKey)
			Expect(depth).To(Equal(2))
		})

		It("hands a command-less comment to the conversation side channel", func() {
			decision := r.Route(ctx, commentEvent("please also update the docs", "note-1"))

			Expect(decision.Action).To(Equal(router.ActionConversation))

			sess, err := convs.GetActiveSession(ctx, laneKey)
			Expect(err).NotTo(HaveOccurred())
			turns, err := convs.ListTurns(ctx, sess.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(turns).NotTo(BeEmpty())
			Expect(turns[0].Role).To(Equal(model.RoleDeveloper))
			Expect(turns[0].Content).To(Equal("please also update the docs"))
		})

		It("ignores a redelivered comment exactly once", func() {
			first := r.Route(ctx, commentEvent("any progress on this?", "note-9"))
			second := r.Route(ctx, commentEvent("any progress on this?", "note-9"))

			Expect(first.Action).To(Equal(router.ActionConversation))
			Expect(second.Action).To(Equal(router.ActionIgnored))
			Expect(second.Reason).To(Equal("duplicate_comment"))
		})

		It("queues a comment carrying a workflow command instead of conversing", func() {
			ev := commentEvent("icdev_build please", "note-2")
			ev.WorkflowCommand = "icdev_build"

			decision := r.Route(ctx, ev)

			Expect(decision.Action).To(Equal(router.ActionQueued))
			_, err := convs.GetActiveSession(ctx, laneKey)
			Expect(err).To(MatchError(store.ErrNotFound))
		})
	})

	Describe("ReportStatus", func() {
		It("rejects non-terminal statuses", func() {
			err := r.ReportStatus(ctx, "run-x", model.RunStatusRunning)
			Expect(err).To(HaveOccurred())
		})

		It("returns ErrNotFound for an unknown run id", func() {
			err := r.ReportStatus(ctx, "run-gone", model.RunStatusCompleted)
			Expect(err).To(MatchError(store.ErrNotFound))
		})

		It("frees the lane and replays queued events in FIFO order", func() {
			first := r.Route(ctx, commandEvent("icdev_sdlc"))
			Expect(first.Action).To(Equal(router.ActionLaunched))

			for i := 0; i < 3; i++ {
				ev := commandEvent("icdev_build")
				ev.Content = fmt.Sprintf("queued event %d: run icdev_build", i)
				Expect(r.Route(ctx, ev).Action).To(Equal(router.ActionQueued))
			}

			err := r.ReportStatus(ctx, first.RunID, model.RunStatusCompleted)
			Expect(err).NotTo(HaveOccurred())

			// The first replayed event takes the freed lane; the rest queue
			// behind it again.
			Expect(launcher.launches).To(HaveLen(2))
			Expect(launcher.launches[1].workflow).To(Equal("icdev_build"))

			active, err := runs.GetActive(ctx, laneKey)
			Expect(err).NotTo(HaveOccurred())
			Expect(active.Workflow).To(Equal("icdev_build"))
			Expect(active.Status).To(Equal(model.RunStatusRunning))

			// Every claimed event left the pending state: the replayed one is
			// processed, and the two that re-queued joined as fresh rows.
			depth, _ := queue.Depth(ctx, laneKey)
			Expect(depth).To(Equal(2))
			Expect(queue.statuses(laneKey)).NotTo(ContainElement(model.QueuedEventProcessing))
		})
	})
})
