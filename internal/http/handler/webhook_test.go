package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/icdev-platform/dispatch/common/id"
	"github.com/icdev-platform/dispatch/core/config"
	"github.com/icdev-platform/dispatch/internal/extract"
	httprouter "github.com/icdev-platform/dispatch/internal/http/router"
	"github.com/icdev-platform/dispatch/internal/model"
	"github.com/icdev-platform/dispatch/internal/normalize"
	"github.com/icdev-platform/dispatch/internal/router"
	"github.com/icdev-platform/dispatch/internal/store"
)

type fakeEventRouter struct {
	routeFn  func(ctx context.Context, ev *model.Event) router.Decision
	reportFn func(ctx context.Context, runID string, status model.RunStatus) error
	routed   []*model.Event
}

func (f *fakeEventRouter) Route(ctx context.Context, ev *model.Event) router.Decision {
	f.routed = append(f.routed, ev)
	if f.routeFn != nil {
		return f.routeFn(ctx, ev)
	}
	return router.Decision{Action: router.ActionLaunched, Workflow: "icdev_sdlc", Reason: "test"}
}

func (f *fakeEventRouter) ReportStatus(ctx context.Context, runID string, status model.RunStatus) error {
	if f.reportFn != nil {
		return f.reportFn(ctx, runID, status)
	}
	return nil
}

var _ = Describe("Webhook endpoints", func() {
	var (
		engine      *gin.Engine
		eventRouter *fakeEventRouter
	)

	BeforeEach(func() {
		gin.SetMode(gin.TestMode)

		err := id.Init(1)
		Expect(err).NotTo(HaveOccurred())

		registry, err := config.LoadRegistry("")
		Expect(err).NotTo(HaveOccurred())

		extractor, err := extract.New(extract.DefaultConfig())
		Expect(err).NotTo(HaveOccurred())

		normalizer := normalize.New(extractor, registry)
		eventRouter = &fakeEventRouter{}

		engine = gin.New()
		httprouter.SetupRoutes(engine, normalizer, eventRouter, httprouter.RouterConfig{
			GitLabWebhookSecret: "hook-secret",
		})
	})

	post := func(path string, payload []byte, headers map[string]string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, path, bytes.NewBuffer(payload))
		req.Header.Set("Content-Type", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, req)
		return w
	}

	Describe("POST /hooks/gitlab", func() {
		issuePayload := func() []byte {
			payload, _ := json.Marshal(map[string]any{
				"object_kind": "issue",
				"user":        map[string]any{"username": "alice"},
				"project":     map[string]any{"id": 7, "path_with_namespace": "group/app"},
				"object_attributes": map[string]any{
					"iid":         5,
					"title":       "Broken login",
					"description": "Please run icdev_sdlc",
					"action":      "open",
				},
			})
			return payload
		}

		It("routes an issue hook and echoes the decision", func() {
			w := post("/hooks/gitlab", issuePayload(), map[string]string{
				"X-Gitlab-Token": "hook-secret",
				"X-Gitlab-Event": "Issue Hook",
			})

			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(w.Body.String()).To(ContainSubstring(`"action":"launched"`))
			Expect(eventRouter.routed).To(HaveLen(1))
			ev := eventRouter.routed[0]
			Expect(ev.SessionKey).To(Equal("gl-7-issue-5"))
			Expect(ev.Type).To(Equal(model.EventIssueOpened))
			Expect(ev.WorkflowCommand).To(Equal("icdev_sdlc"))
		})

		It("rejects a wrong webhook token", func() {
			w := post("/hooks/gitlab", issuePayload(), map[string]string{
				"X-Gitlab-Token": "wrong",
				"X-Gitlab-Event": "Issue Hook",
			})

			Expect(w.Code).To(Equal(http.StatusUnauthorized))
			Expect(eventRouter.routed).To(BeEmpty())
		})

		It("accepts but ignores unsupported hook kinds", func() {
			w := post("/hooks/gitlab", []byte(`{"object_kind":"wiki_page"}`), map[string]string{
				"X-Gitlab-Token": "hook-secret",
				"X-Gitlab-Event": "Wiki Page Hook",
			})

			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(w.Body.String()).To(ContainSubstring("not supported"))
			Expect(eventRouter.routed).To(BeEmpty())
		})

		It("accepts but ignores a close action", func() {
			payload, _ := json.Marshal(map[string]any{
				"object_kind": "issue",
				"project":     map[string]any{"id": 7},
				"object_attributes": map[string]any{
					"iid":    5,
					"action": "close",
				},
			})

			w := post("/hooks/gitlab", payload, map[string]string{
				"X-Gitlab-Token": "hook-secret",
				"X-Gitlab-Event": "Issue Hook",
			})

			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(w.Body.String()).To(ContainSubstring("ignored"))
			Expect(eventRouter.routed).To(BeEmpty())
		})
	})

	Describe("POST /hooks/chat", func() {
		It("answers the URL verification challenge", func() {
			payload, _ := json.Marshal(map[string]any{
				"type":      "url_verification",
				"challenge": "challenge-token-123",
			})

			w := post("/hooks/chat", payload, nil)

			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(w.Body.String()).To(Equal("challenge-token-123"))
		})

		It("routes a channel message callback", func() {
			payload, _ := json.Marshal(map[string]any{
				"type": "event_callback",
				"event": map[string]any{
					"type":    "message",
					"channel": "C024BE91L",
					"user":    "U2147483697",
					"text":    "icdev_build run_id:abc-123",
					"ts":      "1712000000.000100",
				},
			})

			w := post("/hooks/chat", payload, nil)

			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(eventRouter.routed).To(HaveLen(1))
			ev := eventRouter.routed[0]
			Expect(ev.Type).To(Equal(model.EventChatMessage))
			Expect(ev.SessionKey).To(Equal("C024BE91L:1712000000.000100"))
			Expect(ev.WorkflowCommand).To(Equal("icdev_build"))
			Expect(ev.RunID).To(Equal("abc-123"))
		})
	})

	Describe("POST /hooks/plugin", func() {
		It("routes a connector message", func() {
			payload, _ := json.Marshal(map[string]any{
				"source":      "jenkins",
				"session_key": "build-77",
				"content":     "pipeline green",
				"author":      "ci",
			})

			w := post("/hooks/plugin", payload, nil)

			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(eventRouter.routed).To(HaveLen(1))
			Expect(eventRouter.routed[0].SessionKey).To(Equal("plugin-jenkins-build-77"))
		})

		It("rejects a message without a source", func() {
			w := post("/hooks/plugin", []byte(`{"session_key":"x","content":"hi"}`), nil)

			Expect(w.Code).To(Equal(http.StatusBadRequest))
			Expect(eventRouter.routed).To(BeEmpty())
		})
	})

	Describe("POST /runs/:run_id/status", func() {
		It("records a terminal status", func() {
			var gotRunID string
			var gotStatus model.RunStatus
			eventRouter.reportFn = func(ctx context.Context, runID string, status model.RunStatus) error {
				gotRunID = runID
				gotStatus = status
				return nil
			}

			w := post("/runs/run-abc/status", []byte(`{"status":"completed"}`), nil)

			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(gotRunID).To(Equal("run-abc"))
			Expect(gotStatus).To(Equal(model.RunStatusCompleted))
		})

		It("rejects a non-terminal status", func() {
			w := post("/runs/run-abc/status", []byte(`{"status":"running"}`), nil)

			Expect(w.Code).To(Equal(http.StatusBadRequest))
		})

		It("returns 404 when the run is unknown", func() {
			eventRouter.reportFn = func(ctx context.Context, runID string, status model.RunStatus) error {
				return store.ErrNotFound
			}

			w := post("/runs/run-gone/status", []byte(`{"status":"failed"}`), nil)

			Expect(w.Code).To(Equal(http.StatusNotFound))
		})
	})
})
