package poller

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	gitlab "gitlab.com/gitlab-org/api/client-go"

	"github.com/icdev-platform/dispatch/common/logger"
	"github.com/icdev-platform/dispatch/internal/model"
	"github.com/icdev-platform/dispatch/internal/normalize"
	"github.com/icdev-platform/dispatch/internal/router"
)

// EventRouter is the slice of the router the poller needs.
type EventRouter interface {
	Route(ctx context.Context, ev *model.Event) router.Decision
}

// GitLabAPI abstracts the two GitLab reads the scan needs, for testability.
type GitLabAPI interface {
	ListIssues(ctx context.Context, project, label string, updatedAfter time.Time) ([]*gitlab.Issue, error)
	LatestNote(ctx context.Context, projectID, issueIID int) (*gitlab.Note, error)
}

type Config struct {
	Interval time.Duration
	Projects []string
	Label    string
}

// Poller periodically scans tracked projects for labeled issues and
// their newest comments, and feeds each hit through the router. It
// carries no dedup state of its own: replays collapse against the lane
// state and the turn-level dedup downstream.
type Poller struct {
	api        GitLabAPI
	normalizer *normalize.Normalizer
	router     EventRouter
	cfg        Config

	// Per-project watermark, advanced only after a successful scan so a
	// failed cycle re-covers its window instead of skipping it.
	lastScan map[string]time.Time

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func New(api GitLabAPI, normalizer *normalize.Normalizer, eventRouter EventRouter, cfg Config) *Poller {
	lastScan := make(map[string]time.Time, len(cfg.Projects))
	seed := time.Now().Add(-cfg.Interval)
	for _, project := range cfg.Projects {
		lastScan[project] = seed
	}
	return &Poller{
		api:        api,
		normalizer: normalizer,
		router:     eventRouter,
		cfg:        cfg,
		lastScan:   lastScan,
		stopCh:     make(chan struct{}),
		stoppedCh:  make(chan struct{}),
	}
}

// Run starts the polling loop. Blocks until Stop() is called.
func (p *Poller) Run(ctx context.Context) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "dispatch.poller",
	})

	defer close(p.stoppedCh)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	slog.InfoContext(ctx, "poller started",
		"interval", p.cfg.Interval,
		"projects", p.cfg.Projects,
		"label", p.cfg.Label)

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			slog.InfoContext(ctx, "poller stopping")
			return
		case <-ticker.C:
			if err := p.ScanOnce(ctx); err != nil {
				slog.ErrorContext(ctx, "poll cycle error", "error", err)
			}
		}
	}
}

// Stop signals the poller to stop gracefully.
func (p *Poller) Stop() {
	close(p.stopCh)
	<-p.stoppedCh
}

// ScanOnce scans every tracked project once. A failing project does not
// stop the others; the first error is returned after the full pass.
func (p *Poller) ScanOnce(ctx context.Context) error {
	var firstErr error
	for _, project := range p.cfg.Projects {
		since := p.lastScan[project]
		start := time.Now()
		if err := p.scanProject(ctx, project, since); err != nil {
			slog.ErrorContext(ctx, "project scan failed",
				"project", project, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		p.lastScan[project] = start
	}
	return firstErr
}

func (p *Poller) scanProject(ctx context.Context, project string, since time.Time) error {
	issues, err := p.api.ListIssues(ctx, project, p.cfg.Label, since)
	if err != nil {
		return fmt.Errorf("listing issues for %s: %w", project, err)
	}

	for _, issue := range issues {
		ev := p.normalizeIssue(ctx, issue)
		if ev == nil {
			continue
		}
		decision := p.router.Route(ctx, ev)
		slog.DebugContext(ctx, "polled event routed",
			"session_key", ev.SessionKey,
			"event_type", ev.Type,
			"action", decision.Action)
	}
	return nil
}

// normalizeIssue picks the event an issue represents right now: its
// newest comment when it has one, the tagged issue body when a label
// maps to a workflow, or the plain body otherwise.
func (p *Poller) normalizeIssue(ctx context.Context, issue *gitlab.Issue) *model.Event {
	note, err := p.api.LatestNote(ctx, int(issue.ProjectID), int(issue.IID))
	if err != nil {
		slog.WarnContext(ctx, "fetching latest note failed, using issue body",
			"project_id", issue.ProjectID,
			"issue_iid", issue.IID,
			"error", err)
		note = nil
	}

	if note != nil {
		return p.normalizer.PolledIssue(issue, note)
	}
	if ev := p.normalizer.TaggedIssue(issue); ev != nil {
		return ev
	}
	return p.normalizer.PolledIssue(issue, nil)
}

// Client is the production GitLabAPI backed by the GitLab REST client.
type Client struct {
	client *gitlab.Client
}

func NewClient(token, baseURL string) (*Client, error) {
	client, err := gitlab.NewClient(token, gitlab.WithBaseURL(baseURL+"/api/v4"))
	if err != nil {
		return nil, fmt.Errorf("creating gitlab client: %w", err)
	}
	return &Client{client: client}, nil
}

func (c *Client) ListIssues(ctx context.Context, project, label string, updatedAfter time.Time) ([]*gitlab.Issue, error) {
	opts := &gitlab.ListProjectIssuesOptions{
		State:        gitlab.Ptr("opened"),
		UpdatedAfter: gitlab.Ptr(updatedAfter),
		OrderBy:      gitlab.Ptr("updated_at"),
		ListOptions:  gitlab.ListOptions{PerPage: 100},
	}
	if label != "" {
		opts.Labels = &gitlab.LabelOptions{label}
	}

	issues, _, err := c.client.Issues.ListProjectIssues(project, opts, gitlab.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	return issues, nil
}

func (c *Client) LatestNote(ctx context.Context, projectID, issueIID int) (*gitlab.Note, error) {
	notes, _, err := c.client.Notes.ListIssueNotes(projectID, int64(issueIID), &gitlab.ListIssueNotesOptions{
		OrderBy:     gitlab.Ptr("created_at"),
		Sort:        gitlab.Ptr("desc"),
		ListOptions: gitlab.ListOptions{PerPage: 1},
	}, gitlab.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	if len(notes) == 0 {
		return nil, nil
	}
	return notes[0], nil
}
