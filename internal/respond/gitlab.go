package respond

import (
	"context"
	"fmt"
	"strconv"

	gitlab "gitlab.com/gitlab-org/api/client-go"

	"github.com/icdev-platform/dispatch/internal/model"
	"github.com/icdev-platform/dispatch/internal/normalize"
)

// GitLabPoster writes agent replies as notes on the issue or merge
// request a lane belongs to. The target is recovered from the session
// key, so queued events replayed long after the webhook still post to
// the right place.
type GitLabPoster struct {
	client *gitlab.Client
}

func NewGitLabPoster(token, baseURL string) (*GitLabPoster, error) {
	client, err := gitlab.NewClient(token, gitlab.WithBaseURL(baseURL+"/api/v4"))
	if err != nil {
		return nil, fmt.Errorf("creating gitlab client: %w", err)
	}
	return &GitLabPoster{client: client}, nil
}

func (p *GitLabPoster) Post(ctx context.Context, ev *model.Event, text string) (string, error) {
	projectID, kind, iid, ok := normalize.ParseGitLabSessionKey(ev.SessionKey)
	if !ok {
		return "", fmt.Errorf("session key %q is not a gitlab lane", ev.SessionKey)
	}

	switch kind {
	case "issue":
		note, _, err := p.client.Notes.CreateIssueNote(projectID, iid, &gitlab.CreateIssueNoteOptions{
			Body: gitlab.Ptr(text),
		}, gitlab.WithContext(ctx))
		if err != nil {
			return "", fmt.Errorf("posting issue note: %w", err)
		}
		return strconv.FormatInt(note.ID, 10), nil
	case "mr":
		note, _, err := p.client.Notes.CreateMergeRequestNote(projectID, iid, &gitlab.CreateMergeRequestNoteOptions{
			Body: gitlab.Ptr(text),
		}, gitlab.WithContext(ctx))
		if err != nil {
			return "", fmt.Errorf("posting merge request note: %w", err)
		}
		return strconv.FormatInt(note.ID, 10), nil
	}
	return "", fmt.Errorf("unsupported noteable kind %q", kind)
}
