package normalize

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/icdev-platform/dispatch/internal/model"
)

const platformGitLab = "gitlab"

type gitlabUser struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
}

type gitlabProject struct {
	ID                int64  `json:"id"`
	PathWithNamespace string `json:"path_with_namespace"`
}

type gitlabIssueEvent struct {
	ObjectKind       string        `json:"object_kind"`
	User             gitlabUser    `json:"user"`
	Project          gitlabProject `json:"project"`
	ObjectAttributes struct {
		ID          int64  `json:"id"`
		IID         int64  `json:"iid"`
		Title       string `json:"title"`
		Description string `json:"description"`
		Action      string `json:"action"`
	} `json:"object_attributes"`
	Labels []struct {
		Title string `json:"title"`
	} `json:"labels"`
}

type gitlabNoteEvent struct {
	ObjectKind       string        `json:"object_kind"`
	User             gitlabUser    `json:"user"`
	Project          gitlabProject `json:"project"`
	ObjectAttributes struct {
		ID           int64  `json:"id"`
		Note         string `json:"note"`
		NoteableType string `json:"noteable_type"`
		DiscussionID string `json:"discussion_id"`
		Position     *struct {
			NewPath string `json:"new_path"`
			NewLine int    `json:"new_line"`
		} `json:"position"`
	} `json:"object_attributes"`
	Issue *struct {
		IID   int64  `json:"iid"`
		Title string `json:"title"`
	} `json:"issue"`
	MergeRequest *struct {
		IID   int64  `json:"iid"`
		Title string `json:"title"`
	} `json:"merge_request"`
}

type gitlabMergeRequestEvent struct {
	ObjectKind       string        `json:"object_kind"`
	User             gitlabUser    `json:"user"`
	Project          gitlabProject `json:"project"`
	ObjectAttributes struct {
		ID           int64  `json:"id"`
		IID          int64  `json:"iid"`
		Title        string `json:"title"`
		Description  string `json:"description"`
		Action       string `json:"action"`
		SourceBranch string `json:"source_branch"`
		TargetBranch string `json:"target_branch"`
	} `json:"object_attributes"`
}

// GitLabIssueSessionKey composes the lane identifier for an issue.
func GitLabIssueSessionKey(projectID, issueIID int64) string {
	return fmt.Sprintf("gl-%d-issue-%d", projectID, issueIID)
}

// GitLabMergeRequestSessionKey composes the lane identifier for an MR.
func GitLabMergeRequestSessionKey(projectID, mrIID int64) string {
	return fmt.Sprintf("gl-%d-mr-%d", projectID, mrIID)
}

// ParseGitLabSessionKey splits a GitLab lane identifier back into its
// project id, noteable kind ("issue" or "mr") and IID. Used when a
// reply has to be addressed from the session key alone.
func ParseGitLabSessionKey(key string) (projectID int64, kind string, iid int64, ok bool) {
	if n, err := fmt.Sscanf(key, "gl-%d-issue-%d", &projectID, &iid); err == nil && n == 2 {
		return projectID, "issue", iid, true
	}
	if n, err := fmt.Sscanf(key, "gl-%d-mr-%d", &projectID, &iid); err == nil && n == 2 {
		return projectID, "mr", iid, true
	}
	return 0, "", 0, false
}

// GitLabIssueOpened normalizes an Issue Hook payload. Only open/reopen
// actions are supported; anything else returns nil.
func (n *Normalizer) GitLabIssueOpened(raw []byte) *model.Event {
	var p gitlabIssueEvent
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil
	}
	if p.ObjectKind != "issue" || p.ObjectAttributes.IID == 0 {
		return nil
	}
	if p.ObjectAttributes.Action != "open" && p.ObjectAttributes.Action != "reopen" {
		return nil
	}

	content := p.ObjectAttributes.Title + "\n\n" + p.ObjectAttributes.Description
	ev := n.newEvent(model.SourceWebhook, model.EventIssueOpened, platformGitLab,
		GitLabIssueSessionKey(p.Project.ID, p.ObjectAttributes.IID), content, p.User.Username)
	ev.RawPayload = raw
	ev.Metadata["title"] = p.ObjectAttributes.Title
	ev.Metadata["project"] = p.Project.PathWithNamespace
	ev.Metadata["issue_iid"] = strconv.FormatInt(p.ObjectAttributes.IID, 10)
	if labels := joinLabels(p.Labels); labels != "" {
		ev.Metadata["labels"] = labels
	}
	return ev
}

// GitLabNote normalizes a Note Hook payload: comments on issues and merge
// requests, including positioned review comments. Unsupported noteable
// kinds return nil.
func (n *Normalizer) GitLabNote(raw []byte) *model.Event {
	var p gitlabNoteEvent
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil
	}
	if p.ObjectKind != "note" || p.ObjectAttributes.Note == "" {
		return nil
	}

	var (
		sessionKey string
		eventType  model.EventType
	)
	switch p.ObjectAttributes.NoteableType {
	case "Issue":
		if p.Issue == nil || p.Issue.IID == 0 {
			return nil
		}
		sessionKey = GitLabIssueSessionKey(p.Project.ID, p.Issue.IID)
		eventType = model.EventIssueComment
	case "MergeRequest":
		if p.MergeRequest == nil || p.MergeRequest.IID == 0 {
			return nil
		}
		sessionKey = GitLabMergeRequestSessionKey(p.Project.ID, p.MergeRequest.IID)
		eventType = model.EventIssueComment
		if p.ObjectAttributes.Position != nil {
			eventType = model.EventReviewComment
		}
	default:
		return nil
	}

	ev := n.newEvent(model.SourceWebhook, eventType, platformGitLab, sessionKey,
		p.ObjectAttributes.Note, p.User.Username)
	ev.RawPayload = raw
	ev.Metadata["project"] = p.Project.PathWithNamespace
	if p.ObjectAttributes.DiscussionID != "" {
		ev.Metadata["discussion_id"] = p.ObjectAttributes.DiscussionID
	}
	ev.Metadata["note_id"] = strconv.FormatInt(p.ObjectAttributes.ID, 10)
	if pos := p.ObjectAttributes.Position; pos != nil {
		ev.Metadata["file"] = pos.NewPath
		ev.Metadata["line"] = strconv.Itoa(pos.NewLine)
	}
	return ev
}

// GitLabMergeRequest normalizes a Merge Request Hook payload for the
// open/reopen actions; other actions return nil.
func (n *Normalizer) GitLabMergeRequest(raw []byte) *model.Event {
	var p gitlabMergeRequestEvent
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil
	}
	if p.ObjectKind != "merge_request" || p.ObjectAttributes.IID == 0 {
		return nil
	}
	if p.ObjectAttributes.Action != "open" && p.ObjectAttributes.Action != "reopen" {
		return nil
	}

	content := p.ObjectAttributes.Title + "\n\n" + p.ObjectAttributes.Description
	ev := n.newEvent(model.SourceWebhook, model.EventMergeRequestOpened, platformGitLab,
		GitLabMergeRequestSessionKey(p.Project.ID, p.ObjectAttributes.IID), content, p.User.Username)
	ev.RawPayload = raw
	ev.Metadata["title"] = p.ObjectAttributes.Title
	ev.Metadata["project"] = p.Project.PathWithNamespace
	ev.Metadata["source_branch"] = p.ObjectAttributes.SourceBranch
	ev.Metadata["target_branch"] = p.ObjectAttributes.TargetBranch
	return ev
}

func joinLabels(labels []struct {
	Title string `json:"title"`
}) string {
	out := ""
	for i, l := range labels {
		if i > 0 {
			out += ","
		}
		out += l.Title
	}
	return out
}
