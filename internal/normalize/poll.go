package normalize

import (
	"strconv"
	"strings"

	gitlab "gitlab.com/gitlab-org/api/client-go"

	"github.com/icdev-platform/dispatch/internal/model"
)

// PolledIssue normalizes an issue found by the polling loop. When latest
// is non-nil the event represents that newest comment; otherwise it
// represents the issue body itself.
func (n *Normalizer) PolledIssue(issue *gitlab.Issue, latest *gitlab.Note) *model.Event {
	if issue == nil || issue.IID == 0 {
		return nil
	}

	sessionKey := GitLabIssueSessionKey(int64(issue.ProjectID), int64(issue.IID))

	if latest != nil {
		if latest.Body == "" {
			return nil
		}
		ev := n.newEvent(model.SourcePoller, model.EventIssueComment, platformGitLab,
			sessionKey, latest.Body, latest.Author.Username)
		ev.Metadata["title"] = issue.Title
		ev.Metadata["issue_iid"] = strconv.FormatInt(issue.IID, 10)
		ev.Metadata["note_id"] = strconv.FormatInt(latest.ID, 10)
		return ev
	}

	content := issue.Title + "\n\n" + issue.Description
	ev := n.newEvent(model.SourcePoller, model.EventIssueOpened, platformGitLab,
		sessionKey, content, authorUsername(issue))
	ev.Metadata["title"] = issue.Title
	ev.Metadata["issue_iid"] = strconv.FormatInt(issue.IID, 10)
	if len(issue.Labels) > 0 {
		ev.Metadata["labels"] = strings.Join(issue.Labels, ",")
	}
	return ev
}

// TaggedIssue normalizes an issue discovered by the tag scan. The first
// label with a registry mapping supplies the workflow when the text
// carries no explicit command; issues without a mapped tag return nil.
func (n *Normalizer) TaggedIssue(issue *gitlab.Issue) *model.Event {
	if issue == nil || issue.IID == 0 {
		return nil
	}

	var workflow string
	for _, label := range issue.Labels {
		if w, ok := n.registry.WorkflowForTag(label); ok {
			workflow = w
			break
		}
	}
	if workflow == "" {
		return nil
	}

	ev := n.PolledIssue(issue, nil)
	if ev == nil {
		return nil
	}
	if ev.WorkflowCommand == "" {
		ev.WorkflowCommand = workflow
	}
	ev.Classification = "tag"
	return ev
}

func authorUsername(issue *gitlab.Issue) string {
	if issue.Author == nil {
		return ""
	}
	return issue.Author.Username
}
