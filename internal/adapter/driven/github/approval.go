package github

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	gh "github.com/google/go-github/v82/github"

	"github.com/ericfisherdev/staticdeploy/internal/domain/model"
	"github.com/ericfisherdev/staticdeploy/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.ApprovalChannel = (*ApprovalChannel)(nil)

var (
	approveWords = map[string]bool{"approve": true, "approved": true, "lgtm": true, "yes": true}
	rejectWords  = map[string]bool{"deny": true, "denied": true, "no": true, "reject": true, "rejected": true}
)

// ApprovalChannel asks for approval through a GitHub issue assigned to the
// approvers. An approver decides by commenting a word such as "approve" or
// "deny" on the issue.
type ApprovalChannel struct {
	client *Client
	labels []string
}

// NewApprovalChannel creates an issue-backed approval channel.
func NewApprovalChannel(client *Client, labels ...string) *ApprovalChannel {
	return &ApprovalChannel{client: client, labels: labels}
}

// Request opens the approval issue.
func (a *ApprovalChannel) Request(ctx context.Context, req model.ApprovalRequest) (model.ApprovalHandle, error) {
	c := a.client

	title := fmt.Sprintf("Approve deployment of %s to %s", req.Ref.RefLabel, req.Environment)
	body := fmt.Sprintf(
		"Deployment of `%s` (%s) to **%s** is waiting for approval.\n\n"+
			"Target: %s\n\nApprovers: %s\n\n"+
			"Comment `approve` to continue or `deny` to stop the deployment.",
		req.Ref.RefLabel, req.Ref.CommitSHA, req.Environment, req.TargetURL,
		strings.Join(prefixAt(req.Approvers), ", "),
	)

	issueReq := &gh.IssueRequest{
		Title:     gh.Ptr(title),
		Body:      gh.Ptr(body),
		Assignees: &req.Approvers,
	}
	if len(a.labels) > 0 {
		issueReq.Labels = &a.labels
	}

	issue, resp, err := c.gh.Issues.Create(ctx, c.owner, c.repo, issueReq)
	if err != nil {
		return model.ApprovalHandle{}, fmt.Errorf("creating approval issue in %s: %w", c.Repository(), err)
	}

	logRateLimit(resp, c.Repository()+"/issues", 0, 1)
	return model.ApprovalHandle{ID: strconv.Itoa(issue.GetNumber()), URL: issue.GetHTMLURL()}, nil
}

// Poll returns every decision comment on the approval issue, oldest first.
// Comments that are not decisions are skipped.
func (a *ApprovalChannel) Poll(ctx context.Context, handle model.ApprovalHandle) ([]model.ApprovalAction, error) {
	c := a.client
	number, err := strconv.Atoi(handle.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid approval issue %q: %w", handle.ID, err)
	}

	opts := &gh.IssueListCommentsOptions{
		Sort:        gh.Ptr("created"),
		Direction:   gh.Ptr("asc"),
		ListOptions: gh.ListOptions{PerPage: 100},
	}
	var actions []model.ApprovalAction

	for {
		comments, resp, err := c.gh.Issues.ListComments(ctx, c.owner, c.repo, number, opts)
		if err != nil {
			return nil, fmt.Errorf("listing comments on %s#%d (page %d): %w", c.Repository(), number, opts.Page, err)
		}

		logRateLimit(resp, c.Repository()+"/issue-comments", opts.Page, len(comments))

		for _, comment := range comments {
			decision, ok := parseDecision(comment.GetBody())
			if !ok {
				continue
			}
			actions = append(actions, model.ApprovalAction{
				Identity: comment.GetUser().GetLogin(),
				Decision: decision,
				At:       comment.GetCreatedAt().Time,
			})
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return actions, nil
}

// Resolve comments the outcome and closes the approval issue.
func (a *ApprovalChannel) Resolve(ctx context.Context, handle model.ApprovalHandle, state model.ApprovalState, decidedBy string) error {
	c := a.client
	number, err := strconv.Atoi(handle.ID)
	if err != nil {
		return fmt.Errorf("invalid approval issue %q: %w", handle.ID, err)
	}

	body := "Deployment " + string(state)
	if decidedBy != "" {
		body += " by @" + decidedBy
	}
	body += "."

	if _, _, err := c.gh.Issues.CreateComment(ctx, c.owner, c.repo, number, &gh.IssueComment{Body: gh.Ptr(body)}); err != nil {
		return fmt.Errorf("commenting on %s#%d: %w", c.Repository(), number, err)
	}

	reason := "completed"
	if state != model.ApprovalApproved {
		reason = "not_planned"
	}
	_, _, err = c.gh.Issues.Edit(ctx, c.owner, c.repo, number, &gh.IssueRequest{
		State:       gh.Ptr("closed"),
		StateReason: gh.Ptr(reason),
	})
	if err != nil {
		return fmt.Errorf("closing %s#%d: %w", c.Repository(), number, err)
	}
	return nil
}

// parseDecision reads the first word of a comment.
func parseDecision(body string) (model.ApprovalDecision, bool) {
	fields := strings.Fields(strings.ToLower(body))
	if len(fields) == 0 {
		return "", false
	}
	word := strings.TrimFunc(fields[0], func(r rune) bool { return !unicode.IsLetter(r) })

	switch {
	case approveWords[word]:
		return model.DecisionApprove, true
	case rejectWords[word]:
		return model.DecisionReject, true
	default:
		return "", false
	}
}

func prefixAt(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = "@" + n
	}
	return out
}
