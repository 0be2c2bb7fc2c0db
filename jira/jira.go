// Package jira synchronizes correlated mails with a Jira project:
// search by ticket token, create an issue, or append a comment.
package jira

import (
	"fmt"
	"log/slog"

	gojira "github.com/andygrunwald/go-jira"

	"mailticket/model"
)

// Issue identifies one tracker item.
type Issue struct {
	ID  string
	Key string
}

// Tracker is the tracker surface the sync engine needs.
type Tracker interface {
	SearchByToken(prefixedToken string) ([]Issue, error)
	CreateItem(summary, description string) (Issue, error)
	AddComment(issue Issue, body string) error
}

// Options configure the Jira REST client.
type Options struct {
	URL      string
	Username string
	Password string
	Project  string
}

// Client implements Tracker against the Jira REST API with basic auth.
type Client struct {
	jira    *gojira.Client
	project string
}

// NewClient connects to the configured Jira instance.
func NewClient(opts Options) (*Client, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("jira url is empty")
	}
	if opts.Project == "" {
		return nil, fmt.Errorf("jira project is empty")
	}

	tp := gojira.BasicAuthTransport{
		Username: opts.Username,
		Password: opts.Password,
	}
	client, err := gojira.NewClient(tp.Client(), opts.URL)
	if err != nil {
		return nil, fmt.Errorf("jira client for %s: %w", opts.URL, err)
	}

	return &Client{jira: client, project: opts.Project}, nil
}

// SearchByToken finds the issues whose summary carries the literal
// "[#<token>]" marker.
func (c *Client) SearchByToken(prefixedToken string) ([]Issue, error) {
	jql := fmt.Sprintf(`project = %s AND summary ~ '\\[\\#%s\\]'`, c.project, prefixedToken)
	found, _, err := c.jira.Issue.Search(jql, &gojira.SearchOptions{MaxResults: 50})
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", prefixedToken, err)
	}

	issues := make([]Issue, 0, len(found))
	for _, issue := range found {
		issues = append(issues, Issue{ID: issue.ID, Key: issue.Key})
	}
	return issues, nil
}

// CreateItem opens a new Task issue in the configured project.
func (c *Client) CreateItem(summary, description string) (Issue, error) {
	created, _, err := c.jira.Issue.Create(&gojira.Issue{
		Fields: &gojira.IssueFields{
			Project:     gojira.Project{Key: c.project},
			Summary:     summary,
			Description: description,
			Type:        gojira.IssueType{Name: "Task"},
		},
	})
	if err != nil {
		return Issue{}, fmt.Errorf("create issue: %w", err)
	}
	return Issue{ID: created.ID, Key: created.Key}, nil
}

// AddComment appends a comment to an existing issue.
func (c *Client) AddComment(issue Issue, body string) error {
	if _, _, err := c.jira.Issue.AddComment(issue.ID, &gojira.Comment{Body: body}); err != nil {
		return fmt.Errorf("comment on %s: %w", issue.Key, err)
	}
	return nil
}

// Syncer applies one correlated mail to the tracker.
type Syncer struct {
	tracker Tracker
	logger  *slog.Logger
}

// NewSyncer wires a sync engine to a tracker.
func NewSyncer(tracker Tracker, logger *slog.Logger) *Syncer {
	return &Syncer{tracker: tracker, logger: logger}
}

// Sync searches for issues carrying the mail's token, comments on each
// hit, or creates a new issue when none exist. Tracker failures are
// reported in the outcome, never raised: one bad ticket must not abort
// the cycle.
//
// Search-then-create is not atomic against the tracker's own consistency
// model; an eventually-consistent search index can miss a just-created
// issue and cause a duplicate create on the next cycle.
func (s *Syncer) Sync(identity model.TicketIdentity, body, sender, subject string) model.SyncOutcome {
	issues, err := s.tracker.SearchByToken(identity.PrefixedToken)
	if err != nil {
		s.logger.Warn("tracker search failed", "token", identity.PrefixedToken, "err", err)
		return model.SyncOutcome{}
	}

	text := composeText(identity, sender, body)

	if len(issues) > 0 {
		for _, issue := range issues {
			s.logger.Info("adding comment", "issue", issue.Key, "token", identity.PrefixedToken)
			if err := s.tracker.AddComment(issue, text); err != nil {
				s.logger.Warn("tracker comment failed", "issue", issue.Key, "err", err)
				return model.SyncOutcome{}
			}
		}
		return model.SyncOutcome{Success: true}
	}

	summary := fmt.Sprintf("[#%s] %s", identity.PrefixedToken, subject)
	s.logger.Info("creating issue", "token", identity.PrefixedToken, "summary", summary)
	issue, err := s.tracker.CreateItem(summary, text)
	if err != nil {
		s.logger.Warn("tracker create failed", "token", identity.PrefixedToken, "err", err)
		return model.SyncOutcome{}
	}
	s.logger.Info("issue created", "issue", issue.Key, "token", identity.PrefixedToken)

	return model.SyncOutcome{Success: true, CreatedNew: true}
}

func composeText(identity model.TicketIdentity, sender, body string) string {
	return fmt.Sprintf("Imported from email (sequential id %d)\n\nFrom: %s\n\n%s",
		identity.SequenceNumber, sender, body)
}
