// Package gitfeed polls a GitHub repository for new commits and converts
// them into action events, so a push counts as the accountable agent acting
// on its open loop.
package gitfeed

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/google/go-github/v68/github"
	"github.com/zulandar/missionctl/internal/loop"
	"golang.org/x/oauth2"
)

const defaultPollInterval = 2 * time.Minute

// commitLister abstracts the GitHub API methods we use, enabling test mocks.
type commitLister interface {
	ListCommits(ctx context.Context, owner, repo string, opts *github.CommitsListOptions) ([]*github.RepositoryCommit, *github.Response, error)
}

// Feed polls one repository and feeds commits into the loop tracker.
type Feed struct {
	client  commitLister
	tracker *loop.Tracker
	owner   string
	repo    string
	// agents maps GitHub logins to agent names. Commits from unmapped
	// logins are ignored.
	agents map[string]string
	since  time.Time
}

// Opts holds parameters for creating a Feed.
type Opts struct {
	Token    string
	Owner    string
	Repo     string
	AgentMap map[string]string
	Tracker  *loop.Tracker
	// Since bounds the first poll; zero means "from now".
	Since time.Time
	// For testing: inject a mock client instead of the real GitHub API.
	Client commitLister
}

// New creates a commit feed for owner/repo.
func New(opts Opts) (*Feed, error) {
	if opts.Owner == "" || opts.Repo == "" {
		return nil, fmt.Errorf("gitfeed: owner and repo are required")
	}
	if opts.Tracker == nil {
		return nil, fmt.Errorf("gitfeed: tracker is required")
	}
	if opts.Client == nil && opts.Token == "" {
		return nil, fmt.Errorf("gitfeed: token is required")
	}

	client := opts.Client
	if client == nil {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.Token})
		client = github.NewClient(oauth2.NewClient(context.Background(), ts)).Repositories
	}

	since := opts.Since
	if since.IsZero() {
		since = time.Now()
	}

	return &Feed{
		client:  client,
		tracker: opts.Tracker,
		owner:   opts.Owner,
		repo:    opts.Repo,
		agents:  opts.AgentMap,
		since:   since,
	}, nil
}

// Poll fetches commits newer than the high-water mark and records an action
// event for each commit by a mapped agent. Returns the number of events
// that advanced a loop.
func (f *Feed) Poll(ctx context.Context) (int, error) {
	opts := &github.CommitsListOptions{
		Since:       f.since,
		ListOptions: github.ListOptions{PerPage: 100},
	}

	var commits []*github.RepositoryCommit
	for {
		page, resp, err := f.client.ListCommits(ctx, f.owner, f.repo, opts)
		if err != nil {
			return 0, fmt.Errorf("gitfeed: list commits %s/%s: %w", f.owner, f.repo, err)
		}
		commits = append(commits, page...)
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	advanced := 0
	for _, c := range commits {
		at := commitTime(c)
		if at.After(f.since) {
			f.since = at
		}
		agent := f.agents[commitLogin(c)]
		if agent == "" {
			continue
		}
		l, err := f.tracker.HandleEvent(loop.Event{Kind: loop.EventAction, Agent: agent, At: at})
		if err != nil {
			log.Printf("gitfeed: commit %s by %s: %v", c.GetSHA(), agent, err)
			continue
		}
		if l != nil {
			advanced++
		}
	}
	return advanced, nil
}

// Run polls until ctx is cancelled. Poll errors are logged and retried on
// the next tick.
func (f *Feed) Run(ctx context.Context, interval time.Duration, out io.Writer) {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	if out == nil {
		out = io.Discard
	}
	fmt.Fprintf(out, "Commit feed watching %s/%s (poll every %s)\n", f.owner, f.repo, interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := f.Poll(ctx)
			if err != nil {
				log.Printf("gitfeed: poll: %v", err)
				continue
			}
			if n > 0 {
				fmt.Fprintf(out, "Commit feed advanced %d loop(s)\n", n)
			}
		}
	}
}

func commitLogin(c *github.RepositoryCommit) string {
	if c.Author != nil {
		return c.Author.GetLogin()
	}
	return ""
}

func commitTime(c *github.RepositoryCommit) time.Time {
	if c.Commit != nil && c.Commit.Committer != nil {
		return c.Commit.Committer.GetDate().Time
	}
	return time.Time{}
}
