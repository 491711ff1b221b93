package community

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"

	gogithub "github.com/google/go-github/v69/github"

	"github.com/nugget/butler/internal/tools"
)

// githubIssuesEntry searches the issues of one repository. init_args:
// repo (owner/name, required), token_env (default GITHUB_TOKEN), url
// for GitHub Enterprise, and max_results.
func githubIssuesEntry(httpClient *http.Client) Entry {
	return Entry{
		Description: "Search the issues and pull requests of the configured GitHub repository.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "GitHub search terms, e.g. \"crash on startup\".",
				},
				"state": map[string]any{
					"type": "string",
					"enum": []any{"open", "closed", "all"},
				},
			},
			"required": []any{"query"},
		},
		New: func(args Args) (tools.Impl, error) {
			gi, err := newGitHubIssues(httpClient, args)
			if err != nil {
				return tools.Impl{}, err
			}
			return tools.Func(gi.call), nil
		},
	}
}

type githubIssues struct {
	client *gogithub.Client
	repo   string
	limit  int
}

func newGitHubIssues(httpClient *http.Client, args Args) (*githubIssues, error) {
	repo := args.String("repo", "")
	parts := strings.SplitN(repo, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, fmt.Errorf("invalid repo %q: expected owner/repo", repo)
	}
	limit, err := args.Int("max_results", 10)
	if err != nil {
		return nil, err
	}

	client := gogithub.NewClient(httpClient)
	if token := os.Getenv(args.String("token_env", "GITHUB_TOKEN")); token != "" {
		client = client.WithAuthToken(token)
	}
	if u := args.String("url", ""); u != "" {
		client, err = client.WithEnterpriseURLs(u, u)
		if err != nil {
			return nil, fmt.Errorf("github url: %w", err)
		}
	}
	return &githubIssues{client: client, repo: repo, limit: limit}, nil
}

func (g *githubIssues) call(ctx context.Context, args map[string]any) (any, error) {
	query, _ := args["query"].(string)
	q := fmt.Sprintf("repo:%s %s", g.repo, strings.TrimSpace(query))
	switch state, _ := args["state"].(string); state {
	case "open", "closed":
		q += " state:" + state
	}

	opts := &gogithub.SearchOptions{ListOptions: gogithub.ListOptions{PerPage: g.limit}}
	r, _, err := g.client.Search.Issues(ctx, q, opts)
	if err != nil {
		return nil, fmt.Errorf("search issues: %w", err)
	}
	if len(r.Issues) == 0 {
		return "No matching issues.", nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d matching issues in %s", r.GetTotal(), g.repo)
	for _, item := range r.Issues {
		kind := "issue"
		if item.IsPullRequest() {
			kind = "pr"
		}
		fmt.Fprintf(&b, "\n#%d [%s, %s] %s\n   %s", item.GetNumber(), kind, item.GetState(), item.GetTitle(), item.GetHTMLURL())
	}
	return b.String(), nil
}
