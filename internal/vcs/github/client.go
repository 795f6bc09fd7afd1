package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	gogithub "github.com/google/go-github/v68/github"
	"golang.org/x/oauth2"

	"github.com/izavyalov-dev/delta-qa/analysis"
)

var (
	// ErrNotFound is returned when the repository or pull request does not exist.
	ErrNotFound = errors.New("github: not found")
	// ErrRateLimited is returned when the API rate limit is exhausted.
	ErrRateLimited = errors.New("github: rate limited")
)

type FetchErrorKind string

const (
	FetchNotFound     FetchErrorKind = "not_found"
	FetchRateLimited  FetchErrorKind = "rate_limited"
	FetchUnauthorized FetchErrorKind = "unauthorized"
	FetchTooLarge     FetchErrorKind = "too_large"
	FetchNetwork      FetchErrorKind = "network"
	FetchUpstream     FetchErrorKind = "upstream"
)

// FetchError describes a failed GitHub API call. It matches ErrNotFound or
// ErrRateLimited where applicable and always matches analysis.ErrUpstream.
type FetchError struct {
	Kind       FetchErrorKind
	Repository string
	PRNumber   int
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("github %s#%d: %s (status %d): %v", e.Repository, e.PRNumber, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("github %s#%d: %s: %v", e.Repository, e.PRNumber, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() []error {
	errs := []error{analysis.ErrUpstream}
	switch e.Kind {
	case FetchNotFound:
		errs = append(errs, ErrNotFound)
	case FetchRateLimited:
		errs = append(errs, ErrRateLimited)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// ClientConfig configures API access. TokenSource wins over Token.
type ClientConfig struct {
	Token        string
	TokenSource  oauth2.TokenSource
	BaseURL      string
	MaxDiffBytes int
	HTTPClient   *http.Client
}

// Client wraps the GitHub REST API calls used by the pipeline.
type Client struct {
	gh           *gogithub.Client
	maxDiffBytes int
}

// NewClient builds an API client. Without credentials requests are
// unauthenticated and subject to the anonymous rate limit.
func NewClient(cfg ClientConfig) (*Client, error) {
	httpClient := cfg.HTTPClient
	ts := cfg.TokenSource
	if ts == nil && strings.TrimSpace(cfg.Token) != "" {
		ts = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: strings.TrimSpace(cfg.Token)})
	}
	if ts != nil {
		ctx := context.Background()
		if httpClient != nil {
			ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)
		}
		httpClient = oauth2.NewClient(ctx, ts)
	}

	gh := gogithub.NewClient(httpClient)
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		parsed, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("parse github base url: %w", err)
		}
		gh.BaseURL = parsed
	}
	return &Client{gh: gh, maxDiffBytes: cfg.MaxDiffBytes}, nil
}

// FetchDiff returns the unified diff of a pull request.
func (c *Client) FetchDiff(ctx context.Context, repository string, prNumber int) (string, error) {
	owner, name, err := SplitRepository(repository)
	if err != nil {
		return "", &FetchError{Kind: FetchNotFound, Repository: repository, PRNumber: prNumber, Err: err}
	}

	raw, resp, err := c.gh.PullRequests.GetRaw(ctx, owner, name, prNumber, gogithub.RawOptions{Type: gogithub.Diff})
	if err != nil {
		return "", classifyError(repository, prNumber, resp, err)
	}
	if c.maxDiffBytes > 0 && len(raw) > c.maxDiffBytes {
		return "", &FetchError{
			Kind:       FetchTooLarge,
			Repository: repository,
			PRNumber:   prNumber,
			Err:        fmt.Errorf("diff is %d bytes, limit %d", len(raw), c.maxDiffBytes),
		}
	}
	return raw, nil
}

// ListPaths returns every file path in the repository tree at ref.
func (c *Client) ListPaths(ctx context.Context, repository, ref string) ([]string, error) {
	owner, name, err := SplitRepository(repository)
	if err != nil {
		return nil, err
	}
	tree, resp, err := c.gh.Git.GetTree(ctx, owner, name, ref, true)
	if err != nil {
		return nil, classifyError(repository, 0, resp, err)
	}
	paths := make([]string, 0, len(tree.Entries))
	for _, entry := range tree.Entries {
		if entry.GetType() == "blob" {
			paths = append(paths, entry.GetPath())
		}
	}
	return paths, nil
}

// CreateComment posts a new issue comment on a pull request.
func (c *Client) CreateComment(ctx context.Context, repository string, prNumber int, body string) (int64, error) {
	owner, name, err := SplitRepository(repository)
	if err != nil {
		return 0, err
	}
	comment, resp, err := c.gh.Issues.CreateComment(ctx, owner, name, prNumber, &gogithub.IssueComment{Body: gogithub.Ptr(body)})
	if err != nil {
		return 0, classifyError(repository, prNumber, resp, err)
	}
	return comment.GetID(), nil
}

// EditComment replaces the body of an existing comment.
func (c *Client) EditComment(ctx context.Context, repository string, commentID int64, body string) error {
	owner, name, err := SplitRepository(repository)
	if err != nil {
		return err
	}
	_, resp, err := c.gh.Issues.EditComment(ctx, owner, name, commentID, &gogithub.IssueComment{Body: gogithub.Ptr(body)})
	if err != nil {
		return classifyError(repository, 0, resp, err)
	}
	return nil
}

// FindComment returns the id of the first comment whose body contains marker.
func (c *Client) FindComment(ctx context.Context, repository string, prNumber int, marker string) (int64, bool, error) {
	owner, name, err := SplitRepository(repository)
	if err != nil {
		return 0, false, err
	}
	opts := &gogithub.IssueListCommentsOptions{ListOptions: gogithub.ListOptions{PerPage: 100}}
	for {
		comments, resp, err := c.gh.Issues.ListComments(ctx, owner, name, prNumber, opts)
		if err != nil {
			return 0, false, classifyError(repository, prNumber, resp, err)
		}
		for _, comment := range comments {
			if strings.Contains(comment.GetBody(), marker) {
				return comment.GetID(), true, nil
			}
		}
		if resp == nil || resp.NextPage == 0 {
			return 0, false, nil
		}
		opts.Page = resp.NextPage
	}
}

func classifyError(repository string, prNumber int, resp *gogithub.Response, err error) error {
	fetchErr := &FetchError{Kind: FetchUpstream, Repository: repository, PRNumber: prNumber, Err: err}
	if resp != nil && resp.Response != nil {
		fetchErr.StatusCode = resp.StatusCode
	}

	var rateErr *gogithub.RateLimitError
	var abuseErr *gogithub.AbuseRateLimitError
	var respErr *gogithub.ErrorResponse
	switch {
	case errors.As(err, &rateErr), errors.As(err, &abuseErr):
		fetchErr.Kind = FetchRateLimited
	case errors.As(err, &respErr) && respErr.Response != nil:
		fetchErr.StatusCode = respErr.Response.StatusCode
		switch respErr.Response.StatusCode {
		case http.StatusNotFound:
			fetchErr.Kind = FetchNotFound
		case http.StatusUnauthorized:
			fetchErr.Kind = FetchUnauthorized
		case http.StatusTooManyRequests:
			fetchErr.Kind = FetchRateLimited
		case http.StatusForbidden:
			if resp != nil && resp.Rate.Limit > 0 && resp.Rate.Remaining == 0 {
				fetchErr.Kind = FetchRateLimited
			} else {
				fetchErr.Kind = FetchUnauthorized
			}
		}
	case fetchErr.StatusCode == 0:
		fetchErr.Kind = FetchNetwork
	}
	return fetchErr
}

// IsNotFound reports whether err describes a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
