package github

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/izavyalov-dev/delta-qa/analysis"
)

const (
	EventPing        = "ping"
	EventPush        = "push"
	EventPullRequest = "pull_request"

	HeaderSignature = "X-Hub-Signature-256"
	HeaderEvent     = "X-GitHub-Event"
	HeaderDelivery  = "X-GitHub-Delivery"

	signaturePrefix = "sha256="
)

// WebhookEvent is a parsed pull_request delivery.
type WebhookEvent struct {
	Action             string
	PRNumber           int
	RepositoryFullName string
	Owner              string
	Name               string
	HeadSHA            string
	BaseSHA            string
	HeadRef            string
	BaseRef            string
	Title              string
	Author             string
	HTMLURL            string
	Merged             bool
}

// Actionable reports whether the action should start an analysis run.
func (e WebhookEvent) Actionable() bool {
	return IsActionable(e.Action)
}

// Subject returns the report identity for this event.
func (e WebhookEvent) Subject() analysis.Subject {
	return analysis.Subject{
		Repository: e.RepositoryFullName,
		PRNumber:   e.PRNumber,
		PRURL:      e.HTMLURL,
		CommitSHA:  e.HeadSHA,
		Action:     e.Action,
	}
}

// EventKey derives a deterministic idempotency key. It is used when a
// delivery arrives without an X-GitHub-Delivery header.
func (e WebhookEvent) EventKey() string {
	payload := fmt.Sprintf("%s|%s|%s|%d", e.RepositoryFullName, e.HeadSHA, e.Action, e.PRNumber)
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// IsActionable is true for opened, synchronize and reopened.
func IsActionable(action string) bool {
	switch action {
	case "opened", "synchronize", "reopened":
		return true
	default:
		return false
	}
}

// VerifySignature checks an X-Hub-Signature-256 header against the raw body.
// Anything other than a "sha256=" header, an empty secret, or a mismatch
// yields false.
func VerifySignature(body []byte, signatureHeader, secret string) bool {
	if secret == "" || !strings.HasPrefix(signatureHeader, signaturePrefix) {
		return false
	}
	expected := computeSignature(body, secret)
	provided := signatureHeader[len(signaturePrefix):]
	return hmac.Equal([]byte(expected), []byte(provided))
}

// Sign returns the X-Hub-Signature-256 header value for body.
func Sign(body []byte, secret string) string {
	return signaturePrefix + computeSignature(body, secret)
}

func computeSignature(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// ValidationError reports a structurally invalid payload.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid payload: %s: %s", e.Field, e.Reason)
}

// IsValidationError reports whether err is (or wraps) a ValidationError.
func IsValidationError(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

type repoRef struct {
	FullName string `json:"full_name"`
	Name     string `json:"name"`
	Owner    struct {
		Login string `json:"login"`
	} `json:"owner"`
}

type branchRef struct {
	SHA string `json:"sha"`
	Ref string `json:"ref"`
}

type pullRequestPayload struct {
	Action      *string `json:"action"`
	Number      *int    `json:"number"`
	PullRequest *struct {
		Number  int       `json:"number"`
		Title   string    `json:"title"`
		HTMLURL string    `json:"html_url"`
		Merged  bool      `json:"merged"`
		Head    branchRef `json:"head"`
		Base    branchRef `json:"base"`
		User    struct {
			Login string `json:"login"`
		} `json:"user"`
	} `json:"pull_request"`
	Repository *repoRef `json:"repository"`
}

// ParsePullRequestEvent decodes a pull_request payload. Missing or malformed
// repository and PR number fields produce a *ValidationError; unknown actions
// are returned as-is and reported non-actionable by the event.
func ParsePullRequestEvent(body []byte) (WebhookEvent, error) {
	var payload pullRequestPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return WebhookEvent{}, &ValidationError{Field: typeErr.Field, Reason: fmt.Sprintf("expected %s", typeErr.Type)}
		}
		return WebhookEvent{}, &ValidationError{Field: "body", Reason: "malformed JSON"}
	}

	if payload.Action == nil || strings.TrimSpace(*payload.Action) == "" {
		return WebhookEvent{}, &ValidationError{Field: "action", Reason: "required"}
	}

	number := 0
	if payload.Number != nil {
		number = *payload.Number
	} else if payload.PullRequest != nil {
		number = payload.PullRequest.Number
	}
	if number <= 0 {
		return WebhookEvent{}, &ValidationError{Field: "number", Reason: "must be a positive integer"}
	}

	if payload.Repository == nil {
		return WebhookEvent{}, &ValidationError{Field: "repository", Reason: "required"}
	}
	owner, name, fullName := normalizeRepo(*payload.Repository)
	if owner == "" || name == "" || fullName == "" {
		return WebhookEvent{}, &ValidationError{Field: "repository.full_name", Reason: "must be owner/repo"}
	}

	evt := WebhookEvent{
		Action:             strings.TrimSpace(*payload.Action),
		PRNumber:           number,
		RepositoryFullName: fullName,
		Owner:              owner,
		Name:               name,
	}
	if pr := payload.PullRequest; pr != nil {
		evt.HeadSHA = pr.Head.SHA
		evt.HeadRef = pr.Head.Ref
		evt.BaseSHA = pr.Base.SHA
		evt.BaseRef = pr.Base.Ref
		evt.Title = pr.Title
		evt.Author = pr.User.Login
		evt.HTMLURL = pr.HTMLURL
		evt.Merged = pr.Merged
	}
	return evt, nil
}

// PushEvent carries the fields of a push delivery that are audited.
type PushEvent struct {
	Ref                string
	After              string
	RepositoryFullName string
	Deleted            bool
}

type pushPayload struct {
	Ref        string  `json:"ref"`
	After      string  `json:"after"`
	Deleted    bool    `json:"deleted"`
	Repository repoRef `json:"repository"`
}

// ParsePushEvent decodes a push payload. Push events are recorded but never
// analyzed.
func ParsePushEvent(body []byte) (PushEvent, error) {
	var payload pushPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return PushEvent{}, &ValidationError{Field: "body", Reason: "malformed JSON"}
	}
	_, _, fullName := normalizeRepo(payload.Repository)
	if fullName == "" {
		return PushEvent{}, &ValidationError{Field: "repository.full_name", Reason: "required"}
	}
	return PushEvent{
		Ref:                payload.Ref,
		After:              payload.After,
		RepositoryFullName: fullName,
		Deleted:            payload.Deleted,
	}, nil
}

// SplitRepository splits "owner/repo".
func SplitRepository(fullName string) (owner, name string, err error) {
	parts := strings.SplitN(strings.TrimSpace(fullName), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" || strings.Contains(parts[1], "/") {
		return "", "", fmt.Errorf("repository %q is not owner/repo", fullName)
	}
	return parts[0], parts[1], nil
}

func normalizeRepo(repo repoRef) (owner string, name string, fullName string) {
	owner = strings.TrimSpace(repo.Owner.Login)
	name = strings.TrimSpace(repo.Name)
	fullName = strings.TrimSpace(repo.FullName)
	if fullName == "" && owner != "" && name != "" {
		fullName = owner + "/" + name
	}
	if fullName != "" {
		splitOwner, splitName, err := SplitRepository(fullName)
		if err != nil {
			return "", "", ""
		}
		if owner == "" {
			owner = splitOwner
		}
		if name == "" {
			name = splitName
		}
	}
	return owner, name, fullName
}
