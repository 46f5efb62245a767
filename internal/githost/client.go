// Package githost fetches repository metadata and file content from a
// code-host API. Only read operations are exposed; the service never
// mutates anything on the host.
package githost

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/gitlify/gitlify/internal/config"
	"github.com/gitlify/gitlify/internal/observability"
	"github.com/gitlify/gitlify/model"
)

// ErrPathNotFound is returned when a file or directory does not exist in
// the repository. Best-effort fetches check for it and carry on.
var ErrPathNotFound = errors.New("githost: path not found")

// Entry is one item in a repository directory listing.
type Entry struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Type string `json:"type"` // "file" or "dir"
	Size int    `json:"size"`
}

// Client reads repository metadata and content.
type Client interface {
	// GetRepo fetches repository metadata. A missing or inaccessible
	// repository yields a REPOSITORY_NOT_FOUND error envelope.
	GetRepo(ctx context.Context, owner, name string) (*model.RepositoryMeta, error)

	// GetFile fetches and decodes one file's content. Returns
	// ErrPathNotFound if the path does not exist or is not a file.
	GetFile(ctx context.Context, owner, name, path string) (string, error)

	// ListDir lists one directory. Returns ErrPathNotFound if the path
	// does not exist or is not a directory.
	ListDir(ctx context.Context, owner, name, path string) ([]Entry, error)
}

// GitHubClient talks to the GitHub REST v3 API.
type GitHubClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *zap.Logger
	metrics    *observability.Metrics
}

// NewGitHubClient creates a client for the configured GitHub endpoint. The
// token is resolved from the environment variable named in the config; an
// empty token limits the client to public repositories.
func NewGitHubClient(cfg config.GitHubConfig, logger *zap.Logger, metrics *observability.Metrics) *GitHubClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	token := ""
	if cfg.TokenEnv != "" {
		token = os.Getenv(cfg.TokenEnv)
	}
	return &GitHubClient{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		metrics:    metrics,
	}
}

type repoResponse struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Language    string   `json:"language"`
	Topics      []string `json:"topics"`
	Owner       struct {
		Login string `json:"login"`
	} `json:"owner"`
}

type contentsResponse struct {
	Name     string `json:"name"`
	Path     string `json:"path"`
	Type     string `json:"type"`
	Size     int    `json:"size"`
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

// GetRepo implements Client.
func (c *GitHubClient) GetRepo(ctx context.Context, owner, name string) (*model.RepositoryMeta, error) {
	body, err := c.get(ctx, "get_repo", fmt.Sprintf("/repos/%s/%s", url.PathEscape(owner), url.PathEscape(name)))
	if err != nil {
		if errors.Is(err, ErrPathNotFound) {
			return nil, model.NewRepositoryNotFoundError(owner + "/" + name)
		}
		return nil, err
	}

	var repo repoResponse
	if err := json.Unmarshal(body, &repo); err != nil {
		return nil, fmt.Errorf("githost: decode repo: %w", err)
	}

	return &model.RepositoryMeta{
		Owner:       repo.Owner.Login,
		Name:        repo.Name,
		Description: repo.Description,
		Language:    repo.Language,
		Topics:      repo.Topics,
	}, nil
}

// GetFile implements Client.
func (c *GitHubClient) GetFile(ctx context.Context, owner, name, path string) (string, error) {
	body, err := c.get(ctx, "get_file", contentsPath(owner, name, path))
	if err != nil {
		return "", err
	}

	var file contentsResponse
	if err := json.Unmarshal(body, &file); err != nil {
		// A directory listing comes back as a JSON array.
		return "", ErrPathNotFound
	}
	if file.Type != "file" {
		return "", ErrPathNotFound
	}
	if file.Encoding != "base64" {
		return file.Content, nil
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(file.Content, "\n", ""))
	if err != nil {
		return "", fmt.Errorf("githost: decode %s: %w", path, err)
	}
	return string(decoded), nil
}

// ListDir implements Client.
func (c *GitHubClient) ListDir(ctx context.Context, owner, name, path string) ([]Entry, error) {
	body, err := c.get(ctx, "list_dir", contentsPath(owner, name, path))
	if err != nil {
		return nil, err
	}

	var entries []Entry
	if err := json.Unmarshal(body, &entries); err != nil {
		// A single file comes back as a JSON object.
		return nil, ErrPathNotFound
	}
	return entries, nil
}

func contentsPath(owner, name, path string) string {
	p := fmt.Sprintf("/repos/%s/%s/contents", url.PathEscape(owner), url.PathEscape(name))
	if path != "" {
		for _, seg := range strings.Split(path, "/") {
			p += "/" + url.PathEscape(seg)
		}
	}
	return p
}

// get performs one API request and returns the raw response body.
func (c *GitHubClient) get(ctx context.Context, operation, path string) ([]byte, error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("githost: build request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	observability.InjectTraceHeaders(ctx, req.Header)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if c.metrics != nil {
			c.metrics.RecordGitHostRequest(operation, 0, time.Since(start))
		}
		return nil, fmt.Errorf("githost: %s: %w", operation, err)
	}
	defer resp.Body.Close()

	if c.metrics != nil {
		c.metrics.RecordGitHostRequest(operation, resp.StatusCode, time.Since(start))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("githost: read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrPathNotFound
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		c.logger.Warn("githost access denied",
			zap.String("operation", operation),
			zap.Int("status", resp.StatusCode),
		)
		return nil, ErrPathNotFound
	default:
		return nil, fmt.Errorf("githost: %s: status %d", operation, resp.StatusCode)
	}
}
