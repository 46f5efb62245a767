package workflow

import (
	"context"

	"github.com/gitlify/gitlify/internal/githost"
	"github.com/gitlify/gitlify/internal/llm"
	"github.com/gitlify/gitlify/model"
)

// fakeHost is an in-memory githost.Client for stage and orchestrator
// tests.
type fakeHost struct {
	meta    *model.RepositoryMeta
	files   map[string]string          // path -> decoded content
	dirs    map[string][]githost.Entry // path -> entries, "" for root
	repoErr error
}

func (h *fakeHost) GetRepo(_ context.Context, owner, name string) (*model.RepositoryMeta, error) {
	if h.repoErr != nil {
		return nil, h.repoErr
	}
	if h.meta != nil {
		return h.meta, nil
	}
	return &model.RepositoryMeta{Owner: owner, Name: name}, nil
}

func (h *fakeHost) GetFile(_ context.Context, _, _, path string) (string, error) {
	if content, ok := h.files[path]; ok {
		return content, nil
	}
	return "", githost.ErrPathNotFound
}

func (h *fakeHost) ListDir(_ context.Context, _, _, path string) ([]githost.Entry, error) {
	if entries, ok := h.dirs[path]; ok {
		return entries, nil
	}
	return nil, githost.ErrPathNotFound
}

// fakeGateway returns scripted completions in order, repeating the last
// one when exhausted.
type fakeGateway struct {
	responses []string
	calls     []llm.CompletionRequest
	err       error
}

func (g *fakeGateway) Provider() string { return "fake" }

func (g *fakeGateway) Complete(_ context.Context, req llm.CompletionRequest) (*llm.Completion, error) {
	g.calls = append(g.calls, req)
	if g.err != nil {
		return nil, g.err
	}

	text := ""
	if len(g.responses) > 0 {
		idx := len(g.calls) - 1
		if idx >= len(g.responses) {
			idx = len(g.responses) - 1
		}
		text = g.responses[idx]
	}
	return &llm.Completion{Text: text, Usage: llm.Usage{TotalTokens: 42}}, nil
}
