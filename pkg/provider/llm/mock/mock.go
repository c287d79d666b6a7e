// Package mock is an in-memory llm.Provider for tests.
//
//	p := &mock.Provider{Replies: []string{`{"SiteCity":"Springfield"}`, `{}`}}
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/voiceform/pkg/provider/llm"
)

var _ llm.Provider = (*Provider)(nil)

// CompleteCall is one recorded request.
type CompleteCall struct {
	Req llm.CompletionRequest
}

// Provider answers Complete from its fields, checked in this order:
// CompleteFunc, CompleteErr, the next unused entry of Replies, then
// CompleteResponse. The zero value replies (nil, nil).
type Provider struct {
	CompleteFunc     func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)
	CompleteErr      error
	Replies          []string
	CompleteResponse *llm.CompletionResponse

	mu    sync.Mutex
	calls []CompleteCall
	next  int
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	p.calls = append(p.calls, CompleteCall{Req: req})
	var scripted *llm.CompletionResponse
	if p.CompleteFunc == nil && p.CompleteErr == nil && p.next < len(p.Replies) {
		scripted = &llm.CompletionResponse{Content: p.Replies[p.next]}
		p.next++
	}
	p.mu.Unlock()

	switch {
	case p.CompleteFunc != nil:
		return p.CompleteFunc(ctx, req)
	case p.CompleteErr != nil:
		return nil, p.CompleteErr
	case scripted != nil:
		return scripted, nil
	}
	return p.CompleteResponse, nil
}

// Calls returns the requests received so far.
func (p *Provider) Calls() []CompleteCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.calls)
}
