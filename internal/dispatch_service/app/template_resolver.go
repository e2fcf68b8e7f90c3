package app

import (
	"context"
	"fmt"
	"regexp"
	"sync"

	"github.com/worksuite/smsdispatch/internal/dispatch_service/domain"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_]+)\s*\}\}`)

// InMemoryTemplateResolver resolves message templates from a process-local
// map. Placeholders use {{name}} syntax; placeholders without a supplied
// variable are left intact so the omission is visible downstream.
type InMemoryTemplateResolver struct {
	mu        sync.RWMutex
	templates map[string]string
}

func NewInMemoryTemplateResolver(seed map[string]string) *InMemoryTemplateResolver {
	templates := make(map[string]string, len(seed))
	for id, body := range seed {
		templates[id] = body
	}
	return &InMemoryTemplateResolver{templates: templates}
}

// Register adds or replaces a template.
func (r *InMemoryTemplateResolver) Register(id, body string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates[id] = body
}

func (r *InMemoryTemplateResolver) Resolve(ctx context.Context, templateID string, variables map[string]string) (string, error) {
	r.mu.RLock()
	body, ok := r.templates[templateID]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %q", domain.ErrTemplateNotFound, templateID)
	}

	resolved := placeholderPattern.ReplaceAllStringFunc(body, func(match string) string {
		name := placeholderPattern.FindStringSubmatch(match)[1]
		if value, ok := variables[name]; ok {
			return value
		}
		return match
	})
	return resolved, nil
}

// InMemoryGroupResolver expands contact groups from a process-local map.
// Unknown group ids expand to nothing rather than failing the whole bulk
// request.
type InMemoryGroupResolver struct {
	mu     sync.RWMutex
	groups map[string][]string
}

func NewInMemoryGroupResolver(seed map[string][]string) *InMemoryGroupResolver {
	groups := make(map[string][]string, len(seed))
	for id, members := range seed {
		groups[id] = append([]string(nil), members...)
	}
	return &InMemoryGroupResolver{groups: groups}
}

func (r *InMemoryGroupResolver) Register(id string, members []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.groups[id] = append([]string(nil), members...)
}

func (r *InMemoryGroupResolver) Expand(ctx context.Context, groupIDs []string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var members []string
	for _, id := range groupIDs {
		members = append(members, r.groups[id]...)
	}
	return members, nil
}

var (
	_ domain.TemplateResolver = (*InMemoryTemplateResolver)(nil)
	_ domain.GroupResolver    = (*InMemoryGroupResolver)(nil)
)
