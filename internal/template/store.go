// Package template owns permission templates and their inheritance edges.
package template

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/access-engine/internal/errors"
	"github.com/p-blackswan/access-engine/internal/models"
)

// Store manages PermissionTemplate records and single-parent inheritance.
type Store struct {
	mu          sync.RWMutex
	templates   map[string]*models.PermissionTemplate
	inheritance map[string]*models.Inheritance // child name → edge
	logger      zerolog.Logger
}

// NewStore creates an empty template store.
func NewStore(logger zerolog.Logger) *Store {
	return &Store{
		templates:   make(map[string]*models.PermissionTemplate),
		inheritance: make(map[string]*models.Inheritance),
		logger:      logger.With().Str("component", "template_store").Logger(),
	}
}

// Create inserts a new template. The name is the immutable identity.
func (s *Store) Create(tpl *models.PermissionTemplate) error {
	if tpl == nil || tpl.Name == "" {
		return fmt.Errorf("%w: template name is required", errors.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.templates[tpl.Name]; ok {
		return fmt.Errorf("%w: %s", errors.ErrDuplicateTemplate, tpl.Name)
	}

	cp := *tpl
	cp.Permissions = tpl.Permissions.Clone()
	if cp.Permissions == nil {
		cp.Permissions = make(models.PermissionSet)
	}
	if cp.RequiredApprovals < 1 {
		cp.RequiredApprovals = 1
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	s.templates[cp.Name] = &cp

	s.logger.Info().
		Str("template", cp.Name).
		Int("required_approvals", cp.RequiredApprovals).
		Msg("template created")
	return nil
}

// Get returns a copy of the named template.
func (s *Store) Get(name string) (*models.PermissionTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tpl, ok := s.templates[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errors.ErrTemplateNotFound, name)
	}
	cp := *tpl
	cp.Permissions = tpl.Permissions.Clone()
	return &cp, nil
}

// List returns copies of all templates, sorted by name.
func (s *Store) List() []*models.PermissionTemplate {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.PermissionTemplate, 0, len(s.templates))
	for _, tpl := range s.templates {
		cp := *tpl
		cp.Permissions = tpl.Permissions.Clone()
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// SetInheritance links child to parent with optional per-component overrides.
// A template has at most one parent; setting again replaces the edge.
func (s *Store) SetInheritance(child, parent string, overrides models.PermissionSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.templates[child]; !ok {
		return fmt.Errorf("%w: %s", errors.ErrTemplateNotFound, child)
	}
	if _, ok := s.templates[parent]; !ok {
		return fmt.Errorf("%w: %s", errors.ErrTemplateNotFound, parent)
	}
	if s.wouldCycle(child, parent) {
		return fmt.Errorf("%w: %s -> %s", errors.ErrCircularInheritance, child, parent)
	}

	s.inheritance[child] = &models.Inheritance{
		Child:     child,
		Parent:    parent,
		Overrides: overrides.Clone(),
	}

	s.logger.Info().
		Str("child", child).
		Str("parent", parent).
		Int("overrides", len(overrides)).
		Msg("inheritance set")
	return nil
}

// wouldCycle walks the parent chain starting at the proposed parent, with the
// candidate edge in place, and reports whether any node repeats. On a store
// that is already acyclic this is the same as asking whether child is
// reachable from parent. Callers must hold the lock.
func (s *Store) wouldCycle(child, parent string) bool {
	parentOf := func(name string) string {
		if name == child {
			return parent
		}
		if edge, ok := s.inheritance[name]; ok {
			return edge.Parent
		}
		return ""
	}

	visited := make(map[string]bool)
	for cur := parent; cur != ""; cur = parentOf(cur) {
		if visited[cur] {
			return true
		}
		visited[cur] = true
	}
	return false
}

// Effective resolves the template's inherited permission set. Precedence per
// component: an explicit override on the child edge replaces whatever the
// parent chain resolved to; otherwise the template's own definition beats the
// inherited value. The resolution never mutates stored templates.
func (s *Store) Effective(name string) (models.PermissionSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.templates[name]; !ok {
		return nil, fmt.Errorf("%w: %s", errors.ErrTemplateNotFound, name)
	}

	// Walk the parent chain bottom-up with a visited guard, then fold the
	// permissions top-down so each step sees its parent's resolved set.
	var chain []string
	visited := make(map[string]bool)
	for cur := name; cur != "" && !visited[cur]; {
		visited[cur] = true
		chain = append(chain, cur)
		if edge, ok := s.inheritance[cur]; ok {
			cur = edge.Parent
		} else {
			cur = ""
		}
	}

	var inherited models.PermissionSet
	for i := len(chain) - 1; i >= 0; i-- {
		tpl, ok := s.templates[chain[i]]
		if !ok {
			continue
		}

		result := tpl.Permissions.Clone()
		if result == nil {
			result = make(models.PermissionSet)
		}

		var overrides models.PermissionSet
		if edge, ok := s.inheritance[chain[i]]; ok {
			overrides = edge.Overrides
		}

		for comp, levels := range inherited {
			if ov, ok := overrides[comp]; ok {
				result[comp] = append([]models.PermissionLevel(nil), ov...)
			} else if _, own := result[comp]; !own {
				result[comp] = append([]models.PermissionLevel(nil), levels...)
			}
		}
		inherited = result
	}
	return inherited, nil
}

// SnapshotTemplates returns the templates map for persistence.
func (s *Store) SnapshotTemplates() map[string]*models.PermissionTemplate {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]*models.PermissionTemplate, len(s.templates))
	for name, tpl := range s.templates {
		cp := *tpl
		cp.Permissions = tpl.Permissions.Clone()
		out[name] = &cp
	}
	return out
}

// SnapshotInheritance returns the inheritance edges for persistence.
func (s *Store) SnapshotInheritance() map[string]*models.Inheritance {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]*models.Inheritance, len(s.inheritance))
	for child, edge := range s.inheritance {
		cp := *edge
		cp.Overrides = edge.Overrides.Clone()
		out[child] = &cp
	}
	return out
}

// Restore replaces the store contents from persisted snapshots.
func (s *Store) Restore(templates map[string]*models.PermissionTemplate, inheritance map[string]*models.Inheritance) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.templates = make(map[string]*models.PermissionTemplate, len(templates))
	for name, tpl := range templates {
		s.templates[name] = tpl
	}
	s.inheritance = make(map[string]*models.Inheritance, len(inheritance))
	for child, edge := range inheritance {
		s.inheritance[child] = edge
	}
}

// Count returns the number of templates.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.templates)
}
