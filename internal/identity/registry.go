package identity

import (
	"errors"
	"fmt"
	"strings"

	"demandline/internal/domain"
)

// ErrUnknownIdentity is returned for ids or names absent from the registry.
var ErrUnknownIdentity = errors.New("unknown identity")

// UnknownIdentityError carries the offending reference.
type UnknownIdentityError struct {
	Ref string
}

func (e UnknownIdentityError) Error() string {
	return fmt.Sprintf("unknown identity %s", e.Ref)
}

func (e UnknownIdentityError) Unwrap() error { return ErrUnknownIdentity }

// Registry is a fixed, ordered set of identities. It is read-only after New.
type Registry struct {
	items []domain.Identity
	byID  map[string]int
}

// New builds a registry preserving the given order.
func New(items []domain.Identity) (*Registry, error) {
	r := &Registry{byID: make(map[string]int, len(items))}
	leaders := 0
	for i, it := range items {
		it.ID = strings.TrimSpace(it.ID)
		it.Name = strings.TrimSpace(it.Name)
		if it.ID == "" {
			return nil, fmt.Errorf("identity %d: id is required", i)
		}
		if it.Name == "" {
			return nil, fmt.Errorf("identity %s: name is required", it.ID)
		}
		if !it.Role.Valid() {
			return nil, fmt.Errorf("identity %s: invalid role %q", it.ID, it.Role)
		}
		if _, dup := r.byID[it.ID]; dup {
			return nil, fmt.Errorf("identity %s defined twice", it.ID)
		}
		if it.Role == domain.RoleLeader {
			leaders++
		}
		r.byID[it.ID] = len(r.items)
		r.items = append(r.items, it)
	}
	if leaders == 0 {
		return nil, errors.New("registry needs at least one leader")
	}
	return r, nil
}

func (r *Registry) Lookup(id string) (domain.Identity, error) {
	idx, ok := r.byID[id]
	if !ok {
		return domain.Identity{}, UnknownIdentityError{Ref: id}
	}
	return r.items[idx], nil
}

// Resolve returns the display name for id.
func (r *Registry) Resolve(id string) (string, error) {
	it, err := r.Lookup(id)
	if err != nil {
		return "", err
	}
	return it.Name, nil
}

func (r *Registry) IsLeader(id string) bool {
	it, err := r.Lookup(id)
	return err == nil && it.Role == domain.RoleLeader
}

// DefaultLeader is the first leader in registry order.
func (r *Registry) DefaultLeader() (domain.Identity, error) {
	for _, it := range r.items {
		if it.Role == domain.RoleLeader {
			return it, nil
		}
	}
	return domain.Identity{}, errors.New("registry has no leader")
}

// FindByName matches display names case-insensitively.
func (r *Registry) FindByName(name string) (domain.Identity, error) {
	needle := strings.TrimSpace(name)
	for _, it := range r.items {
		if strings.EqualFold(it.Name, needle) {
			return it, nil
		}
	}
	return domain.Identity{}, UnknownIdentityError{Ref: name}
}

// Identities returns a copy in registry order.
func (r *Registry) Identities() []domain.Identity {
	out := make([]domain.Identity, len(r.items))
	copy(out, r.items)
	return out
}

func (r *Registry) Len() int { return len(r.items) }
