package ga4

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/platinummonkey/ga4access/pkg/roles"
)

// Call records one provider invocation made against a MemoryProvider
type Call struct {
	Op         string
	PropertyID string
	Email      string
	BindingID  string
	Role       roles.GA4Role
}

// MemoryProvider keeps bindings in process. Failures can be injected per
// email or binding name to exercise error handling.
type MemoryProvider struct {
	mu       sync.Mutex
	seq      int
	bindings map[string]Binding
	failures map[string]error
	calls    []Call
}

// NewMemoryProvider creates an empty provider
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{
		bindings: make(map[string]Binding),
		failures: make(map[string]error),
	}
}

// FailFor makes every call touching key (an email or binding name) return
// err until ClearFailures is called. err should be one of the package's
// classification errors.
func (m *MemoryProvider) FailFor(key string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[strings.ToLower(key)] = err
}

// ClearFailures removes every injected failure
func (m *MemoryProvider) ClearFailures() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = make(map[string]error)
}

// Calls returns a copy of the recorded calls
func (m *MemoryProvider) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// CallsFor returns recorded calls with the given op
func (m *MemoryProvider) CallsFor(op string) []Call {
	var out []Call
	for _, c := range m.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Seed adds a binding without recording a call
func (m *MemoryProvider) Seed(propertyID, email string, role roles.GA4Role) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.add(propertyID, email, role)
}

// GrantAccess implements Provider
func (m *MemoryProvider) GrantAccess(ctx context.Context, propertyID, email string, role roles.GA4Role) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, Call{Op: "grant", PropertyID: propertyID, Email: email, Role: role})
	target := propertyID + "/" + email
	if err := m.injected(ctx, "grant", target, email); err != nil {
		return "", err
	}
	for _, b := range m.bindings {
		if b.PropertyID == propertyID && strings.EqualFold(b.Email, email) {
			return "", &Error{Op: "grant", Target: target, Kind: ErrAlreadyGranted}
		}
	}
	return m.add(propertyID, email, role), nil
}

// UpdateAccess implements Provider
func (m *MemoryProvider) UpdateAccess(ctx context.Context, bindingID string, role roles.GA4Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.bindings[bindingID]
	m.calls = append(m.calls, Call{Op: "update", BindingID: bindingID, PropertyID: b.PropertyID, Email: b.Email, Role: role})
	if err := m.injected(ctx, "update", bindingID, bindingID, b.Email); err != nil {
		return err
	}
	if !ok {
		return &Error{Op: "update", Target: bindingID, Kind: ErrNotFound}
	}
	b.Role = role
	m.bindings[bindingID] = b
	return nil
}

// RevokeAccess implements Provider
func (m *MemoryProvider) RevokeAccess(ctx context.Context, bindingID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.bindings[bindingID]
	m.calls = append(m.calls, Call{Op: "revoke", BindingID: bindingID, PropertyID: b.PropertyID, Email: b.Email})
	if err := m.injected(ctx, "revoke", bindingID, bindingID, b.Email); err != nil {
		return err
	}
	if !ok {
		return &Error{Op: "revoke", Target: bindingID, Kind: ErrNotFound}
	}
	delete(m.bindings, bindingID)
	return nil
}

// ListBindings implements Provider
func (m *MemoryProvider) ListBindings(ctx context.Context, propertyID string) ([]Binding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, Call{Op: "list", PropertyID: propertyID})
	if err := m.injected(ctx, "list", propertyID, propertyID); err != nil {
		return nil, err
	}

	out := make([]Binding, 0)
	for _, b := range m.bindings {
		if b.PropertyID == propertyID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryProvider) add(propertyID, email string, role roles.GA4Role) string {
	m.seq++
	name := fmt.Sprintf("properties/%s/accessBindings/mem-%d", propertyID, m.seq)
	m.bindings[name] = Binding{Name: name, PropertyID: propertyID, Email: strings.ToLower(email), Role: role}
	return name
}

func (m *MemoryProvider) injected(ctx context.Context, op, target string, keys ...string) error {
	if err := ctx.Err(); err != nil {
		return &Error{Op: op, Target: target, Kind: ErrTransient, Err: err}
	}
	for _, k := range keys {
		if k == "" {
			continue
		}
		if err, ok := m.failures[strings.ToLower(k)]; ok {
			return &Error{Op: op, Target: target, Kind: err}
		}
	}
	return nil
}
