package gateway

import "sort"

// Factory builds an adapter from a validated credential set.
type Factory func(creds map[string]string, client *Client) Adapter

type registration struct {
	required []string
	factory  Factory
}

// Registry maps a gateway code to its adapter factory and required credentials.
type Registry struct {
	entries map[string]registration
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]registration)}
}

// DefaultRegistry knows every adapter shipped in this package.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(PaystackCode, []string{"secret_key", "public_key"}, NewPaystack)
	// secret_hash is the dashboard webhook hash; without it no webhook verifies
	r.Register(FlutterwaveCode, []string{"secret_key", "public_key", "encryption_key", "secret_hash"}, NewFlutterwave)
	return r
}

func (r *Registry) Register(code string, required []string, f Factory) {
	r.entries[code] = registration{required: required, factory: f}
}

func (r *Registry) Supports(code string) bool {
	_, ok := r.entries[code]
	return ok
}

// Codes lists registered codes in sorted order.
func (r *Registry) Codes() []string {
	out := make([]string, 0, len(r.entries))
	for code := range r.entries {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}

// Missing lists the required credential fields absent or blank in creds.
func (r *Registry) Missing(code string, creds map[string]string) []string {
	var missing []string
	for _, field := range r.entries[code].required {
		if creds[field] == "" {
			missing = append(missing, field)
		}
	}
	return missing
}
