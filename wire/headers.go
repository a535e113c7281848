package wire

import "strings"

// Headers is a case-insensitive, insertion-ordered header map. Unlike
// Cookies, a header name may carry multiple values (used for Set-Cookie).
type Headers struct {
	order  []string
	values map[string][]string
}

// NewHeaders returns an empty Headers map.
func NewHeaders() *Headers {
	return &Headers{values: make(map[string][]string)}
}

// Set replaces all values for key with a single value.
func (h *Headers) Set(key, value string) {
	lk := strings.ToLower(key)
	if _, ok := h.values[lk]; !ok {
		h.order = append(h.order, lk)
	}
	h.values[lk] = []string{value}
}

// Add appends a value for key, preserving any existing ones (used for
// repeated Set-Cookie headers).
func (h *Headers) Add(key, value string) {
	lk := strings.ToLower(key)
	if _, ok := h.values[lk]; !ok {
		h.order = append(h.order, lk)
	}
	h.values[lk] = append(h.values[lk], value)
}

// Get returns the first value for key, or "" if absent.
func (h *Headers) Get(key string) string {
	vs := h.values[strings.ToLower(key)]
	if len(vs) == 0 {
		return ""
	}
	return vs[0]
}

// Values returns all values stored for key.
func (h *Headers) Values(key string) []string {
	return h.values[strings.ToLower(key)]
}

// Has reports whether key has been set at all.
func (h *Headers) Has(key string) bool {
	_, ok := h.values[strings.ToLower(key)]
	return ok
}

// Del removes all values for key.
func (h *Headers) Del(key string) {
	lk := strings.ToLower(key)
	if _, ok := h.values[lk]; !ok {
		return
	}
	delete(h.values, lk)
	for i, k := range h.order {
		if k == lk {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
}

// Each calls fn once per (key, value) pair in insertion order, including
// every value of a multi-valued key.
func (h *Headers) Each(fn func(key, value string)) {
	for _, k := range h.order {
		for _, v := range h.values[k] {
			fn(k, v)
		}
	}
}

// Merge copies every (key, value) pair from other into h. When callerWins
// is true, a key already present in h is left untouched (caller wins);
// otherwise other's values replace h's.
func (h *Headers) Merge(other *Headers, callerWins bool) {
	if other == nil {
		return
	}
	copied := make(map[string]bool)
	other.Each(func(key, value string) {
		if copied[key] {
			h.Add(key, value)
			return
		}
		if callerWins && h.Has(key) {
			return
		}
		h.Set(key, value)
		copied[key] = true
	})
}

// Cookies is a simple name->value map: single value per name, last
// assignment wins, no attributes (per spec Non-goals).
type Cookies map[string]string
