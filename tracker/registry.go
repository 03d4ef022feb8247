package tracker

import (
	"sync"

	"github.com/fabricionaweb/pico-share/protocol"
	"github.com/rs/zerolog/log"
)

// Registry maps a filename to the endpoints seeding it, in registration
// order. Entries are never removed: there is no liveness signal, so a
// registration lasts for the lifetime of the tracker.
type Registry struct {
	files map[string][]protocol.Endpoint
	mu    sync.Mutex
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{files: make(map[string][]protocol.Endpoint)}
}

// Register adds ep to filename's seeders. It returns true whether the
// endpoint was added or already present, and false only for malformed input,
// which leaves the registry untouched.
func (r *Registry) Register(filename string, ep protocol.Endpoint) bool {
	if filename == "" || !ep.Valid() {
		return false
	}

	r.mu.Lock()
	eps := r.files[filename]
	for _, existing := range eps {
		if existing == ep {
			r.mu.Unlock()
			log.Debug().Str("file", filename).Stringer("peer", ep).Msg("peer already registered")
			return true
		}
	}
	r.files[filename] = append(eps, ep)
	r.mu.Unlock()

	log.Info().Str("file", filename).Stringer("peer", ep).Msg("registered peer")
	return true
}

// Lookup returns a snapshot of filename's endpoints. Unknown filenames give
// an empty slice.
func (r *Registry) Lookup(filename string) []protocol.Endpoint {
	r.mu.Lock()
	defer r.mu.Unlock()

	eps := r.files[filename]
	out := make([]protocol.Endpoint, len(eps))
	copy(out, eps)
	return out
}

// Stats returns the number of known files and the total number of
// registrations across them.
func (r *Registry) Stats() (files, endpoints int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, eps := range r.files {
		endpoints += len(eps)
	}
	return len(r.files), endpoints
}
