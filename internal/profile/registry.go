package profile

import (
	"fmt"
	"sort"

	"github.com/eliteGoblin/rmgrab/internal/domain"
)

// DefaultProfileID is used when no profile is configured.
const DefaultProfileID = "rm2"

// Registry holds all known device profiles.
type Registry struct {
	profiles map[string]DeviceProfile
}

// NewRegistry creates a registry with all built-in profiles.
func NewRegistry() *Registry {
	r := &Registry{
		profiles: make(map[string]DeviceProfile),
	}

	r.Register(NewRM2Profile())
	r.Register(NewGray8Profile())

	return r
}

// NewRegistryWithProfiles creates a registry with custom profiles (for testing).
func NewRegistryWithProfiles(profiles ...DeviceProfile) *Registry {
	r := &Registry{
		profiles: make(map[string]DeviceProfile),
	}
	for _, p := range profiles {
		r.Register(p)
	}
	return r
}

// Register adds a profile to the registry.
func (r *Registry) Register(p DeviceProfile) {
	r.profiles[p.ID()] = p
}

// Get returns a profile by ID.
func (r *Registry) Get(id string) (DeviceProfile, bool) {
	p, ok := r.profiles[id]
	return p, ok
}

// Lookup returns the settings of a profile, or ErrConfig for unknown IDs.
func (r *Registry) Lookup(id string) (Settings, error) {
	p, ok := r.Get(id)
	if !ok {
		return Settings{}, fmt.Errorf("%w: unknown device profile %q (known: %v)", domain.ErrConfig, id, r.List())
	}
	return ToSettings(p), nil
}

// GetAll returns all profiles sorted by ID.
func (r *Registry) GetAll() []DeviceProfile {
	result := make([]DeviceProfile, 0, len(r.profiles))
	for _, p := range r.profiles {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID() < result[j].ID() })
	return result
}

// List returns all profile IDs, sorted.
func (r *Registry) List() []string {
	ids := make([]string, 0, len(r.profiles))
	for id := range r.profiles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
