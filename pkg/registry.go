package cities

import (
	"fmt"

	"golang.org/x/exp/slices"
)

// Registry maps city names to cities.
type Registry struct {
	cities map[string]*City
}

func NewRegistry(cities ...*City) *Registry {
	r := &Registry{cities: make(map[string]*City)}
	for _, c := range cities {
		r.Register(c)
	}
	return r
}

func (r *Registry) Register(c *City) {
	r.cities[c.Name] = c
}

func (r *Registry) Get(name string) (*City, error) {
	c, ok := r.cities[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q (known: %v)", ErrUnknownCity, name, r.Names())
	}
	return c, nil
}

// Names returns the registered names in alphabetical order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.cities))
	for name := range r.cities {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// DefaultRegistry holds every city of this package.
func DefaultRegistry() *Registry {
	return NewRegistry(HitFilter, XYReco, PmapSelect, SensorBuffers, TrgSelect)
}
