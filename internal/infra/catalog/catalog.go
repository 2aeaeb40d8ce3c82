// Package catalog holds the canonical layer order for each known model
// architecture, so a submission's decoded layer set can be validated
// against what the architecture actually expects before it reaches the
// aggregator.
package catalog

import "github.com/edgeorchestra/orchestrator/internal/domain"

// Catalog maps architecture name to its ordered layer names.
type Catalog struct {
	architectures map[string][]string
}

// New builds an empty Catalog.
func New() *Catalog {
	return &Catalog{architectures: make(map[string][]string)}
}

// Register records the canonical layer order for an architecture.
func (c *Catalog) Register(architecture string, layers []string) {
	ordered := make([]string, len(layers))
	copy(ordered, layers)
	c.architectures[architecture] = ordered
}

// Layers returns the canonical layer order for architecture, or nil if
// unknown.
func (c *Catalog) Layers(architecture string) []string {
	return c.architectures[architecture]
}

// Validate checks that deltas contains exactly the layers registered for
// architecture, no more and no fewer. An unregistered architecture always
// validates (nothing to check against).
func (c *Catalog) Validate(architecture string, deltas domain.DeltaSet) error {
	want, ok := c.architectures[architecture]
	if !ok {
		return nil
	}
	if len(deltas) != len(want) {
		return domain.ErrLayerMismatch
	}
	for _, name := range want {
		if _, ok := deltas[name]; !ok {
			return domain.ErrLayerMismatch
		}
	}
	return nil
}
