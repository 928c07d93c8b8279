// Package stage holds the ordered pipeline stage table.
//
// The table is the single source of truth for stage order, progress floors and
// ceilings, and per-stage timeouts. Both the scheduler and the status surface
// read from it; nothing else encodes stage knowledge.
package stage

import (
	"fmt"
	"time"

	"github.com/scenesmith/scenesmith/internal/domain/model"
)

// Stage names, in pipeline order.
const (
	Preprocess  = "preprocess"
	Embeddings  = "embeddings"
	Textures    = "textures"
	Propagation = "propagation"
	Postprocess = "postprocess"
	ModelGen    = "modelgen"
	VideoRender = "videorender"
)

// Descriptor describes one pipeline stage.
//
// Floor is the job progress reported while the stage is executing; Ceiling is
// the progress recorded when the stage succeeds. Timeout bounds a single
// execution of the stage.
type Descriptor struct {
	Name    string
	Floor   int
	Ceiling int
	Timeout time.Duration
	// Output is the artifact kind the stage is expected to produce.
	Output model.ArtifactKind
}

// Table is an ordered sequence of stage descriptors.
type Table []Descriptor

// Default returns the production pipeline table.
func Default() Table {
	return Table{
		{Name: Preprocess, Floor: 10, Ceiling: 25, Timeout: 2 * time.Minute, Output: model.KindSurfaces},
		{Name: Embeddings, Floor: 25, Ceiling: 40, Timeout: 3 * time.Minute, Output: model.KindEmbeddings},
		{Name: Textures, Floor: 40, Ceiling: 60, Timeout: 5 * time.Minute, Output: model.KindTextures},
		{Name: Propagation, Floor: 60, Ceiling: 75, Timeout: 5 * time.Minute, Output: model.KindPropagation},
		{Name: Postprocess, Floor: 75, Ceiling: 85, Timeout: 2 * time.Minute, Output: model.KindMaterials},
		{Name: ModelGen, Floor: 85, Ceiling: 95, Timeout: 3 * time.Minute, Output: model.KindModel},
		{Name: VideoRender, Floor: 95, Ceiling: 100, Timeout: 5 * time.Minute, Output: model.KindVideo},
	}
}

// Validate checks the structural invariants of the table: at least one stage,
// unique names, positive timeouts, floors and ceilings strictly increasing with
// each floor equal to the previous ceiling, and a final ceiling of 100.
func (t Table) Validate() error {
	if len(t) == 0 {
		return fmt.Errorf("stage table is empty")
	}
	seen := make(map[string]bool, len(t))
	prevCeiling := 0
	for i, d := range t {
		if d.Name == "" {
			return fmt.Errorf("stage %d: name is required", i)
		}
		if seen[d.Name] {
			return fmt.Errorf("stage %q: duplicate name", d.Name)
		}
		seen[d.Name] = true
		if d.Timeout <= 0 {
			return fmt.Errorf("stage %q: timeout must be positive", d.Name)
		}
		if d.Floor != prevCeiling && i > 0 {
			return fmt.Errorf("stage %q: floor %d does not match previous ceiling %d", d.Name, d.Floor, prevCeiling)
		}
		if i == 0 && d.Floor <= 0 {
			return fmt.Errorf("stage %q: floor must be positive", d.Name)
		}
		if d.Ceiling <= d.Floor {
			return fmt.Errorf("stage %q: ceiling %d must exceed floor %d", d.Name, d.Ceiling, d.Floor)
		}
		prevCeiling = d.Ceiling
	}
	if prevCeiling != 100 {
		return fmt.Errorf("final stage ceiling is %d, want 100", prevCeiling)
	}
	return nil
}

// Lookup returns the descriptor for a stage name.
func (t Table) Lookup(name string) (Descriptor, bool) {
	for _, d := range t {
		if d.Name == name {
			return d, true
		}
	}
	return Descriptor{}, false
}

// Names returns the stage names in pipeline order.
func (t Table) Names() []string {
	names := make([]string, len(t))
	for i, d := range t {
		names[i] = d.Name
	}
	return names
}
