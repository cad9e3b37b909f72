package soulmesh

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Manifest is the static descriptor of a pluggable module: identity,
// capability taxonomy, and the scoring inputs the orchestrator uses to
// resolve capability requests. Manifests are created by the registry and
// mutated only by the orchestrator's integrity adjustment logic.
type Manifest struct {
	// ID uniquely identifies the module within the runtime.
	ID string `json:"id" yaml:"id"`

	// Name is the human-readable module name.
	Name string `json:"name" yaml:"name"`

	// Version is the module's declared version string.
	Version string `json:"version" yaml:"version"`

	// Capabilities lists the named features this module can satisfy.
	// A manifest whose Capabilities contain "core" is treated as core
	// infrastructure and spared from integrity-pressure shedding.
	Capabilities []string `json:"capabilities" yaml:"capabilities"`

	// EssenceLabels are free-form semantic tags used for resonance scoring
	// against a Telos or user state.
	EssenceLabels []string `json:"essenceLabels" yaml:"essenceLabels"`

	// TelosAlignment maps a Telos id to this module's declared alignment
	// weight for it: either the literal "primary" (scored 1.0) or a numeric
	// weight in [0,1]. Absent entries score 0.
	TelosAlignment map[string]AlignmentWeight `json:"telosAlignment" yaml:"telosAlignment"`

	// IntegrityScore is the module's decaying reliability measure in [0,1].
	// It starts high and is reduced by the orchestrator on observed errors.
	IntegrityScore float64 `json:"integrityScore" yaml:"integrityScore"`

	// ResourceFootprintMB is the module's declared memory footprint,
	// used for pressure shedding and aggregate views.
	ResourceFootprintMB float64 `json:"resourceFootprintMB" yaml:"resourceFootprintMB"`

	// Description is optional prose about the module.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// AlignmentFor returns the manifest's alignment score for a Telos id:
// 1.0 for "primary", the declared numeric weight otherwise, 0 when the
// manifest declares nothing for that Telos.
func (m *Manifest) AlignmentFor(telosID string) float64 {
	w, ok := m.TelosAlignment[telosID]
	if !ok {
		return 0
	}
	return w.Score()
}

// HasCapability reports whether the manifest declares the named capability.
func (m *Manifest) HasCapability(capability string) bool {
	for _, c := range m.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// IsCore reports whether the manifest is tagged as core infrastructure.
func (m *Manifest) IsCore() bool {
	return m.HasCapability("core")
}

// AlignmentWeight is a Telos alignment declaration: either the literal
// "primary" or a numeric weight in [0,1]. It unmarshals from both forms in
// JSON and YAML catalogs.
type AlignmentWeight struct {
	Primary bool
	Value   float64
}

// PrimaryAlignment is the sentinel alignment weight scored as 1.0.
var PrimaryAlignment = AlignmentWeight{Primary: true}

// Weight builds a numeric alignment weight clamped to [0,1].
func Weight(v float64) AlignmentWeight {
	return AlignmentWeight{Value: clamp01(v)}
}

// Score returns the numeric value of the weight: 1.0 for primary,
// the clamped declared value otherwise.
func (w AlignmentWeight) Score() float64 {
	if w.Primary {
		return 1.0
	}
	return clamp01(w.Value)
}

// UnmarshalJSON accepts either the string "primary" or a number.
func (w *AlignmentWeight) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return w.fromString(s)
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("alignment weight must be \"primary\" or a number: %w", err)
	}
	*w = AlignmentWeight{Value: clamp01(v)}
	return nil
}

// MarshalJSON emits "primary" or the numeric weight.
func (w AlignmentWeight) MarshalJSON() ([]byte, error) {
	if w.Primary {
		return json.Marshal("primary")
	}
	return json.Marshal(w.Value)
}

// UnmarshalYAML accepts either the string "primary" or a number. YAML
// decodes bare scalars into strings too, so the numeric form is tried
// first and the string branch only handles what is not a number.
func (w *AlignmentWeight) UnmarshalYAML(node *yaml.Node) error {
	var v float64
	if err := node.Decode(&v); err == nil {
		*w = AlignmentWeight{Value: clamp01(v)}
		return nil
	}
	var s string
	if err := node.Decode(&s); err != nil {
		return fmt.Errorf("alignment weight must be \"primary\" or a number: %w", err)
	}
	return w.fromString(s)
}

// MarshalYAML emits "primary" or the numeric weight.
func (w AlignmentWeight) MarshalYAML() (any, error) {
	if w.Primary {
		return "primary", nil
	}
	return w.Value, nil
}

func (w *AlignmentWeight) fromString(s string) error {
	if s != "primary" {
		return fmt.Errorf("%w: %q", ErrInvalidAlignmentWeight, s)
	}
	*w = AlignmentWeight{Primary: true}
	return nil
}

// Telos is a named purpose record. The orchestrator holds at most one
// current Telos at a time and uses it to bias capability resolution.
type Telos struct {
	// ID uniquely identifies the Telos within the catalog.
	ID string `json:"id" yaml:"id"`

	// Description is the human-readable purpose statement.
	Description string `json:"description" yaml:"description"`

	// Priority biases user-state-driven Telos selection; higher wins ties.
	Priority float64 `json:"priority" yaml:"priority"`

	// EssenceLabels are the semantic tags resonance is computed against.
	EssenceLabels []string `json:"essenceLabels" yaml:"essenceLabels"`
}

// UserState is the externally supplied snapshot of the person using the
// host application. It drives automatic Telos re-selection.
type UserState struct {
	ID            string   `json:"id"`
	DisplayName   string   `json:"displayName"`
	Context       string   `json:"context"`
	EssenceLabels []string `json:"essenceLabels"`
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
