// Package weights resolves the per-dimension multipliers used by the
// metrics engine from a YAML document with a base section and named presets.
package weights

import (
	_ "embed"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	apperrors "github.com/ZanzyTHEbar/contrib-evaluator/internal/errors"
	"github.com/ZanzyTHEbar/contrib-evaluator/internal/types"
)

//go:embed default_weights.yaml
var defaultDocument []byte

// Weights maps every dimension to a non-negative multiplier
type Weights map[types.Dimension]float64

// Get returns the weight for d, zero when absent
func (w Weights) Get(d types.Dimension) float64 {
	return w[d]
}

// Clone returns an independent copy
func (w Weights) Clone() Weights {
	out := make(Weights, len(w))
	for d, v := range w {
		out[d] = v
	}
	return out
}

// Validate checks that every dimension is present with a finite, non-negative value
func (w Weights) Validate() error {
	var missing []string
	for _, d := range types.Dimensions {
		v, ok := w[d]
		if !ok {
			missing = append(missing, string(d))
			continue
		}
		if err := checkValue(string(d), v); err != nil {
			return err
		}
	}
	if len(missing) > 0 {
		return apperrors.NewConfigurationError(fmt.Sprintf("weights missing dimensions: %s", strings.Join(missing, ", ")), nil)
	}
	for d := range w {
		if _, ok := types.ParseDimension(string(d)); !ok {
			return apperrors.NewConfigurationError(fmt.Sprintf("unknown dimension %q", d), nil)
		}
	}
	return nil
}

// ToMap returns the weights keyed by dimension name
func (w Weights) ToMap() map[string]float64 {
	out := make(map[string]float64, len(w))
	for d, v := range w {
		out[string(d)] = v
	}
	return out
}

// Resolver holds a parsed weight document. It is read-only after
// construction and safe for concurrent use.
type Resolver struct {
	base    Weights
	presets map[string]Weights
	order   []string
}

// Default returns the resolver for the embedded weight document
func Default() *Resolver {
	r, err := Parse(defaultDocument)
	if err != nil {
		panic(fmt.Sprintf("embedded weights invalid: %v", err))
	}
	return r
}

// Load reads and parses the document at path
func Load(path string) (*Resolver, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.NewConfigurationError(fmt.Sprintf("cannot read weights file %s", path), err)
	}
	return Parse(data)
}

// Parse validates data and builds a resolver. The base section must name all
// dimensions; presets may name any subset.
func Parse(data []byte) (*Resolver, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, apperrors.NewConfigurationError("malformed weights document", err)
	}
	if len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, apperrors.NewConfigurationError("weights document must be a mapping", nil)
	}
	root := doc.Content[0]

	r := &Resolver{presets: make(map[string]Weights)}
	var baseNode, presetsNode *yaml.Node
	for i := 0; i+1 < len(root.Content); i += 2 {
		switch key := root.Content[i].Value; key {
		case "base":
			baseNode = root.Content[i+1]
		case "presets":
			presetsNode = root.Content[i+1]
		default:
			return nil, apperrors.NewConfigurationError(fmt.Sprintf("unknown weights section %q", key), nil)
		}
	}

	if baseNode == nil {
		return nil, apperrors.NewConfigurationError("weights document has no base section", nil)
	}
	base, err := decodeWeights(baseNode, "base")
	if err != nil {
		return nil, err
	}
	if err := base.Validate(); err != nil {
		return nil, err
	}
	r.base = base

	if presetsNode == nil || isNull(presetsNode) {
		return r, nil
	}
	if presetsNode.Kind != yaml.MappingNode {
		return nil, apperrors.NewConfigurationError("presets must be a mapping of name to weights", nil)
	}
	for i := 0; i+1 < len(presetsNode.Content); i += 2 {
		name := presetsNode.Content[i].Value
		if _, dup := r.presets[name]; dup {
			return nil, apperrors.NewConfigurationError(fmt.Sprintf("duplicate preset %q", name), nil)
		}
		preset, err := decodeWeights(presetsNode.Content[i+1], "preset "+name)
		if err != nil {
			return nil, err
		}
		r.presets[name] = preset
		r.order = append(r.order, name)
	}
	return r, nil
}

func decodeWeights(node *yaml.Node, section string) (Weights, error) {
	if isNull(node) {
		return Weights{}, nil
	}
	if node.Kind != yaml.MappingNode {
		return nil, apperrors.NewConfigurationError(fmt.Sprintf("%s must be a mapping of dimension to weight", section), nil)
	}
	w := make(Weights, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		name := node.Content[i].Value
		d, ok := types.ParseDimension(name)
		if !ok {
			return nil, apperrors.NewConfigurationError(fmt.Sprintf("%s: unknown dimension %q", section, name), nil)
		}
		if _, dup := w[d]; dup {
			return nil, apperrors.NewConfigurationError(fmt.Sprintf("%s: duplicate dimension %q", section, name), nil)
		}
		var v float64
		if err := node.Content[i+1].Decode(&v); err != nil {
			return nil, apperrors.NewConfigurationError(fmt.Sprintf("%s.%s must be a number", section, name), err)
		}
		if err := checkValue(section+"."+name, v); err != nil {
			return nil, err
		}
		w[d] = v
	}
	return w, nil
}

func isNull(node *yaml.Node) bool {
	return node.Kind == yaml.ScalarNode && node.Tag == "!!null"
}

func checkValue(name string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return apperrors.NewConfigurationError(fmt.Sprintf("weight %s is not a finite number", name), nil)
	}
	if v < 0 {
		return apperrors.NewConfigurationError(fmt.Sprintf("weight %s is negative (%g)", name, v), nil)
	}
	return nil
}

// LoadBase returns a copy of the base weights
func (r *Resolver) LoadBase() (Weights, error) {
	return r.base.Clone(), nil
}

// LoadPreset returns the base weights with the named preset's dimensions replaced
func (r *Resolver) LoadPreset(name string) (Weights, error) {
	preset, ok := r.presets[name]
	if !ok {
		return nil, apperrors.NewConfigurationError(fmt.Sprintf("preset %q not found", name), nil)
	}
	merged := r.base.Clone()
	for d, v := range preset {
		merged[d] = v
	}
	return merged, nil
}

// Resolve returns the preset's weights, or the base when name is empty
func (r *Resolver) Resolve(name string) (Weights, error) {
	if name == "" {
		return r.LoadBase()
	}
	return r.LoadPreset(name)
}

// ListPresets returns preset names in document order
func (r *Resolver) ListPresets() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Override merges ad-hoc overrides keyed by dimension name over base.
// Dimensions absent from overrides keep the base value.
func Override(base Weights, overrides map[string]float64) (Weights, error) {
	merged := base.Clone()
	names := make([]string, 0, len(overrides))
	for name := range overrides {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		d, ok := types.ParseDimension(name)
		if !ok {
			return nil, apperrors.NewConfigurationError(fmt.Sprintf("unknown dimension %q", name), nil)
		}
		v := overrides[name]
		if err := checkValue(name, v); err != nil {
			return nil, err
		}
		merged[d] = v
	}
	return merged, nil
}

// ParseOverrides parses "dimension=value" pairs as given on the command line
func ParseOverrides(pairs []string) (map[string]float64, error) {
	out := make(map[string]float64, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, apperrors.NewConfigurationError(fmt.Sprintf("override %q must be dimension=value", pair), nil)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return nil, apperrors.NewConfigurationError(fmt.Sprintf("override %q has a non-numeric value", pair), err)
		}
		out[strings.TrimSpace(name)] = v
	}
	return out, nil
}
