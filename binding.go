package shaderpipe

import (
	"encoding/json"
	"slices"

	"github.com/gogpu/gputypes"
)

// Binding is one named resource binding.
type Binding struct {
	Name    string
	Set     int
	Binding int
}

// bindingJSON mirrors the reflection schema. Pointer fields let absent keys
// take their defaults: set 0, binding -1.
type bindingJSON struct {
	Name    string `json:"name"`
	Set     *int   `json:"set,omitempty"`
	Binding *int   `json:"binding,omitempty"`
}

// MarshalJSON encodes the binding in reflection schema form.
func (b Binding) MarshalJSON() ([]byte, error) {
	set, binding := b.Set, b.Binding
	return json.Marshal(bindingJSON{Name: b.Name, Set: &set, Binding: &binding})
}

// UnmarshalJSON decodes a reflection resource. Unknown fields are ignored.
func (b *Binding) UnmarshalJSON(data []byte) error {
	var raw bindingJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*b = Binding{Name: raw.Name, Set: 0, Binding: -1}
	if raw.Set != nil {
		b.Set = *raw.Set
	}
	if raw.Binding != nil {
		b.Binding = *raw.Binding
	}
	return nil
}

// BindingMap describes the resources a stage declares.
// It is produced once per stage and treated as immutable afterwards.
type BindingMap struct {
	Uniforms []Binding `json:"ubos"`
	Textures []Binding `json:"separate_images"`
	Samplers []Binding `json:"separate_samplers"`
}

// ParseBindingMap decodes reflection JSON. Missing arrays decode as empty.
func ParseBindingMap(data []byte) (BindingMap, error) {
	var m BindingMap
	if err := json.Unmarshal(data, &m); err != nil {
		return BindingMap{}, err
	}
	return m.normalized(), nil
}

// MarshalJSON always emits all three arrays.
func (m BindingMap) MarshalJSON() ([]byte, error) {
	type plain BindingMap
	return json.Marshal(plain(m.normalized()))
}

func (m BindingMap) normalized() BindingMap {
	if m.Uniforms == nil {
		m.Uniforms = []Binding{}
	}
	if m.Textures == nil {
		m.Textures = []Binding{}
	}
	if m.Samplers == nil {
		m.Samplers = []Binding{}
	}
	return m
}

// Equal reports whether both maps hold the same bindings in the same order.
// A nil list equals an empty one.
func (m BindingMap) Equal(other BindingMap) bool {
	return slices.Equal(m.Uniforms, other.Uniforms) &&
		slices.Equal(m.Textures, other.Textures) &&
		slices.Equal(m.Samplers, other.Samplers)
}

// Len returns the total number of bindings.
func (m BindingMap) Len() int {
	return len(m.Uniforms) + len(m.Textures) + len(m.Samplers)
}

// Sets returns the distinct set indices in ascending order.
func (m BindingMap) Sets() []int {
	var sets []int
	for _, list := range [][]Binding{m.Uniforms, m.Textures, m.Samplers} {
		for _, b := range list {
			if !slices.Contains(sets, b.Set) {
				sets = append(sets, b.Set)
			}
		}
	}
	slices.Sort(sets)
	return sets
}

// LayoutEntries derives bind group layout entries for one set, visible to
// the given stages. Uniform blocks become uniform buffers, textures float 2D
// textures and samplers filtering samplers. Bindings without an index (-1)
// are skipped. Entries are ordered by binding index.
func (m BindingMap) LayoutEntries(set int, stages ...Stage) []gputypes.BindGroupLayoutEntry {
	var proto gputypes.BindGroupLayoutEntry
	for _, s := range stages {
		switch s {
		case StageVertex:
			proto.Visibility |= gputypes.ShaderStageVertex
		case StageFragment:
			proto.Visibility |= gputypes.ShaderStageFragment
		}
	}
	visibility := proto.Visibility

	var entries []gputypes.BindGroupLayoutEntry
	for _, b := range m.Uniforms {
		if b.Set != set || b.Binding < 0 {
			continue
		}
		entries = append(entries, gputypes.BindGroupLayoutEntry{
			Binding:    uint32(b.Binding),
			Visibility: visibility,
			Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform},
		})
	}
	for _, b := range m.Textures {
		if b.Set != set || b.Binding < 0 {
			continue
		}
		entries = append(entries, gputypes.BindGroupLayoutEntry{
			Binding:    uint32(b.Binding),
			Visibility: visibility,
			Texture: &gputypes.TextureBindingLayout{
				SampleType:    gputypes.TextureSampleTypeFloat,
				ViewDimension: gputypes.TextureViewDimension2D,
			},
		})
	}
	for _, b := range m.Samplers {
		if b.Set != set || b.Binding < 0 {
			continue
		}
		entries = append(entries, gputypes.BindGroupLayoutEntry{
			Binding:    uint32(b.Binding),
			Visibility: visibility,
			Sampler:    &gputypes.SamplerBindingLayout{Type: gputypes.SamplerBindingTypeFiltering},
		})
	}
	slices.SortStableFunc(entries, func(a, b gputypes.BindGroupLayoutEntry) int {
		return int(a.Binding) - int(b.Binding)
	})
	return entries
}
