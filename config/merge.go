package config

import (
	"github.com/effectus/progressive-go/rules"
)

// Merge applies a variant's partial configuration to base. Area maps merge shallowly, with
// the variant's area replacing the base area of the same id. Rules and templates are
// replaced, not merged, when the partial sets them. base is not modified.
func Merge(base *Document, partial *Partial) *Document {
	merged := *base
	merged.Areas = make(map[string]AreaSpec, len(base.Areas))
	for id, area := range base.Areas {
		merged.Areas[id] = area
	}
	merged.Rules = append([]rules.Spec(nil), base.Rules...)
	merged.Templates = append([]Template(nil), base.Templates...)

	if partial == nil {
		return &merged
	}
	for id, area := range partial.Areas {
		merged.Areas[id] = area
	}
	if partial.Rules != nil {
		merged.Rules = append([]rules.Spec(nil), partial.Rules...)
	}
	if partial.Templates != nil {
		merged.Templates = append([]Template(nil), partial.Templates...)
	}
	return &merged
}

// WithVariant returns the document with the indexed variant's configuration applied.
func (d *Document) WithVariant(index int) *Document {
	if d.ABTest == nil || index < 0 || index >= len(d.ABTest.Variants) {
		return Merge(d, nil)
	}
	return Merge(d, d.ABTest.Variants[index].Configuration)
}
