// Package config decodes, validates and merges progression documents.
package config

import (
	"sort"

	"github.com/effectus/progressive-go/dependency"
	"github.com/effectus/progressive-go/rules"
	"github.com/effectus/progressive-go/store"
	"github.com/effectus/progressive-go/variant"
)

// Document is a progression configuration.
type Document struct {
	Name      string              `yaml:"name" json:"name" validate:"required"`
	Version   string              `yaml:"version" json:"version"`
	Areas     map[string]AreaSpec `yaml:"areas" json:"areas" validate:"dive"`
	Rules     []rules.Spec        `yaml:"rules,omitempty" json:"rules,omitempty" validate:"dive"`
	Templates []Template          `yaml:"templates,omitempty" json:"templates,omitempty" validate:"dive"`
	ABTest    *ABTest             `yaml:"abTest,omitempty" json:"abTest,omitempty"`
}

// AreaSpec lists the elements of one area.
type AreaSpec struct {
	Elements []ElementSpec `yaml:"elements" json:"elements" validate:"dive"`
}

// ElementSpec declares one element.
type ElementSpec struct {
	ID           string           `yaml:"id" json:"id" validate:"required"`
	Category     string           `yaml:"category" json:"category" validate:"required,oneof=basic advanced expert"`
	HelpText     string           `yaml:"helpText,omitempty" json:"helpText,omitempty"`
	Dependencies *dependency.Spec `yaml:"dependencies,omitempty" json:"dependencies,omitempty"`
}

// Template is a tutorial template that show_tutorial actions can refer to by id.
type Template struct {
	ID      string   `yaml:"id" json:"id" validate:"required"`
	Title   string   `yaml:"title,omitempty" json:"title,omitempty"`
	Content string   `yaml:"content,omitempty" json:"content,omitempty"`
	Steps   []string `yaml:"steps,omitempty" json:"steps,omitempty"`
}

// ABTest declares an experiment.
type ABTest struct {
	TestID            string        `yaml:"testId" json:"testId" validate:"required"`
	Variants          []VariantSpec `yaml:"variants" json:"variants" validate:"dive"`
	TrafficAllocation []float64     `yaml:"trafficAllocation" json:"trafficAllocation"`
	Metrics           []string      `yaml:"metrics,omitempty" json:"metrics,omitempty"`
}

// VariantSpec is one arm of an experiment with the partial configuration it applies.
type VariantSpec struct {
	ID            string   `yaml:"id" json:"id" validate:"required"`
	Configuration *Partial `yaml:"configuration,omitempty" json:"configuration,omitempty"`
}

// Partial is a variant's override. Areas merge by key; a non-nil Rules or Templates list
// replaces the base list.
type Partial struct {
	Areas     map[string]AreaSpec `yaml:"areas,omitempty" json:"areas,omitempty" validate:"dive"`
	Rules     []rules.Spec        `yaml:"rules,omitempty" json:"rules,omitempty" validate:"dive"`
	Templates []Template          `yaml:"templates,omitempty" json:"templates,omitempty" validate:"dive"`
}

// AreaIDs returns the area ids sorted alphabetically.
func (d *Document) AreaIDs() []string {
	ids := make([]string, 0, len(d.Areas))
	for id := range d.Areas {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Registrations converts every element into a store registration, areas in alphabetical
// order and elements in declaration order. Validate must have accepted the document.
func (d *Document) Registrations() []store.Registration {
	var out []store.Registration
	for _, areaID := range d.AreaIDs() {
		for _, el := range d.Areas[areaID].Elements {
			category, err := store.ParseCategory(el.Category)
			if err != nil {
				continue
			}
			out = append(out, store.Registration{
				ID:         el.ID,
				Category:   category,
				Area:       areaID,
				HelpText:   el.HelpText,
				Dependency: dependency.Decode(el.Dependencies),
			})
		}
	}
	return out
}

// ElementIDs returns every declared element id.
func (d *Document) ElementIDs() map[string]struct{} {
	ids := make(map[string]struct{})
	for _, area := range d.Areas {
		for _, el := range area.Elements {
			ids[el.ID] = struct{}{}
		}
	}
	return ids
}

// DecodeRules decodes the rule list.
func (d *Document) DecodeRules() []rules.Rule {
	return rules.DecodeAll(d.Rules)
}

// Template looks up a template by id.
func (d *Document) Template(id string) (Template, bool) {
	for _, tpl := range d.Templates {
		if tpl.ID == id {
			return tpl, true
		}
	}
	return Template{}, false
}

// Experiment returns the experiment declaration in selector form.
func (d *Document) Experiment() (variant.Experiment, bool) {
	if d.ABTest == nil {
		return variant.Experiment{}, false
	}
	ids := make([]string, 0, len(d.ABTest.Variants))
	for _, v := range d.ABTest.Variants {
		ids = append(ids, v.ID)
	}
	return variant.Experiment{
		TestID:            d.ABTest.TestID,
		Variants:          ids,
		TrafficAllocation: append([]float64(nil), d.ABTest.TrafficAllocation...),
		Metrics:           append([]string(nil), d.ABTest.Metrics...),
	}, true
}
