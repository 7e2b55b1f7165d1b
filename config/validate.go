package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate checks the structural rules of a document: required ids, known categories and
// unique element ids. Unknown dependency, trigger and action types are left for lint.
func (d *Document) Validate() error {
	if d == nil {
		return errors.New("configuration is nil")
	}
	if err := validate.Struct(d); err != nil {
		return fmt.Errorf("invalid configuration: %w", describe(err))
	}

	seen := make(map[string]string)
	for _, areaID := range d.AreaIDs() {
		for _, el := range d.Areas[areaID].Elements {
			if previous, dup := seen[el.ID]; dup {
				return fmt.Errorf("invalid configuration: element %q declared in areas %q and %q", el.ID, previous, areaID)
			}
			seen[el.ID] = areaID
		}
	}

	if d.ABTest != nil {
		variants := make(map[string]struct{}, len(d.ABTest.Variants))
		for _, v := range d.ABTest.Variants {
			if _, dup := variants[v.ID]; dup {
				return fmt.Errorf("invalid configuration: duplicate variant %q in test %q", v.ID, d.ABTest.TestID)
			}
			variants[v.ID] = struct{}{}
		}
	}
	return nil
}

func describe(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	parts := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s failed %s=%s (got %v)", fe.Namespace(), fe.Tag(), fe.Param(), fe.Value()))
		} else {
			parts = append(parts, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
		}
	}
	return errors.New(strings.Join(parts, "; "))
}
