package engine

import (
	"errors"
	"fmt"

	"github.com/petrijr/docflow/pkg/api"
)

// checkSteps reports the first node whose step type is not registered.
func checkSteps(def api.Definition, steps *StepRegistry) error {
	for _, n := range def.Nodes {
		if _, ok := steps.Get(n.StepType); !ok {
			return fmt.Errorf("%w: definition %s node %s uses %q", ErrStepNotRegistered, def.ID, n.ID, n.StepType)
		}
	}
	return nil
}

// ValidateDefinitions checks that every definition plans cleanly and only
// references registered step types. All problems are joined into one error
// so a boot failure lists everything at once.
func ValidateDefinitions(defs []api.Definition, steps *StepRegistry) error {
	var errs []error
	for _, def := range defs {
		def.Normalize()
		if _, err := BuildPlan(def); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := checkSteps(def, steps); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
