package verdict

import (
	"github.com/codeready-toolchain/arbiter/pkg/apperr"
	"github.com/codeready-toolchain/arbiter/pkg/models"
)

// ValidateSpec checks a working spec for the structural problems that
// would make verdict generation meaningless. It is the same contract
// Generate enforces, applied up front so authors get all failures at
// once instead of one per submission.
func ValidateSpec(spec *models.WorkingSpec) error {
	if spec == nil {
		return apperr.New(apperr.KindValidation, "working spec is required")
	}
	if spec.ID == "" {
		return apperr.New(apperr.KindValidation, "spec id is required")
	}
	if _, ok := coverageThresholds[spec.RiskTier]; !ok {
		return apperr.New(apperr.KindValidation,
			"spec %q: risk tier %d not in {1,2,3}", spec.ID, spec.RiskTier)
	}
	if len(spec.Acceptance) == 0 {
		return apperr.New(apperr.KindValidation,
			"spec %q: at least one acceptance criterion is required", spec.ID)
	}

	seen := make(map[string]bool, len(spec.Acceptance))
	for i, criterion := range spec.Acceptance {
		if criterion.ID == "" {
			return apperr.New(apperr.KindValidation,
				"spec %q: acceptance criterion %d has no id", spec.ID, i)
		}
		if seen[criterion.ID] {
			return apperr.New(apperr.KindValidation,
				"spec %q: duplicate acceptance criterion id %q", spec.ID, criterion.ID)
		}
		seen[criterion.ID] = true
		if criterion.Given == "" || criterion.When == "" || criterion.Then == "" {
			return apperr.New(apperr.KindValidation,
				"spec %q: criterion %q must have given, when, and then", spec.ID, criterion.ID)
		}
	}

	for name, target := range spec.NonFunctional {
		if target <= 0 {
			return apperr.New(apperr.KindValidation,
				"spec %q: non-functional target %q must be positive", spec.ID, name)
		}
	}
	return nil
}
