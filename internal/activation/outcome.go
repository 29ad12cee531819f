// SPDX-License-Identifier: MIT

package activation

import (
	"errors"

	"github.com/StagOS/android-system-apex/internal/apex"
)

// Outcome classifies an activation attempt. The retry-trigger policy is an
// external decision; the engine only records which class of failure
// occurred.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeRetryable
	OutcomeFatal
)

// Classifier maps an activation error to an outcome. A nil error is always
// OutcomeSuccess regardless of the classifier.
type Classifier func(error) Outcome

// DefaultClassifier treats verification failures as fatal (the bundle will
// not get better on retry) and everything else, mount and I/O errors
// included, as retryable.
func DefaultClassifier(err error) Outcome {
	if err == nil {
		return OutcomeSuccess
	}
	if errors.Is(err, apex.ErrVerification) {
		return OutcomeFatal
	}
	return OutcomeRetryable
}
