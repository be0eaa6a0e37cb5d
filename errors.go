package mailclass

import (
	"errors"
	"fmt"

	"github.com/hupe1980/mailclass/linear"
	"github.com/hupe1980/mailclass/persistence"
	"github.com/hupe1980/mailclass/taxonomy"
	"github.com/hupe1980/mailclass/vectorize"
)

var (
	// ErrEmptyTrainingSet is returned when a classifier is fitted on
	// zero examples.
	ErrEmptyTrainingSet = errors.New("empty training set")

	// ErrNotFitted is returned when a zero-value Classifier is asked to
	// predict or persist itself.
	ErrNotFitted = errors.New("classifier not fitted")

	// ErrInvalidFeatureCount is returned when the configured feature
	// count is not positive.
	ErrInvalidFeatureCount = errors.New("invalid feature count")

	// ErrEmptyTaxonomy is returned when the taxonomy defines no
	// categories.
	ErrEmptyTaxonomy = errors.New("empty taxonomy")

	// ErrCorruptModel is returned when a persisted model fails
	// validation during load. Use errors.As to recover the underlying
	// *persistence.ChecksumMismatchError or *persistence.ShapeMismatchError
	// for details.
	ErrCorruptModel = errors.New("corrupt model")
)

// translateError maps subpackage errors to the public error surface.
// Typed errors stay in the chain so callers can still use errors.As.
func translateError(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, linear.ErrEmptyTrainingSet):
		return fmt.Errorf("%w: %w", ErrEmptyTrainingSet, err)
	case errors.Is(err, vectorize.ErrInvalidFeatureCount):
		return fmt.Errorf("%w: %w", ErrInvalidFeatureCount, err)
	case errors.Is(err, taxonomy.ErrEmptyTaxonomy):
		return fmt.Errorf("%w: %w", ErrEmptyTaxonomy, err)
	case errors.Is(err, vectorize.ErrCorruptState),
		errors.Is(err, linear.ErrCorruptState),
		errors.Is(err, persistence.ErrInvalidMagic),
		errors.Is(err, persistence.ErrInvalidVersion),
		errors.Is(err, persistence.ErrCorruptBody):
		return fmt.Errorf("%w: %w", ErrCorruptModel, err)
	}

	var checksumErr *persistence.ChecksumMismatchError
	if errors.As(err, &checksumErr) {
		return fmt.Errorf("%w: %w", ErrCorruptModel, err)
	}

	var shapeErr *persistence.ShapeMismatchError
	if errors.As(err, &shapeErr) {
		return fmt.Errorf("%w: %w", ErrCorruptModel, err)
	}

	return err
}
