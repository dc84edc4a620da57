package resource

import (
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"
)

func TestConfigValidationErrors(t *testing.T) {
	err := NewConfigValidationFieldRequiredError("base", "base_width")
	test.That(t, err.Error(), test.ShouldEqual, `error validating "base": "base_width" is required`)

	err = NewConfigValidationFieldNegativeError("base", "var_pos_x", -1)
	test.That(t, err.Error(), test.ShouldContainSubstring, `"var_pos_x" must be non-negative, got -1`)

	cause := errors.New("bad baud")
	err = NewConfigValidationError("roboclaw", cause)
	test.That(t, errors.Is(err, cause), test.ShouldBeTrue)
}
