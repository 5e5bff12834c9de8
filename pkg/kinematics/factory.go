// Factory for kinematics selected by name in the machine configuration.
package kinematics

import (
	"strings"

	"reprap-motion/pkg/errors"
)

// New creates the kinematics called name
func New(name string) (Kinematics, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "cartesian":
		return NewCartesian(), nil
	case "corexy":
		return NewCoreXY(), nil
	case "corexz":
		return NewCoreXZ(), nil
	default:
		return nil, errors.Newf(errors.ErrKinematics, "unsupported kinematics type: %s", name)
	}
}

// IsSupported returns true if the given kinematic type is supported.
func IsSupported(kinType string) bool {
	_, err := New(kinType)
	return err == nil
}

// SupportedTypes returns a list of supported kinematic types.
func SupportedTypes() []string {
	return []string{"cartesian", "corexy", "corexz"}
}
