// Package validators validates names that end up in file paths, object keys and URLs.
package validators

import (
	"fmt"
	"regexp"
	"strings"
)

const maxPipelineNameLength = 63

// namePattern must start and end with an alphanumeric, with dots, underscores and hyphens in the middle
var namePattern = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9._-]*[a-zA-Z0-9])?$`)

// ValidatePipelineName checks a pipeline name.
// The name becomes a directory of the file state backend, a key segment of the s3
// backend and a path segment of the status API, so it must be a single safe segment.
//
// Examples of valid names:
//   - orders
//   - eu.orders-v2
//   - billing_2024
//
// Examples of invalid names:
//   - eu/orders (contains a slash)
//   - .orders (starts with a dot)
//   - orders- (ends with a hyphen)
func ValidatePipelineName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("pipeline name cannot be empty")
	}
	if len(name) > maxPipelineNameLength {
		return fmt.Errorf("pipeline name exceeds maximum length of %d characters", maxPipelineNameLength)
	}
	if !namePattern.MatchString(name) {
		return fmt.Errorf(
			"pipeline name '%s' is invalid. It must start and end with alphanumeric characters, "+
				"and may contain dots, underscores, and hyphens in the middle",
			name,
		)
	}
	return nil
}

// IsValidPipelineName is a convenience wrapper around ValidatePipelineName for boolean checks.
func IsValidPipelineName(name string) bool {
	return ValidatePipelineName(name) == nil
}
