package tools

import "fmt"

// ValidateDependencies checks that every name in required is present in
// discovered, after policy filtering has already been applied (spec §4.9
// "Discover tools from the external transport, filter by allow-list,
// validate the module's tool dependencies; on validation failure, abort
// the turn with a fatal error"). Returns the names that are missing; an
// empty, non-nil slice cannot be returned — callers check len() == 0.
func ValidateDependencies(discovered Discovered, required []string) []string {
	var missing []string
	for _, name := range required {
		if _, ok := discovered[Ident(name)]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

// DependencyError reports the module tool dependencies that
// ValidateDependencies found missing. The Scheduler does not return it: it
// runs its own dependency check and reports a failure as a thinkerr
// EValidation error.
type DependencyError struct {
	Missing []string
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("tools: missing required dependencies: %v", e.Missing)
}
