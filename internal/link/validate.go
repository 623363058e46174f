package link

import "fmt"

// ValidationError reports a precheck failure; prechecks never mutate
// state.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("link: validation failed on %s: %s", e.Field, e.Reason)
}

// LocalDataset is the slice of zfs.Dataset fields Validate needs, kept
// narrow so this package doesn't need to import internal/zfs for a single
// bool and a name.
type LocalDataset struct {
	Name      string
	Encrypted bool
}

// Validate enforces the write-time link invariants: exactly one
// partner IP belongs to this host, master is one of the partners, datasets
// are non-empty and exist locally, replicate_services requires
// bidirectional, and no encrypted volume is ever part of a link.
func Validate(l Link, localDatasets map[string]LocalDataset, localIPs []string) error {
	if l.Name == "" {
		return &ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if l.Partners[0] == "" || l.Partners[1] == "" || l.Partners[0] == l.Partners[1] {
		return &ValidationError{Field: "partners", Reason: "must be two distinct IPs"}
	}
	if l.Master != l.Partners[0] && l.Master != l.Partners[1] {
		return &ValidationError{Field: "master", Reason: "must equal one of the partners"}
	}
	if len(l.Datasets) == 0 {
		return &ValidationError{Field: "datasets", Reason: "must be non-empty"}
	}
	if l.ReplicateServices && !l.Bidirectional {
		return &ValidationError{Field: "replicate_services", Reason: "requires bidirectional"}
	}
	localMatches := 0
	for _, p := range l.Partners {
		for _, ip := range localIPs {
			if p == ip {
				localMatches++
				break
			}
		}
	}
	switch localMatches {
	case 0:
		return &ValidationError{Field: "partners", Reason: "no partner IP matches this host"}
	case 2:
		return &ValidationError{Field: "partners", Reason: "both partner IPs match this host"}
	}
	seen := make(map[string]bool, len(l.Datasets))
	for _, name := range l.Datasets {
		if seen[name] {
			return &ValidationError{Field: "datasets", Reason: fmt.Sprintf("%q listed more than once", name)}
		}
		seen[name] = true
		ds, ok := localDatasets[name]
		if !ok {
			return &ValidationError{Field: "datasets", Reason: fmt.Sprintf("%q does not exist locally", name)}
		}
		if ds.Encrypted {
			return &ValidationError{Field: "datasets", Reason: fmt.Sprintf("%q is an encrypted volume", name)}
		}
	}
	return nil
}
