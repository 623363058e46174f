package role

import "context"

// NoopServices is the default Services implementation: no dependent
// share/container inventory is wired on this build, so RoleUpdate's
// dataset readonly/mount flip still runs but never finds any dependent
// service to flag immutable.
type NoopServices struct{}

func (NoopServices) ReservedServices(context.Context, string) ([]ServiceRef, error) {
	return nil, nil
}

func (NoopServices) RelatedServices(context.Context, string) ([]ServiceRef, error) {
	return nil, nil
}

func (NoopServices) SetImmutable(context.Context, ServiceRef, bool, bool) error {
	return nil
}
