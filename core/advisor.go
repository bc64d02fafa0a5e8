package core

import "context"

// AdvisorService is any service that can turn a prepared advice prompt
// into free-text guidance for a student. Implementations call out to an
// external provider and must honor the context deadline; callers never
// invoke them while holding store exclusions.
type AdvisorService interface {
	Advise(ctx context.Context, prompt string) (string, error)
}
