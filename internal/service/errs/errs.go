package errs

import "errors"

// Error classes shared by the service layer. Callers wrap them with fmt.Errorf("%w: ...")
// and transports map them to responses with errors.Is.
var (
	// ErrValidation reports bad caller input.
	ErrValidation = errors.New("validation error")
	// ErrNotFound reports a missing order, coupon or product.
	ErrNotFound = errors.New("not found")
	// ErrConflict reports a transition that is no longer legal for the current state.
	ErrConflict = errors.New("conflict")
	// ErrForbidden reports a caller acting on a resource it does not own.
	ErrForbidden = errors.New("forbidden")
	// ErrDependency reports an unreachable collaborator (storage, gateway).
	ErrDependency = errors.New("dependency unavailable")
)
