package browser

import "errors"

// Driver level fault sentinels. Drivers wrap them with %w so callers can use errors.Is.
var (
	ErrClickIntercepted = errors.New("element click intercepted")
	ErrNotInteractable  = errors.New("element not interactable")
	ErrStale            = errors.New("element is no longer attached to the document")
	ErrScript           = errors.New("script execution failed")
	ErrUnsupported      = errors.New("operation not supported by driver")
)

// IsInteractionFault reports whether err is one of the faults a JavaScript click can work around.
func IsInteractionFault(err error) bool {
	return errors.Is(err, ErrClickIntercepted) || errors.Is(err, ErrNotInteractable)
}
