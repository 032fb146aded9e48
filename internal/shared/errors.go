package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
)

// UserSafeMessage returns an error message suitable for surfacing to end
// users; unknown failures collapse to a generic message so storage details
// never leak.
func UserSafeMessage(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrNotFound) {
		return "The requested record was not found."
	}
	return "The operation failed and nothing was changed."
}
