package pagination

import (
	"fmt"

	pkgerrors "github.com/whatsub/notifications/pkg/errors"
)

const (
	// DefaultLimit is the standard page size when a limit is not provided.
	DefaultLimit = 50
	// MinLimit and MaxLimit bound every offset query.
	MinLimit = 1
	MaxLimit = 100
)

// Params holds offset pagination inputs from controllers or services.
type Params struct {
	Limit  int
	Offset int
}

// Default returns the first page with the default size.
func Default() Params {
	return Params{Limit: DefaultLimit}
}

// Validate rejects out-of-range inputs instead of clamping them.
func (p Params) Validate() error {
	if p.Limit < MinLimit || p.Limit > MaxLimit {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("limit must be between %d and %d", MinLimit, MaxLimit)).
			WithDetails(map[string]any{"limit": p.Limit})
	}
	if p.Offset < 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "offset must be zero or greater").
			WithDetails(map[string]any{"offset": p.Offset})
	}
	return nil
}
