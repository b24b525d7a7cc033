// SPDX-License-Identifier: GPL-3.0-or-later
package domain

import "errors"

// Error taxonomy shared by all components. Callers compare with errors.Is,
// adapters wrap the underlying cause with fmt.Errorf("...: %w").
var (
	ErrAuth              = errors.New("authentication failed")
	ErrTransientNetwork  = errors.New("transient network error")
	ErrStoreUnavailable  = errors.New("store unavailable")
	ErrScorerUnavailable = errors.New("scorer unavailable")
	ErrModelReload       = errors.New("model reload failed")
	ErrNotFound          = errors.New("not found")
)
