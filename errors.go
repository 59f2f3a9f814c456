package gitpure

import "github.com/master-wayne7/gitpure/internal/errors"

// Error kinds, matched with errors.Is.
var (
	ErrTransport     = errors.ErrTransport
	ErrProtocol      = errors.ErrProtocol
	ErrCorruptObject = errors.ErrCorruptObject
	ErrCheckout      = errors.ErrCheckout
	ErrReference     = errors.ErrReference
	ErrCancelled     = errors.ErrCancelled
)
