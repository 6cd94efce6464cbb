package namesys

import (
	"errors"

	"github.com/dirkmc/go-namesys/router"
)

// ErrNotFound signals that no valid record exists for a name.
var ErrNotFound = router.ErrNotFound

// ErrResolveFailed signals an error when attempting to resolve.
var ErrResolveFailed = errors.New("could not resolve name")

// ErrResolveRecursion signals a recursion-depth limit.
var ErrResolveRecursion = errors.New("could not resolve name (recursion limit exceeded)")

// ErrPublishFailed signals an error when attempting to publish.
var ErrPublishFailed = errors.New("could not publish record")

// ErrOffline signals that an operation needed the network while
// offline mode was set.
var ErrOffline = errors.New("operation requires the network but offline mode is set")

// ErrInvalidValue signals that a value is not a usable content path.
var ErrInvalidValue = errors.New("invalid record value")

// ErrNoDomainResolver signals a domain-name input with no configured
// DomainResolver to hand it to.
var ErrNoDomainResolver = errors.New("no domain resolver configured")
