// Package secret provides Secret, a single-owner container for sensitive
// bytes such as passwords, private keys and API tokens.
//
// The bytes live in a hardened region outside the Go heap: locked into RAM,
// fenced by guard pages, prefixed by a canary and kept in a no-access
// protection state. The contents are only reachable inside a scoped access
// window:
//
//	s := secret.New(32)
//	defer s.Destroy()
//
//	err := s.WithWriteAccess(func(view []byte) error {
//	    copy(view, material)
//	    return nil
//	})
//
//	ok, err := secret.Read(s, func(view []byte) (bool, error) {
//	    return verify(view), nil
//	})
//
// The window is closed when the closure returns, returns an error or panics.
// Views must not be retained past the closure; after the window closes the
// memory is no-access again and touching it faults.
//
// # Rules
//
//   - Only one access window may be open on a Secret at a time. Nesting
//     WithReadAccess inside WithWriteAccess on the same Secret is misuse even
//     if the platform happens to tolerate it. WithGuardTracking reports it.
//   - A window must not outlive its Secret: do not Move, MoveFrom, Zeroize or
//     Destroy a Secret from inside one of its own closures.
//   - Secret is not safe for concurrent use. Callers serialize access.
//   - A Secret must not be copied by value; always pass *Secret.
//
// # Failures
//
// Contract violations (size <= 0, use of a copied or zero Secret) panic.
// Platform failures (allocation, protection changes, release) are fatal: they
// are logged at Fatal level and the process exits. A buffer whose protection
// cannot be asserted is never handed back to the caller.
package secret
