package isolation

// Candidates holds the backends Select chooses between for the current
// host (spec.md §4.4: "Selection is automatic: Linux ⇒ native;
// otherwise ⇒ VM (if an emulator is available), else is_available()
// returns false"). Native and VM-mediated backends live in sibling
// packages that both import this one, so the caller (cmd/ctst's
// selectBackend) builds the Candidates value rather than this package
// importing them, which would create an import cycle.
type Candidates struct {
	Native Backend
	VM     Backend
}

// Select returns the first available backend, preferring Native. It
// returns nil if neither candidate reports itself available.
func Select(c Candidates) Backend {
	if c.Native != nil && c.Native.IsAvailable() {
		return c.Native
	}
	if c.VM != nil && c.VM.IsAvailable() {
		return c.VM
	}
	return nil
}
