package channel

import "sync"

// Environment is the set of signer handles injected into the client
// runtime, addressed by dotted global path ("ethereum", "phantom.ethereum").
type Environment struct {
	mu      sync.RWMutex
	globals map[string]Handle
}

// NewEnvironment creates an empty environment.
func NewEnvironment() *Environment {
	return &Environment{globals: make(map[string]Handle)}
}

// Inject registers h at path, replacing any previous handle.
func (e *Environment) Inject(path string, h Handle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.globals[path] = h
}

// Remove drops the handle at path.
func (e *Environment) Remove(path string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.globals, path)
}

// Lookup returns the handle at path.
func (e *Environment) Lookup(path string) (Handle, bool) {
	if e == nil {
		return nil, false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	h, ok := e.globals[path]
	return h, ok && h != nil
}
