package asp

import "sync"

// Application holds values shared by every request of the process.
type Application struct {
	lock   sync.Mutex // Application.Lock
	mu     sync.RWMutex
	values map[string]string
}

// NewApplication returns an empty application state.
func NewApplication() *Application {
	return &Application{values: make(map[string]string)}
}

func (a *Application) get(key string) string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.values[key]
}

func (a *Application) set(key, value string) {
	a.mu.Lock()
	a.values[key] = value
	a.mu.Unlock()
}

// Handle returns a request-scoped view of a. The host must call Release when
// the request's script finishes.
func (a *Application) Handle() *ApplicationHandle {
	return &ApplicationHandle{app: a}
}

// ApplicationHandle is the Application object seen by one request. Lock is
// reentrant within the request and released by Unlock or Release.
type ApplicationHandle struct {
	app    *Application
	locked bool
}

func (h *ApplicationHandle) Get(key string) string { return h.app.get(key) }

func (h *ApplicationHandle) Set(key, value string) { h.app.set(key, value) }

// Lock blocks other requests' Lock calls until Unlock.
func (h *ApplicationHandle) Lock() {
	if h.locked {
		return
	}
	h.app.lock.Lock()
	h.locked = true
}

func (h *ApplicationHandle) Unlock() {
	if !h.locked {
		return
	}
	h.locked = false
	h.app.lock.Unlock()
}

// Release drops any lock still held.
func (h *ApplicationHandle) Release() {
	h.Unlock()
}
