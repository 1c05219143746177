package orchestrator

import "sync"

// Event is anything the orchestrator announces during a run.
type Event interface {
	Name() string
	Run() string
}

// StateChangedEvent marks a state-machine transition.
type StateChangedEvent struct {
	RunID    string
	From     State
	To       State
	Progress int
}

func (StateChangedEvent) Name() string  { return "state.changed" }
func (e StateChangedEvent) Run() string { return e.RunID }

// SyncProgressEvent reports aggregate repository-sync progress.
type SyncProgressEvent struct {
	RunID     string
	Completed int
	Total     int
}

func (SyncProgressEvent) Name() string  { return "sync.progress" }
func (e SyncProgressEvent) Run() string { return e.RunID }

// OutputLineEvent carries one line of external-tool output.
type OutputLineEvent struct {
	RunID string
	Line  string
}

func (OutputLineEvent) Name() string  { return "build.output" }
func (e OutputLineEvent) Run() string { return e.RunID }

// RunFinishedEvent marks a run reaching a terminal state.
type RunFinishedEvent struct {
	RunID string
	State State
	Err   error
}

func (RunFinishedEvent) Name() string  { return "run.finished" }
func (e RunFinishedEvent) Run() string { return e.RunID }

// Handler processes an Event.
type Handler func(Event)

// Bus is a simple synchronous pub/sub event bus. Presentation layers subscribe
// here instead of the orchestrator knowing anything about them.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]Handler
}

func NewBus() *Bus { return &Bus{subscribers: map[string][]Handler{}} }

// Subscribe registers a handler for a given event name.
func (b *Bus) Subscribe(event string, h Handler) {
	if h == nil {
		return
	}
	b.mu.Lock()
	b.subscribers[event] = append(b.subscribers[event], h)
	b.mu.Unlock()
}

// SubscribeAll registers a handler for every event.
func (b *Bus) SubscribeAll(h Handler) {
	b.Subscribe("*", h)
}

// Publish delivers an event to all handlers synchronously.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	hs := append([]Handler(nil), b.subscribers[e.Name()]...)
	hs = append(hs, b.subscribers["*"]...)
	b.mu.RUnlock()
	for _, h := range hs {
		h(e)
	}
}
