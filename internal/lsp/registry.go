package lsp

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Connection is the transport-agnostic face of a running backend.
type Connection interface {
	// Call sends a request and decodes the reply into result.
	Call(ctx context.Context, method string, params, result any) error

	// Notify sends a notification.
	Notify(ctx context.Context, method string, params any) error

	// Close releases the connection.
	Close() error
}

// lifecycle is shared by every record of the same backend so that
// capability updates keep the same Done channel.
type lifecycle struct {
	done chan struct{}
	once sync.Once
}

func (l *lifecycle) close() {
	l.once.Do(func() { close(l.done) })
}

// Backend is one attached analysis backend. Records are immutable; a
// capability update replaces the record in the registry.
type Backend struct {
	id   string
	name string
	conn Connection
	caps CapabilitySnapshot
	life *lifecycle
}

// ID returns the stable identifier assigned at attach time.
func (b *Backend) ID() string { return b.id }

// Name returns the display name given at attach time.
func (b *Backend) Name() string { return b.name }

// Conn returns the backend connection.
func (b *Backend) Conn() Connection { return b.conn }

// Capabilities returns the snapshot this record was created with.
func (b *Backend) Capabilities() CapabilitySnapshot { return b.caps }

// Done is closed when the backend is detached.
func (b *Backend) Done() <-chan struct{} { return b.life.done }

// Detached reports whether the backend has been detached.
func (b *Backend) Detached() bool {
	select {
	case <-b.life.done:
		return true
	default:
		return false
	}
}

// String returns "name (id)".
func (b *Backend) String() string {
	return fmt.Sprintf("%s (%s)", b.name, b.id)
}

// RegistryEventKind identifies a registry change.
type RegistryEventKind int

const (
	// BackendAttached fires after Attach.
	BackendAttached RegistryEventKind = iota
	// BackendDetached fires after Detach.
	BackendDetached
	// CapabilitiesChanged fires after UpdateCapabilities.
	CapabilitiesChanged
	// DocumentConnected fires after Connect.
	DocumentConnected
	// DocumentDisconnected fires after Disconnect.
	DocumentDisconnected
)

// String returns the event kind name.
func (k RegistryEventKind) String() string {
	switch k {
	case BackendAttached:
		return "attached"
	case BackendDetached:
		return "detached"
	case CapabilitiesChanged:
		return "capabilities-changed"
	case DocumentConnected:
		return "connected"
	case DocumentDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// RegistryEvent describes a registry change.
type RegistryEvent struct {
	Kind     RegistryEventKind
	Backend  *Backend
	Document DocumentURI
}

// registryState is never mutated after publication.
type registryState struct {
	backends map[string]*Backend
	order    []string
	docs     map[DocumentURI][]string
}

func (s *registryState) clone() *registryState {
	next := &registryState{
		backends: make(map[string]*Backend, len(s.backends)),
		order:    slices.Clone(s.order),
		docs:     make(map[DocumentURI][]string, len(s.docs)),
	}
	for id, b := range s.backends {
		next.backends[id] = b
	}
	for doc, ids := range s.docs {
		next.docs[doc] = ids
	}
	return next
}

// Registry associates documents with attached backends.
// Reads are lock-free against an immutable snapshot; writes copy on write.
type Registry struct {
	state atomic.Pointer[registryState]

	mu        sync.Mutex
	listeners []func(RegistryEvent)
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	r := &Registry{}
	r.state.Store(&registryState{
		backends: make(map[string]*Backend),
		docs:     make(map[DocumentURI][]string),
	})
	return r
}

// OnChange registers a listener called after every change.
// Listeners run synchronously on the writer's goroutine, outside the lock.
func (r *Registry) OnChange(fn func(RegistryEvent)) {
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

func (r *Registry) emit(ev RegistryEvent) {
	r.mu.Lock()
	listeners := slices.Clone(r.listeners)
	r.mu.Unlock()
	for _, fn := range listeners {
		fn(ev)
	}
}

// Attach adds a backend and returns its record.
func (r *Registry) Attach(name string, conn Connection, caps CapabilitySnapshot) *Backend {
	b := &Backend{
		id:   uuid.NewString(),
		name: name,
		conn: conn,
		caps: caps,
		life: &lifecycle{done: make(chan struct{})},
	}

	r.mu.Lock()
	next := r.state.Load().clone()
	next.backends[b.id] = b
	next.order = append(next.order, b.id)
	r.state.Store(next)
	r.mu.Unlock()

	r.emit(RegistryEvent{Kind: BackendAttached, Backend: b})
	return b
}

// Detach removes a backend from the registry and every document, and closes
// its Done channel. The connection is not closed.
func (r *Registry) Detach(id string) error {
	r.mu.Lock()
	cur := r.state.Load()
	b, ok := cur.backends[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownBackend, id)
	}
	next := cur.clone()
	delete(next.backends, id)
	next.order = slices.DeleteFunc(next.order, func(v string) bool { return v == id })
	for doc, ids := range next.docs {
		if !slices.Contains(ids, id) {
			continue
		}
		rest := slices.DeleteFunc(slices.Clone(ids), func(v string) bool { return v == id })
		if len(rest) == 0 {
			delete(next.docs, doc)
		} else {
			next.docs[doc] = rest
		}
	}
	r.state.Store(next)
	r.mu.Unlock()

	b.life.close()
	r.emit(RegistryEvent{Kind: BackendDetached, Backend: b})
	return nil
}

// Connect associates a document with a backend. Connecting twice is a no-op.
func (r *Registry) Connect(doc DocumentURI, id string) error {
	r.mu.Lock()
	cur := r.state.Load()
	b, ok := cur.backends[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownBackend, id)
	}
	if slices.Contains(cur.docs[doc], id) {
		r.mu.Unlock()
		return nil
	}
	next := cur.clone()
	next.docs[doc] = append(slices.Clone(cur.docs[doc]), id)
	r.state.Store(next)
	r.mu.Unlock()

	r.emit(RegistryEvent{Kind: DocumentConnected, Backend: b, Document: doc})
	return nil
}

// Disconnect removes the association between a document and a backend.
func (r *Registry) Disconnect(doc DocumentURI, id string) {
	r.mu.Lock()
	cur := r.state.Load()
	if !slices.Contains(cur.docs[doc], id) {
		r.mu.Unlock()
		return
	}
	next := cur.clone()
	rest := slices.DeleteFunc(slices.Clone(cur.docs[doc]), func(v string) bool { return v == id })
	if len(rest) == 0 {
		delete(next.docs, doc)
	} else {
		next.docs[doc] = rest
	}
	b := cur.backends[id]
	r.state.Store(next)
	r.mu.Unlock()

	r.emit(RegistryEvent{Kind: DocumentDisconnected, Backend: b, Document: doc})
}

// UpdateCapabilities replaces the backend record with one carrying caps.
// Readers holding the previous record keep seeing the previous snapshot.
func (r *Registry) UpdateCapabilities(id string, caps CapabilitySnapshot) error {
	r.mu.Lock()
	cur := r.state.Load()
	old, ok := cur.backends[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownBackend, id)
	}
	b := &Backend{id: old.id, name: old.name, conn: old.conn, caps: caps, life: old.life}
	next := cur.clone()
	next.backends[id] = b
	r.state.Store(next)
	r.mu.Unlock()

	r.emit(RegistryEvent{Kind: CapabilitiesChanged, Backend: b})
	return nil
}

// BackendsFor returns the backends connected to doc in connect order.
func (r *Registry) BackendsFor(doc DocumentURI) []*Backend {
	s := r.state.Load()
	ids := s.docs[doc]
	out := make([]*Backend, 0, len(ids))
	for _, id := range ids {
		if b, ok := s.backends[id]; ok {
			out = append(out, b)
		}
	}
	return out
}

// Documents returns the documents connected to backend id.
func (r *Registry) Documents(id string) []DocumentURI {
	s := r.state.Load()
	var out []DocumentURI
	for doc, ids := range s.docs {
		if slices.Contains(ids, id) {
			out = append(out, doc)
		}
	}
	slices.Sort(out)
	return out
}

// Backend returns the current record for id.
func (r *Registry) Backend(id string) (*Backend, bool) {
	b, ok := r.state.Load().backends[id]
	return b, ok
}

// All returns every attached backend in attach order.
func (r *Registry) All() []*Backend {
	s := r.state.Load()
	out := make([]*Backend, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.backends[id])
	}
	return out
}

// Len returns the number of attached backends.
func (r *Registry) Len() int {
	return len(r.state.Load().backends)
}
