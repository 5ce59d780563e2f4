// Package delegate implements the build-system delegate bus: a
// mutex-guarded observer registry that fans change notifications out to
// subscribers, mirroring the registration idiom in the teacher's
// internal/oninterrupt package (a package-level callback slice guarded by a
// single mutex) generalized from "process-exit cleanup hooks" to
// "per-URI build-settings/dependency/capability change notifications".
package delegate

import "sync"

// Sink receives the three notification kinds the resolver and index manager
// publish (spec §4.5). Implementations must not block meaningfully and must
// tolerate empty sets.
type Sink interface {
	FileBuildSettingsChanged(uris []string)
	FileDependenciesUpdated(uris []string)
	FileHandlingCapabilityChanged()
}

// subscription pairs a Sink with the URI it registered interest in. A Sink
// registered with an empty URI receives every notification, unfiltered (the
// resolver and index manager do not subscribe; they publish through the
// engine's adapter).
type subscription struct {
	uri string
	id  uint64
	s   Sink
}

// Bus is the Build-System Delegate Bus: register/unregister per-URI
// interest, then publish change notifications that reach only subscribers
// whose URI matches (or who subscribed with no URI filter).
type Bus struct {
	mu     sync.Mutex
	nextID uint64
	subs   []subscription
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{}
}

// Handle identifies one registration, for Unregister.
type Handle uint64

// Register subscribes s to notifications about uri. An empty uri subscribes
// to every notification. Returns a Handle for Unregister. The bus keeps a
// strong reference to s until Unregister.
func (b *Bus) Register(uri string, s Sink) Handle {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{uri: uri, id: id, s: s})
	return Handle(id)
}

// Unregister removes a prior registration. A no-op if h is unknown (already
// unregistered, or from a different Bus).
func (b *Bus) Unregister(h Handle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subs {
		if sub.id == uint64(h) {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// PublishFileBuildSettingsChanged notifies every subscriber whose URI
// appears in uris, plus every whole-workspace subscriber.
func (b *Bus) PublishFileBuildSettingsChanged(uris []string) {
	b.dispatch(uris, func(s Sink, matched []string) { s.FileBuildSettingsChanged(matched) })
}

// PublishFileDependenciesUpdated notifies every subscriber whose URI appears
// in uris, plus every whole-workspace subscriber.
func (b *Bus) PublishFileDependenciesUpdated(uris []string) {
	b.dispatch(uris, func(s Sink, matched []string) { s.FileDependenciesUpdated(matched) })
}

// PublishFileHandlingCapabilityChanged notifies every subscriber,
// unconditionally: capability changes are workspace-wide (a reload can make
// any file newly handled or newly unhandled).
func (b *Bus) PublishFileHandlingCapabilityChanged() {
	b.mu.Lock()
	subs := append([]subscription(nil), b.subs...)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.s.FileHandlingCapabilityChanged()
	}
}

func (b *Bus) dispatch(uris []string, notify func(Sink, []string)) {
	if len(uris) == 0 {
		return
	}
	uriSet := make(map[string]bool, len(uris))
	for _, u := range uris {
		uriSet[u] = true
	}

	b.mu.Lock()
	subs := append([]subscription(nil), b.subs...)
	b.mu.Unlock()

	for _, sub := range subs {
		if sub.uri == "" {
			notify(sub.s, uris)
			continue
		}
		if uriSet[sub.uri] {
			notify(sub.s, []string{sub.uri})
		}
	}
}
