package tunnel

import (
	"context"
	"sync"

	"github.com/yllada/vpn-client/common"
)

type fakeManager struct {
	id string

	mu        sync.Mutex
	status    Status
	observers []func(Status)
	startErr  error
	stopErr   error
	starts    int
	stops     int
}

func newFakeManager(id string, status Status) *fakeManager {
	return &fakeManager{id: id, status: status}
}

func (m *fakeManager) ID() string { return m.id }

func (m *fakeManager) ConnectionStatus() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *fakeManager) ObserveConnectionStatus(fn func(Status)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, fn)
}

func (m *fakeManager) observerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.observers)
}

// emit sets the status and notifies observers on the calling goroutine.
func (m *fakeManager) emit(statuses ...Status) {
	for _, st := range statuses {
		m.mu.Lock()
		m.status = st
		obs := append([]func(Status){}, m.observers...)
		m.mu.Unlock()
		for _, fn := range obs {
			fn(st)
		}
	}
}

func (m *fakeManager) StartTunnel(ctx context.Context) error {
	m.mu.Lock()
	m.starts++
	err := m.startErr
	m.mu.Unlock()
	if err != nil {
		return err
	}
	m.emit(StatusConnecting, StatusConnected)
	return nil
}

func (m *fakeManager) StopTunnel(ctx context.Context) error {
	m.mu.Lock()
	m.stops++
	err := m.stopErr
	m.mu.Unlock()
	if err != nil {
		return err
	}
	m.emit(StatusDisconnecting, StatusDisconnected)
	return nil
}

func (m *fakeManager) counts() (starts, stops int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.starts, m.stops
}

type fakeProfiles struct {
	mu         sync.Mutex
	stored     *fakeManager
	toInstall  *fakeManager
	loadErr    error
	installErr error
	removeErrs []error
	loads      int
	installs   int
	removals   int
}

func (p *fakeProfiles) Load(ctx context.Context) (ProviderManager, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loads++
	if p.loadErr != nil {
		return nil, p.loadErr
	}
	if p.stored == nil {
		return nil, nil
	}
	return p.stored, nil
}

func (p *fakeProfiles) Install(ctx context.Context) (ProviderManager, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.installs++
	if p.installErr != nil {
		return nil, p.installErr
	}
	p.stored = p.toInstall
	return p.stored, nil
}

func (p *fakeProfiles) RemoveAll(ctx context.Context) []error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removals++
	if len(p.removeErrs) > 0 {
		return p.removeErrs
	}
	p.stored = nil
	return nil
}

func (p *fakeProfiles) installCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.installs
}

type memKV struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemKV() *memKV {
	return &memKV{data: make(map[string]string)}
}

func (kv *memKV) Get(ctx context.Context, key string) (string, bool, error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	v, ok := kv.data[key]
	return v, ok, nil
}

func (kv *memKV) Set(ctx context.Context, key, value string) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	kv.data[key] = value
	return nil
}

func (kv *memKV) Delete(ctx context.Context, key string) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	delete(kv.data, key)
	return nil
}

type feedbackEntry struct {
	level common.LogLevel
	tag   string
	value any
}

type recordingFeedback struct {
	mu      sync.Mutex
	entries []feedbackEntry
}

func (f *recordingFeedback) Log(level common.LogLevel, tag string, value any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, feedbackEntry{level: level, tag: tag, value: value})
}

func (f *recordingFeedback) withTag(tag string) []feedbackEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []feedbackEntry
	for _, e := range f.entries {
		if e.tag == tag {
			out = append(out, e)
		}
	}
	return out
}

// only returns the effects of type T, in order.
func only[T Effect](effects []Effect) []T {
	var out []T
	for _, e := range effects {
		if v, ok := e.(T); ok {
			out = append(out, v)
		}
	}
	return out
}
