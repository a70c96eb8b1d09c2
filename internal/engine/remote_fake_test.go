package engine

import (
	"context"
	"sync"

	"github.com/yln-platform/sheetstore/pkg/types"
)

// fakeRemote is an in-memory types.RemoteTable. Set fail to make every
// call return that error until cleared; calls counts invocations per
// method for assertions on retry behaviour.
type fakeRemote struct {
	mu     sync.Mutex
	tables map[string][][]string
	fail   error
	calls  map[string]int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		tables: make(map[string][][]string),
		calls:  make(map[string]int),
	}
}

func (f *fakeRemote) failWith(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = err
}

func (f *fakeRemote) heal() {
	f.failWith(nil)
}

func (f *fakeRemote) callCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *fakeRemote) rows(entityType string) [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]string, len(f.tables[entityType]))
	for i, row := range f.tables[entityType] {
		out[i] = append([]string(nil), row...)
	}
	return out
}

func (f *fakeRemote) seed(entityType string, rows ...[]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tables[entityType] = append(f.tables[entityType], rows...)
}

func (f *fakeRemote) ListRows(_ context.Context, entityType string) ([][]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["ListRows"]++
	if f.fail != nil {
		return nil, f.fail
	}
	out := make([][]string, len(f.tables[entityType]))
	for i, row := range f.tables[entityType] {
		out[i] = append([]string(nil), row...)
	}
	return out, nil
}

func (f *fakeRemote) AppendRow(_ context.Context, entityType string, row []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["AppendRow"]++
	if f.fail != nil {
		return f.fail
	}
	f.tables[entityType] = append(f.tables[entityType], append([]string(nil), row...))
	return nil
}

func (f *fakeRemote) UpdateRow(_ context.Context, entityType, id string, row []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["UpdateRow"]++
	if f.fail != nil {
		return f.fail
	}
	for i, existing := range f.tables[entityType] {
		if len(existing) > 0 && existing[0] == id {
			f.tables[entityType][i] = append([]string(nil), row...)
			return nil
		}
	}
	f.tables[entityType] = append(f.tables[entityType], append([]string(nil), row...))
	return nil
}

func (f *fakeRemote) DeleteRow(_ context.Context, entityType, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["DeleteRow"]++
	if f.fail != nil {
		return f.fail
	}
	rows := f.tables[entityType]
	for i, existing := range rows {
		if len(existing) > 0 && existing[0] == id {
			f.tables[entityType] = append(rows[:i:i], rows[i+1:]...)
			return nil
		}
	}
	return nil
}

func (f *fakeRemote) EnsureWorksheet(_ context.Context, entityType string, _ types.Schema) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["EnsureWorksheet"]++
	if f.fail != nil {
		return f.fail
	}
	if _, ok := f.tables[entityType]; !ok {
		f.tables[entityType] = nil
	}
	return nil
}
