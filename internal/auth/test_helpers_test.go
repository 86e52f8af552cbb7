package auth

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

type fakeStore struct {
	mu       sync.Mutex
	byPhone  map[string]Driver
	byID     map[uuid.UUID]Driver
	failWith error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		byPhone: make(map[string]Driver),
		byID:    make(map[uuid.UUID]Driver),
	}
}

func (f *fakeStore) add(d Driver) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byPhone[d.Phone] = d
	f.byID[d.ID] = d
}

func (f *fakeStore) GetDriverByPhone(_ context.Context, phone string) (Driver, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return Driver{}, f.failWith
	}
	d, ok := f.byPhone[phone]
	if !ok {
		return Driver{}, ErrDriverNotFound
	}
	return d, nil
}

func (f *fakeStore) GetDriverByID(_ context.Context, id uuid.UUID) (Driver, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return Driver{}, f.failWith
	}
	d, ok := f.byID[id]
	if !ok {
		return Driver{}, ErrDriverNotFound
	}
	return d, nil
}
