package storage

import (
	"context"

	"github.com/layerdynamics/forge-runtime/internal/oprt"
)

// storageErr maps a storage-layer error to the filesystem-family error
// codes: STG has no code range of its own, and the storage service is a
// persistence facility over the same "blob IO" shape as FS, so failures
// surface as FS IoError — the nearest taxonomy entry, funnelling every
// Store error through a single IoError-shaped wrapper.
func storageErr(message string) *oprt.Error {
	return oprt.New(oprt.ErrFSIoError, message)
}

// Service implements the Storage Service (STG) ops: get, set, remove,
// scoped to a single application identifier for the lifetime of the
// process.
type Service struct {
	store *Store
	appID string
}

// NewService builds a storage service bound to appID.
func NewService(store *Store, appID string) *Service {
	return &Service{store: store, appID: appID}
}

// Get returns the value at key, or nil if unset.
func (s *Service) Get(_ context.Context, key string) (oprt.Value, *oprt.Error) {
	value, ok, err := s.store.Get(s.appID, key)
	if err != nil {
		return nil, storageErr(err.Error())
	}
	if !ok {
		return nil, nil
	}
	return oprt.Bytes(value), nil
}

// Set stores value at key.
func (s *Service) Set(_ context.Context, key string, value []byte) *oprt.Error {
	if err := s.store.Set(s.appID, key, value); err != nil {
		return storageErr(err.Error())
	}
	return nil
}

// Remove deletes key. Removing an absent key succeeds.
func (s *Service) Remove(_ context.Context, key string) *oprt.Error {
	if err := s.store.Remove(s.appID, key); err != nil {
		return storageErr(err.Error())
	}
	return nil
}
