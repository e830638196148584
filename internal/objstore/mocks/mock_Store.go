// Package mocks provides test doubles for the objstore package.
package mocks

import (
	"context"
	"io"

	mock "github.com/stretchr/testify/mock"
)

// MockStore is a mock type for the Store interface.
type MockStore struct {
	mock.Mock
}

// Upload provides a mock function with given fields: ctx, key, body, contentType
func (_m *MockStore) Upload(ctx context.Context, key string, body io.Reader, contentType string) error {
	ret := _m.Called(ctx, key, body, contentType)

	if len(ret) == 0 {
		panic("no return value specified for Upload")
	}

	var r0 error
	if rf, ok := ret.Get(0).(func(context.Context, string, io.Reader, string) error); ok {
		r0 = rf(ctx, key, body, contentType)
	} else {
		r0 = ret.Error(0)
	}

	return r0
}

// Download provides a mock function with given fields: ctx, key, w
func (_m *MockStore) Download(ctx context.Context, key string, w io.WriterAt) (int64, error) {
	ret := _m.Called(ctx, key, w)

	if len(ret) == 0 {
		panic("no return value specified for Download")
	}

	var r0 int64
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, string, io.WriterAt) (int64, error)); ok {
		return rf(ctx, key, w)
	}
	if rf, ok := ret.Get(0).(func(context.Context, string, io.WriterAt) int64); ok {
		r0 = rf(ctx, key, w)
	} else {
		r0 = ret.Get(0).(int64)
	}

	if rf, ok := ret.Get(1).(func(context.Context, string, io.WriterAt) error); ok {
		r1 = rf(ctx, key, w)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// Ping provides a mock function with given fields: ctx
func (_m *MockStore) Ping(ctx context.Context) error {
	ret := _m.Called(ctx)

	if len(ret) == 0 {
		panic("no return value specified for Ping")
	}

	var r0 error
	if rf, ok := ret.Get(0).(func(context.Context) error); ok {
		r0 = rf(ctx)
	} else {
		r0 = ret.Error(0)
	}

	return r0
}

// Bucket provides a mock function with given fields:
func (_m *MockStore) Bucket() string {
	ret := _m.Called()

	if len(ret) == 0 {
		panic("no return value specified for Bucket")
	}

	var r0 string
	if rf, ok := ret.Get(0).(func() string); ok {
		r0 = rf()
	} else {
		r0 = ret.Get(0).(string)
	}

	return r0
}

// NewMockStore creates a new instance of MockStore.
func NewMockStore(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockStore {
	mock := &MockStore{}
	mock.Test(t)

	t.Cleanup(func() { mock.AssertExpectations(t) })

	return mock
}
