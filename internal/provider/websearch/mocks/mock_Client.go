// Package mocks provides test doubles for the websearch client.
package mocks

import (
	"context"

	mock "github.com/stretchr/testify/mock"

	websearch "github.com/sadewadee/leadscope/internal/provider/websearch"
)

// MockClient is a mock type for the Client interface.
type MockClient struct {
	mock.Mock
}

// Search provides a mock function with given fields: ctx, query
func (_m *MockClient) Search(ctx context.Context, query string) ([]websearch.Result, error) {
	ret := _m.Called(ctx, query)

	if len(ret) == 0 {
		panic("no return value specified for Search")
	}

	if rf, ok := ret.Get(0).(func(context.Context, string) ([]websearch.Result, error)); ok {
		return rf(ctx, query)
	}

	var r0 []websearch.Result
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]websearch.Result)
	}
	return r0, ret.Error(1)
}

// NewMockClient creates a new instance of MockClient and registers cleanup assertions.
func NewMockClient(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockClient {
	m := &MockClient{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}
