package server

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/flood-cli/internal/model"
	"github.com/sells-group/flood-cli/internal/store"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) SaveAssessment(ctx context.Context, a *model.Assessment) error {
	return m.Called(ctx, a).Error(0)
}

func (m *mockStore) GetAssessment(ctx context.Context, id string) (*model.Assessment, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Assessment), args.Error(1)
}

func (m *mockStore) ListAssessments(ctx context.Context, filter store.Filter) ([]model.Assessment, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Assessment), args.Error(1)
}

func (m *mockStore) Migrate(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockStore) Close() error {
	return m.Called().Error(0)
}

// pingStore adds a health check to mockStore.
type pingStore struct {
	mockStore
}

func (m *pingStore) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}
