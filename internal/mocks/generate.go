// Package mocks provides mock implementations for testing the scenesmith job system.
//
// This package uses go.uber.org/mock (gomock) to generate type-safe mocks for the
// core ports. The mocks are generated using go:generate directives.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	defer ctrl.Finish()
//	exec := mocks.NewMockStageExecutor(ctrl)
//	exec.EXPECT().Execute(gomock.Any(), gomock.Any()).Return(outcome, nil)
package mocks

// Generate mock for StageExecutor interface from internal/core package.
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=stage_executor_mock.go github.com/scenesmith/scenesmith/internal/core StageExecutor
