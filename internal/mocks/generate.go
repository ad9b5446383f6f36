// Package mocks provides generated mock implementations of the auth ports.
//
// This package uses go.uber.org/mock (gomock). To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	store := mocks.NewMockSessionStore(ctrl)
//	store.EXPECT().Validate(gomock.Any(), "token").Return(sess, nil)
package mocks

//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=credential_backend_mock.go github.com/target/rolegate/internal/ports CredentialBackend
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=oauth_provider_mock.go github.com/target/rolegate/internal/ports OAuthProvider
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=session_store_mock.go github.com/target/rolegate/internal/ports SessionStore
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=state_store_mock.go github.com/target/rolegate/internal/ports StateStore
