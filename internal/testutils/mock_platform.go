package testutils

import (
	"context"

	"github.com/srg/sppbridge/internal/permission"
	"github.com/stretchr/testify/mock"
)

// MockPlatform is a testify mock of permission.Platform.
type MockPlatform struct {
	mock.Mock
}

func (m *MockPlatform) APILevel() int {
	return m.Called().Int(0)
}

func (m *MockPlatform) Granted(c permission.Capability) bool {
	return m.Called(c).Bool(0)
}

func (m *MockPlatform) Request(ctx context.Context, caps []permission.Capability) error {
	return m.Called(ctx, caps).Error(0)
}

// GrantAll returns a permission.Platform on the modern API level holding every capability.
func GrantAll() *permission.StaticPlatform {
	return permission.NewStaticPlatform(permission.ModernAPILevel,
		permission.Scan, permission.Connect, permission.FineLocation, permission.CoarseLocation)
}
