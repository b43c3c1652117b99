//go:build !windows

package main

import (
	"errors"
	"testing"

	"github.com/srg/sppbridge/internal/device"
	"github.com/stretchr/testify/suite"
)

type BridgeTestSuite struct {
	CommandTestSuite
}

func (s *BridgeTestSuite) TestConnectFailure() {
	// GOAL: Verify a failed connect is reported without creating a PTY
	s.Adapter.DialErr = errors.New("page timeout")

	out, _, err := s.ExecuteCommand(nil, "bridge", TestDeviceAddress1)
	s.Require().Error(err)

	var connectErr *device.ConnectError
	s.True(errors.As(err, &connectErr))
	s.NotContains(out, "Bridging")
}

func (s *BridgeTestSuite) TestInvalidServiceRejected() {
	_, _, err := s.ExecuteCommand(nil, "bridge", TestDeviceAddress1, "--service", "not-a-uuid")
	s.Require().Error(err)
	s.ErrorIs(err, device.ErrInvalidService)
	s.Empty(s.Adapter.Dialed())
}

func TestBridgeTestSuite(t *testing.T) {
	suite.Run(t, new(BridgeTestSuite))
}
