package main

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/srg/sppbridge/internal/config"
	"github.com/srg/sppbridge/internal/device"
	"github.com/srg/sppbridge/internal/devicefactory"
	"github.com/srg/sppbridge/internal/testutils"
	"github.com/stretchr/testify/suite"
)

const (
	TestDeviceAddress1 = "00:00:00:00:00:01"
	TestDeviceAddress2 = "00:00:00:00:00:02"
)

// syncBuffer is a bytes.Buffer safe for the reader goroutine and the test.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// CommandTestSuite runs sppctl commands against a FakeAdapter.
// All cmd/sppctl suites embed it.
type CommandTestSuite struct {
	suite.Suite
	Adapter *testutils.FakeAdapter

	originalFactory func(*config.Config, *logrus.Logger) (device.Adapter, error)
}

func (s *CommandTestSuite) SetupSuite() {
	s.originalFactory = devicefactory.AdapterFactory
}

func (s *CommandTestSuite) TearDownSuite() {
	devicefactory.AdapterFactory = s.originalFactory
}

// SetupTest installs a fresh adapter and puts every flag back to its default,
// since cobra keeps flag values between executions.
func (s *CommandTestSuite) SetupTest() {
	s.Adapter = testutils.NewAdapterBuilder().
		WithBonded(TestDeviceAddress1, "HC-05").
		WithFound(TestDeviceAddress2, "").
		Build()
	devicefactory.AdapterFactory = func(*config.Config, *logrus.Logger) (device.Adapter, error) {
		return s.Adapter, nil
	}

	for _, name := range []string{"config", "log-level", "verbose"} {
		f := rootCmd.PersistentFlags().Lookup(name)
		s.Require().NoError(f.Value.Set(f.DefValue))
	}
	for _, c := range rootCmd.Commands() {
		c.Flags().VisitAll(func(f *pflag.Flag) {
			if sv, ok := f.Value.(pflag.SliceValue); ok {
				_ = sv.Replace(nil)
				return
			}
			_ = f.Value.Set(f.DefValue)
		})
	}
}

// ExecuteCommand runs sppctl with args and stdin, returning stdout and stderr.
func (s *CommandTestSuite) ExecuteCommand(stdin io.Reader, args ...string) (string, string, error) {
	if stdin == nil {
		stdin = strings.NewReader("")
	}
	stdout, stderr := &syncBuffer{}, &syncBuffer{}
	rootCmd.SetIn(stdin)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}
