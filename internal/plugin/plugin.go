// Package plugin is the caller-facing surface of sppbridge: four calls
// (scan, connect, write, disconnect) plus asynchronous data and
// connectionLost events, exposed in-process through Plugin.Call and to host
// applications as newline-delimited JSON through Server.
package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/srg/sppbridge/internal/discovery"
	"github.com/srg/sppbridge/internal/session"
)

// Method names.
const (
	MethodScan       = "scan"
	MethodConnect    = "connect"
	MethodWrite      = "write"
	MethodDisconnect = "disconnect"
)

var (
	ErrMACRequired  = errors.New("mac is required")
	ErrDataRequired = errors.New("data base64 required")
)

// UnknownMethodError is returned by Call for a method it does not serve.
type UnknownMethodError struct {
	Method string
}

func (e *UnknownMethodError) Error() string {
	return fmt.Sprintf("unknown method %q", e.Method)
}

// ConnectParams are the parameters of connect.
type ConnectParams struct {
	MAC  string `json:"mac"`
	UUID string `json:"uuid,omitempty"`
}

// WriteParams are the parameters of write.
type WriteParams struct {
	Data string `json:"data"`
}

// Empty is the result of calls that only report success.
type Empty struct{}

// Plugin dispatches calls to the scanner and the session manager.
type Plugin struct {
	scanner  *discovery.Scanner
	sessions *session.Manager
	scanOpts *discovery.ScanOptions
	logger   *logrus.Logger
}

// New creates a Plugin. Nil scanOpts selects discovery.DefaultScanOptions.
func New(scanner *discovery.Scanner, sessions *session.Manager, scanOpts *discovery.ScanOptions, logger *logrus.Logger) *Plugin {
	if logger == nil {
		logger = logrus.New()
	}
	if scanOpts == nil {
		scanOpts = discovery.DefaultScanOptions()
	}
	return &Plugin{
		scanner:  scanner,
		sessions: sessions,
		scanOpts: scanOpts,
		logger:   logger,
	}
}

// Call runs one method with raw JSON params and returns a JSON-marshalable result.
func (p *Plugin) Call(ctx context.Context, method string, params json.RawMessage) (interface{}, error) {
	log := p.logger.WithField("method", method)
	log.Debug("Plugin call")

	var (
		result interface{}
		err    error
	)
	switch method {
	case MethodScan:
		result, err = p.scan(ctx)
	case MethodConnect:
		result, err = p.connect(ctx, params)
	case MethodWrite:
		result, err = p.write(ctx, params)
	case MethodDisconnect:
		result, err = p.disconnect()
	default:
		err = &UnknownMethodError{Method: method}
	}

	if err != nil {
		log.WithError(err).Debug("Plugin call failed")
		return nil, err
	}
	return result, nil
}

func (p *Plugin) scan(ctx context.Context) (interface{}, error) {
	result, err := p.scanner.Scan(ctx, p.scanOpts, nil)
	if err != nil {
		return nil, fmt.Errorf("scan failed: %w", err)
	}
	return result, nil
}

func (p *Plugin) connect(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var params ConnectParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	if strings.TrimSpace(params.MAC) == "" {
		return nil, ErrMACRequired
	}
	if err := p.sessions.Connect(ctx, params.MAC, params.UUID); err != nil {
		return nil, err
	}
	return Empty{}, nil
}

func (p *Plugin) write(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var params WriteParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	if params.Data == "" {
		return nil, ErrDataRequired
	}
	if err := p.sessions.Write(ctx, params.Data); err != nil {
		return nil, err
	}
	return Empty{}, nil
}

func (p *Plugin) disconnect() (interface{}, error) {
	if err := p.sessions.Disconnect(); err != nil {
		return nil, err
	}
	return Empty{}, nil
}

func decodeParams(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("invalid params: %w", err)
	}
	return nil
}
