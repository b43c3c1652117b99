// Package permission decides whether the radio may be used and, when it may
// not, asks the host platform once and re-validates the answer.
package permission

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/srg/sppbridge/internal/device"
	"github.com/srg/sppbridge/internal/groutine"
)

// Capability is a platform permission alias. The values are the identifiers
// the host prompt flow understands.
type Capability string

const (
	Scan           Capability = "btScan"
	Connect        Capability = "btConnect"
	FineLocation   Capability = "fineLocation"
	CoarseLocation Capability = "coarseLocation"
)

// ModernAPILevel is the first platform level with dedicated scan/connect capabilities.
const ModernAPILevel = 31

// Platform is the host permission flow.
type Platform interface {
	// APILevel reports the platform version used to pick capability sets.
	APILevel() int
	// Granted reports whether c is currently held.
	Granted(c Capability) bool
	// Request prompts the user for caps and returns once they responded.
	// The outcome is observed through Granted afterwards.
	Request(ctx context.Context, caps []Capability) error
}

// Requirement is satisfied when every All capability is held and, if Any is
// non-empty, at least one of Any is held.
type Requirement struct {
	All []Capability
	Any []Capability
}

// Empty reports whether the requirement asks for nothing.
func (r Requirement) Empty() bool {
	return len(r.All) == 0 && len(r.Any) == 0
}

func (r Requirement) String() string {
	var parts []string
	if len(r.All) > 0 {
		parts = append(parts, "all of "+join(r.All))
	}
	if len(r.Any) > 0 {
		parts = append(parts, "any of "+join(r.Any))
	}
	if len(parts) == 0 {
		return "nothing"
	}
	return strings.Join(parts, ", ")
}

func join(caps []Capability) string {
	s := make([]string, len(caps))
	for i, c := range caps {
		s[i] = string(c)
	}
	return "[" + strings.Join(s, " ") + "]"
}

// Gate evaluates requirements against a Platform.
type Gate struct {
	platform Platform
	logger   *logrus.Logger
}

// NewGate creates a Gate. A nil logger means logrus.New().
func NewGate(platform Platform, logger *logrus.Logger) *Gate {
	if logger == nil {
		logger = logrus.New()
	}
	return &Gate{platform: platform, logger: logger}
}

// ScanRequirement is what discovery needs: scan and connect on modern
// platforms, either location capability on older ones.
func (g *Gate) ScanRequirement() Requirement {
	if g.platform.APILevel() >= ModernAPILevel {
		return Requirement{All: []Capability{Scan, Connect}}
	}
	return Requirement{Any: []Capability{FineLocation, CoarseLocation}}
}

// ConnectRequirement is what opening a session needs. Older platforms need nothing.
func (g *Gate) ConnectRequirement() Requirement {
	if g.platform.APILevel() >= ModernAPILevel {
		return Requirement{All: []Capability{Connect}}
	}
	return Requirement{}
}

// HasRequired reports whether the baseline capability set is held.
func (g *Gate) HasRequired() bool {
	return len(g.Missing(g.ScanRequirement())) == 0
}

// Missing lists the capabilities to prompt for. When no Any capability is
// held, all of them are listed so the user can pick.
func (g *Gate) Missing(req Requirement) []Capability {
	var missing []Capability
	for _, c := range req.All {
		if !g.platform.Granted(c) {
			missing = append(missing, c)
		}
	}
	if len(req.Any) > 0 {
		anyHeld := false
		for _, c := range req.Any {
			if g.platform.Granted(c) {
				anyHeld = true
				break
			}
		}
		if !anyHeld {
			missing = append(missing, req.Any...)
		}
	}
	return missing
}

// Ensure returns nil when req is satisfied. Otherwise it prompts once for the
// missing capabilities, blocking until the user answers or ctx is done, and
// re-validates. A requirement still unmet afterwards yields device.ErrPermissionDenied.
func (g *Gate) Ensure(ctx context.Context, req Requirement) error {
	missing := g.Missing(req)
	if len(missing) == 0 {
		return nil
	}

	g.logger.WithField("missing", join(missing)).Info("Requesting permissions")
	if err := g.platform.Request(ctx, missing); err != nil {
		return fmt.Errorf("permission request failed: %w", err)
	}

	if still := g.Missing(req); len(still) > 0 {
		g.logger.WithField("missing", join(still)).Warn("Permissions denied")
		return fmt.Errorf("%w: %s", &device.Error{Kind: device.PermissionDenied, Msg: "missing " + join(still)}, req)
	}
	return nil
}

// RequestMissing prompts for whatever req lacks on a separate goroutine and
// calls resume once the user has answered, whatever the answer was. resume
// is expected to re-validate. Nothing is prompted when req is satisfied, but
// resume still runs.
func (g *Gate) RequestMissing(ctx context.Context, req Requirement, resume func()) {
	missing := g.Missing(req)
	if len(missing) == 0 {
		resume()
		return
	}

	groutine.Go(ctx, "permission-prompt", func(ctx context.Context) {
		defer resume()
		if err := g.platform.Request(ctx, missing); err != nil {
			g.logger.WithError(err).Warn("Permission prompt failed")
		}
	})
}
