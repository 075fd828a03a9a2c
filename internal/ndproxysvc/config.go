// Package ndproxysvc assembles an [proxyengine.Engine] into a single
// lifecycle-managed service: it validates a declarative configuration,
// applies it as a sequence of the same bind/group/upstream calls an RPC
// operator would make (see spec §6), and exposes the Start/Shutdown
// contract the rest of the ambient stack expects of a long-running service.
package ndproxysvc

import (
	"log/slog"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/timeutil"
	"github.com/AdguardTeam/golibs/validate"

	"github.com/ndproxyd/ndproxyd/internal/group"
)

// Config is the declarative configuration for a [Service].  It mirrors the
// shape of [dhcpsvc.Config]: a plain struct validated up front, with the
// logger and clock threaded through rather than read from package globals.
type Config struct {
	// Logger receives per-frame diagnostics from the proxy engine.  It must
	// not be nil.
	Logger *slog.Logger

	// Clock supplies the current time to the neighbor cache.  It defaults to
	// [timeutil.SystemClock] if left nil.  The loop-suppression timers run
	// on real time and do not consult it.
	Clock timeutil.Clock

	// Groups lists the proxy groups to create and populate on Start.  It
	// must not be empty, and every member interface name must be unique
	// across all groups.
	Groups []GroupConfig

	// Nested reports whether this engine runs downstream of another ND
	// proxy, per spec §4.9 step 5.
	Nested bool
}

// type check
var _ validate.Interface = (*Config)(nil)

// Validate implements the [validate.Interface] interface for *Config.
func (conf *Config) Validate() (err error) {
	if conf == nil {
		return errors.ErrNoValue
	}

	errs := []error{
		validate.NotNil("conf.Logger", conf.Logger),
		validate.NotEmptySlice("conf.Groups", conf.Groups),
	}

	seen := map[string]string{}
	for _, gc := range conf.Groups {
		errs = validate.Append(errs, "conf.Groups", gc)

		for _, mc := range gc.Members {
			if owner, ok := seen[mc.Interface]; ok {
				errs = append(errs, errors.Error(
					"conf.Groups: interface "+mc.Interface+
						" listed in both "+owner+" and "+gc.Name,
				))

				continue
			}

			seen[mc.Interface] = gc.Name
		}
	}

	return errors.Join(errs...)
}

// GroupConfig configures one proxy group and its members.
type GroupConfig struct {
	// Name is the group's name.  It must be a valid [group.ValidName].
	Name string

	// Members lists the group's member interfaces.  At most one may set
	// Upstream.
	Members []MemberConfig
}

// type check
var _ validate.Interface = GroupConfig{}

// Validate implements the [validate.Interface] interface for GroupConfig.
func (gc GroupConfig) Validate() (err error) {
	if !group.ValidName(gc.Name) {
		return errors.Error("invalid group name " + gc.Name)
	}

	errs := []error{validate.NotEmptySlice("Members", gc.Members)}

	upstreams := 0
	for _, mc := range gc.Members {
		errs = validate.Append(errs, "Members", mc)

		if mc.Upstream {
			upstreams++
		}
	}

	if upstreams > 1 {
		errs = append(errs, errors.Error("group "+gc.Name+" names more than one upstream member"))
	}

	return errors.Join(errs...)
}

// MemberConfig configures a single interface to bind and add to its group.
type MemberConfig struct {
	// Interface is the interface name to bind, e.g. "eth0".
	Interface string

	// Upstream designates this member as its group's upstream.
	Upstream bool
}

// type check
var _ validate.Interface = MemberConfig{}

// Validate implements the [validate.Interface] interface for MemberConfig.
func (mc MemberConfig) Validate() (err error) {
	return validate.NotEmpty("Interface", mc.Interface)
}
