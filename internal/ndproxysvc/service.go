package ndproxysvc

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/timeutil"

	"github.com/ndproxyd/ndproxyd/internal/proxyengine"
)

// Service is a long-running ND proxy service.  It adapts the lifecycle
// contract the teacher's internal/next/agh.Service describes — Start, then
// Shutdown(ctx) — to the one operation the packet-plane core actually
// needs: a context-aware Start, since applying the configured groups can
// itself fail partway through and the caller needs a way to bound that.
type Service interface {
	// Start binds the configured interfaces, creates the configured
	// groups, and launches the event loop.  It does not block.
	Start(ctx context.Context) (err error)

	// Shutdown gracefully stops the event loop and releases every bound
	// interface.
	Shutdown(ctx context.Context) (err error)
}

// type check
var _ Service = (*proxyService)(nil)

// proxyService is the concrete [Service] backed by a [proxyengine.Engine].
type proxyService struct {
	logger *slog.Logger
	engine *proxyengine.Engine
	groups []GroupConfig
}

// New returns a new, unstarted [Service] built from conf.  conf must be
// valid; see [Config.Validate].
func New(conf *Config) (svc Service, err error) {
	if err = conf.Validate(); err != nil {
		return nil, errors.Annotate(err, "validating ndproxysvc config: %w")
	}

	clock := conf.Clock
	if clock == nil {
		clock = timeutil.SystemClock{}
	}

	return &proxyService{
		logger: conf.Logger,
		engine: proxyengine.New(conf.Logger, clock, conf.Nested),
		groups: conf.Groups,
	}, nil
}

// Start implements the [Service] interface for *proxyService.
func (s *proxyService) Start(ctx context.Context) (err error) {
	if err = s.engine.Start(ctx); err != nil {
		return errors.Annotate(err, "starting engine: %w")
	}

	if err = s.applyGroups(); err != nil {
		if serr := s.engine.Shutdown(ctx); serr != nil {
			s.logger.ErrorContext(ctx, "shutting down after failed start", "error", serr)
		}

		return errors.Annotate(err, "applying configured groups: %w")
	}

	s.logger.InfoContext(ctx, "started", "groups", len(s.groups))

	return nil
}

// applyGroups replays conf.Groups as the same bind/create/add/upstream
// calls an RPC client would make (spec §6), in the order most likely to
// succeed: bind every interface first, then build each group around its
// already-bound members.
func (s *proxyService) applyGroups() (err error) {
	for _, gc := range s.groups {
		for _, mc := range gc.Members {
			if berr := s.engine.BindInterface(mc.Interface); berr != nil {
				return fmt.Errorf("binding interface %s: %w", mc.Interface, berr)
			}
		}
	}

	for _, gc := range s.groups {
		if cerr := s.engine.CreateGroup(gc.Name); cerr != nil {
			return fmt.Errorf("creating group %s: %w", gc.Name, cerr)
		}

		for _, mc := range gc.Members {
			if aerr := s.engine.AddToGroup(mc.Interface, gc.Name, mc.Upstream); aerr != nil {
				return fmt.Errorf("adding %s to group %s: %w", mc.Interface, gc.Name, aerr)
			}
		}
	}

	return nil
}

// Shutdown implements the [Service] interface for *proxyService.
func (s *proxyService) Shutdown(ctx context.Context) (err error) {
	s.logger.InfoContext(ctx, "shutting down")

	return s.engine.Shutdown(ctx)
}
