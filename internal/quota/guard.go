package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/viralcut/viralcut-backend/internal/config"
	"github.com/viralcut/viralcut-backend/internal/data/repos"
	"github.com/viralcut/viralcut-backend/internal/domain"
	"github.com/viralcut/viralcut-backend/internal/pkg/apperr"
	"github.com/viralcut/viralcut-backend/internal/pkg/dbctx"
	"github.com/viralcut/viralcut-backend/internal/pkg/logger"
)

// Decision is the result of an admission check. Reason is human-readable and
// safe to surface to the caller.
type Decision struct {
	Allowed    bool
	Reason     string
	NoCredits  bool
	AtCapacity bool
}

// Guard is a pure admission check: it never mutates counters. Counter
// mutation happens in the same transaction that creates the pipeline row,
// so a failed admission leaves no trace.
type Guard struct {
	log       *logger.Logger
	users     repos.UserRepo
	pipelines repos.PipelineRepo
	limits    config.Limits
}

func NewGuard(log *logger.Logger, users repos.UserRepo, pipelines repos.PipelineRepo, limits config.Limits) *Guard {
	return &Guard{
		log:       log.With("component", "QuotaGuard"),
		users:     users,
		pipelines: pipelines,
		limits:    limits,
	}
}

// DayWindow is the UTC day bucket daily counters roll over on.
func DayWindow(now time.Time) time.Time {
	return now.UTC().Truncate(24 * time.Hour)
}

// Admit runs the checks in order and short-circuits on the first failure:
// blocked flag, credit balance, daily request count, per-user concurrency,
// global concurrency.
func (g *Guard) Admit(ctx context.Context, userID uuid.UUID) (Decision, error) {
	dbc := dbctx.Context{Ctx: ctx}

	user, err := g.users.GetByID(dbc, userID)
	if err != nil {
		return Decision{}, apperr.Wrap(apperr.KindInternal, "quota: load user", err)
	}
	if user == nil {
		return Decision{}, apperr.New(apperr.KindNotFound, "user not found")
	}
	if user.Blocked {
		return Decision{Reason: "account is blocked"}, nil
	}
	if user.Credits <= 0 {
		return Decision{Reason: "no credits remaining", NoCredits: true}, nil
	}

	if g.dailyCount(user, time.Now()) >= g.limits.DailyRequestsPerUser {
		return Decision{Reason: fmt.Sprintf("daily limit of %d requests reached", g.limits.DailyRequestsPerUser)}, nil
	}

	activeForUser, err := g.pipelines.CountActiveByUser(dbc, userID)
	if err != nil {
		return Decision{}, apperr.Wrap(apperr.KindInternal, "quota: count user pipelines", err)
	}
	if activeForUser >= int64(g.limits.ConcurrentPerUser) {
		return Decision{Reason: fmt.Sprintf("limit of %d concurrent jobs reached", g.limits.ConcurrentPerUser)}, nil
	}

	activeTotal, err := g.pipelines.CountActive(dbc)
	if err != nil {
		return Decision{}, apperr.Wrap(apperr.KindInternal, "quota: count active pipelines", err)
	}
	if activeTotal >= int64(g.limits.GlobalActivePipelines) {
		return Decision{Reason: "system is at capacity, try again later", AtCapacity: true}, nil
	}

	return Decision{Allowed: true}, nil
}

// dailyCount reads the counter as zero when the stored window is stale.
func (g *Guard) dailyCount(user *domain.User, now time.Time) int {
	window := DayWindow(now)
	if user.DailyWindowAt == nil || user.DailyWindowAt.Before(window) {
		return 0
	}
	return user.DailyRequests
}
