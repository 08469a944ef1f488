package router

import (
	"context"
	"time"

	limiter "github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
)

// accountLimiter enforces a per-account submission rate ahead of the
// risk check, a defense-in-depth ambient concern generalized from the
// teacher's mitigation rate limiter to the router (spec §4.G
// "additions"). A zero-configured limiter allows everything.
type accountLimiter struct {
	lim *limiter.Limiter
}

func newAccountLimiter(perSec, burst int) *accountLimiter {
	if perSec <= 0 {
		return &accountLimiter{}
	}
	rate := limiter.Rate{
		Period: time.Second,
		Limit:  int64(perSec),
	}
	_ = burst // the memory store's fixed window already grants a burst of Limit per Period
	store := memory.NewStore()
	return &accountLimiter{lim: limiter.New(store, rate)}
}

// Allow reports whether account may submit now. An empty account key
// is treated as a single shared bucket, matching the teacher's
// IP-keyed bucket pattern generalized to accounts.
func (a *accountLimiter) Allow(account string) bool {
	if a.lim == nil {
		return true
	}
	ctx, err := a.lim.Get(context.Background(), "router:submit:"+account)
	if err != nil {
		return true // fail open: a limiter outage must never block trading
	}
	return !ctx.Reached
}
