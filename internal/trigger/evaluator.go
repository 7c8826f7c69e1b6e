package trigger

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"triggerd/internal/cronspec"
)

var (
	ErrInvalidTimezone       = errors.New("invalid timezone")
	ErrInvalidCronExpression = errors.New("invalid cron expression")
)

// Evaluate decides whether a schedule is due at now. Pure and
// side-effect free; every failure fails closed (VerdictInvalid) so the
// caller skips instead of trusting stored state.
//
// A schedule is due when its most recent firing at or before now lands
// inside the trailing window (now-window, now]. The firing exactly at
// now-window belongs to the previous poll.
func Evaluate(expr, tz string, now time.Time, window time.Duration) Decision {
	if window <= 0 {
		window = time.Minute
	}

	loc, err := time.LoadLocation(tz)
	if err != nil {
		return Decision{
			Verdict:     VerdictInvalid,
			EvaluatedAt: now,
			Err:         fmt.Errorf("%w %q: %v", ErrInvalidTimezone, tz, err),
		}
	}

	sched, err := cronspec.Parser.Parse(strings.TrimSpace(expr))
	if err != nil {
		return Decision{
			Verdict:     VerdictInvalid,
			EvaluatedAt: now,
			Err:         fmt.Errorf("%w %q: %v", ErrInvalidCronExpression, expr, err),
		}
	}

	// cron schedules only walk forward, so ask for the first firing
	// strictly after the window start; if it hasn't passed now, the most
	// recent firing is older than one window and is not replayed.
	local := now.In(loc)
	fired := sched.Next(local.Add(-window))
	if !fired.After(local) {
		return Decision{Verdict: VerdictDue, FiredAt: fired, EvaluatedAt: now}
	}
	return Decision{Verdict: VerdictNotDue, EvaluatedAt: now}
}
