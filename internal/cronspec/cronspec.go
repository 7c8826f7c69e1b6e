// Package cronspec validates standard 5-field cron expressions at the
// point a schedule is created or edited.
//
// The trigger engine re-parses defensively on every evaluation, but an
// expression must pass Validate before it is ever persisted, so invalid
// syntax surfaces to the caller with a descriptive message instead of
// silently never firing.
package cronspec

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Parser is the strict 5-field parser (minute hour dom month dow) shared
// by the validator and the trigger evaluator. No descriptors ("@daily")
// and no seconds field: schedules are stored in plain crontab syntax.
var Parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

var fieldNames = [5]string{"minute", "hour", "day-of-month", "month", "day-of-week"}

// Validate reports whether expr is an acceptable schedule.
//
// Rules:
//   - exactly 5 whitespace-separated fields
//   - each field must parse (named months/weekdays, ranges, lists and
//     steps included)
//   - day-of-month and day-of-week must not both be restricted (cron's
//     documented ambiguity rule)
func Validate(expr string) error {
	s := strings.TrimSpace(expr)
	if s == "" {
		return errors.New("cron expression must be a non-empty string")
	}

	fields := strings.Fields(s)
	if len(fields) != 5 {
		return fmt.Errorf("cron expression must have exactly 5 fields, found %d", len(fields))
	}

	// Locate the offending field for a usable error message. Each field
	// is parsed in isolation with the rest wildcarded.
	for i, f := range fields {
		probe := []string{"*", "*", "*", "*", "*"}
		probe[i] = f
		if _, err := Parser.Parse(strings.Join(probe, " ")); err != nil {
			return fmt.Errorf("invalid %s field %q", fieldNames[i], f)
		}
	}

	// Whole-expression parse as a backstop.
	if _, err := Parser.Parse(strings.Join(fields, " ")); err != nil {
		return fmt.Errorf("invalid cron expression: %v", err)
	}

	if restricted(fields[2]) && restricted(fields[4]) {
		return errors.New("day-of-month and day-of-week can't both be restricted")
	}
	return nil
}

func restricted(field string) bool {
	return field != "*" && field != "?"
}

// Next returns the first scheduled time strictly after from, in loc.
// The expression must already be valid.
func Next(expr string, loc *time.Location, from time.Time) (time.Time, error) {
	sched, err := Parser.Parse(strings.TrimSpace(expr))
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(from.In(loc)), nil
}
