// Package policy enforces spending policy for principals: allowlists,
// time windows, per-transaction and periodic limits, velocity, and approval
// thresholds. Counters live in an owned per-principal arena guarded by
// per-principal locks; there is no global lock and no ambient state.
package policy

import (
	"fmt"
	"time"
)

// Window is a rolling spend window with a wall-clock reset boundary.
type Window string

const (
	WindowDay   Window = "DAY"
	WindowWeek  Window = "WEEK"
	WindowMonth Window = "MONTH"
)

// PolicySet is the full spending policy of one principal. A PolicySet is
// replaced atomically: concurrent evaluators see either the old or the new
// set, never a mix.
type PolicySet struct {
	// PerTransactionLimit caps a single payment, in minor units of Currency.
	PerTransactionLimit int64 `yaml:"per_transaction_limit" json:"per_transaction_limit"`

	// PeriodicLimits caps cumulative committed spend per window.
	PeriodicLimits map[Window]int64 `yaml:"periodic_limits" json:"periodic_limits"`

	// Currency all limits are denominated in. Mixed-currency spend is denied.
	Currency string `yaml:"currency" json:"currency"`

	// AllowedHours is the inclusive start / exclusive end hour of day during
	// which payments may be made, in Timezone. Zero value means unrestricted.
	AllowedHours [2]int `yaml:"allowed_hours" json:"allowed_hours"`

	// AllowedDays restricts payments to these weekdays. Empty means any day.
	AllowedDays []time.Weekday `yaml:"allowed_days" json:"allowed_days"`

	// Timezone the time-window checks evaluate in. Empty means UTC.
	Timezone string `yaml:"timezone" json:"timezone"`

	// VelocityLimit is the maximum number of committed transactions per
	// VelocityWindow. Zero disables the check.
	VelocityLimit  int           `yaml:"velocity_limit" json:"velocity_limit"`
	VelocityWindow time.Duration `yaml:"velocity_window" json:"velocity_window"`

	// RequireApprovalAbove routes any amount >= this threshold (minor units)
	// to an external approver, regardless of other checks. Zero disables.
	RequireApprovalAbove int64 `yaml:"require_approval_above" json:"require_approval_above"`

	// Guard is an optional CEL expression evaluated last. It sees
	// principal, counterparty, amount_minor, currency, and hour, and must
	// evaluate to true for the payment to proceed.
	Guard string `yaml:"guard" json:"guard"`
}

// Principal is a paying identity with its policy and allowlist.
type Principal struct {
	ID        string    `yaml:"id" json:"id"`
	Policy    PolicySet `yaml:"policy" json:"policy"`
	Allowlist []string  `yaml:"allowlist" json:"allowlist"`
}

// timeWindowOpen reports whether now falls inside the policy's allowed
// hours and days, evaluated in the policy timezone.
func (ps *PolicySet) timeWindowOpen(now time.Time) (bool, error) {
	loc := time.UTC
	if ps.Timezone != "" {
		var err error
		loc, err = time.LoadLocation(ps.Timezone)
		if err != nil {
			return false, fmt.Errorf("policy: bad timezone %q: %w", ps.Timezone, err)
		}
	}
	local := now.In(loc)

	if len(ps.AllowedDays) > 0 {
		ok := false
		for _, d := range ps.AllowedDays {
			if local.Weekday() == d {
				ok = true
				break
			}
		}
		if !ok {
			return false, nil
		}
	}
	if ps.AllowedHours != [2]int{} {
		h := local.Hour()
		start, end := ps.AllowedHours[0], ps.AllowedHours[1]
		if start <= end {
			if h < start || h >= end {
				return false, nil
			}
		} else { // window wraps midnight, e.g. 22..6
			if h < start && h >= end {
				return false, nil
			}
		}
	}
	return true, nil
}

// windowStart computes the wall-clock start of the window containing now,
// in the given location. Weeks start Monday. Resets are boundary-driven,
// never session-driven.
func windowStart(w Window, now time.Time, loc *time.Location) time.Time {
	local := now.In(loc)
	switch w {
	case WindowDay:
		return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	case WindowWeek:
		day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
		offset := (int(day.Weekday()) + 6) % 7 // Monday=0
		return day.AddDate(0, 0, -offset)
	case WindowMonth:
		return time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc)
	}
	return time.Time{}
}
