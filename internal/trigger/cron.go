package trigger

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Cron is a validated EventBridge cron expression: minutes, hours,
// day-of-month, month, day-of-week and year.
type Cron struct {
	expr     string
	schedule cron.Schedule
}

// ParseCron validates an EventBridge cron expression. Expressions using the
// L, W or # day modifiers are accepted without a local schedule.
func ParseCron(expr string) (Cron, error) {
	expr = strings.TrimSpace(expr)
	expr = strings.TrimSuffix(strings.TrimPrefix(expr, "cron("), ")")
	fields := strings.Fields(expr)
	if len(fields) != 6 {
		return Cron{}, fmt.Errorf("cron %q: want 6 fields (minutes hours day-of-month month day-of-week year), got %d", expr, len(fields))
	}
	dom, dow := fields[2], fields[4]
	if (dom == "?") == (dow == "?") {
		return Cron{}, fmt.Errorf("cron %q: exactly one of day-of-month and day-of-week must be ?", expr)
	}
	if err := checkYear(fields[5]); err != nil {
		return Cron{}, fmt.Errorf("cron %q: %w", expr, err)
	}
	c := Cron{expr: strings.Join(fields, " ")}
	if usesDayModifiers(dom, dow) {
		return c, nil
	}
	shifted, err := shiftWeekdays(dow)
	if err != nil {
		return Cron{}, fmt.Errorf("cron %q: %w", expr, err)
	}
	local := strings.Join([]string{fields[0], fields[1], dom, fields[3], shifted}, " ")
	sched, err := cronParser.Parse(local)
	if err != nil {
		return Cron{}, fmt.Errorf("cron %q: %w", expr, err)
	}
	c.schedule = sched
	return c, nil
}

// String returns the expression without the cron() wrapper.
func (c Cron) String() string { return c.expr }

// ScheduleExpression returns the rule expression cron(<expr>).
func (c Cron) ScheduleExpression() string { return "cron(" + c.expr + ")" }

// Next returns up to n run times after from, in UTC. It returns nil when the
// expression uses modifiers that are only evaluated by EventBridge.
func (c Cron) Next(from time.Time, n int) []time.Time {
	if c.schedule == nil {
		return nil
	}
	out := make([]time.Time, 0, n)
	t := from.UTC()
	for len(out) < n {
		t = c.schedule.Next(t)
		if t.IsZero() {
			break
		}
		out = append(out, t)
	}
	return out
}

// shiftWeekdays maps EventBridge weekday numbers (1 = Sunday) to the 0-based
// numbering of the local parser. Names and steps are left untouched.
func shiftWeekdays(field string) (string, error) {
	parts := strings.Split(field, ",")
	for i, part := range parts {
		rng, step, hasStep := strings.Cut(part, "/")
		bounds := strings.Split(rng, "-")
		for j, b := range bounds {
			n, err := strconv.Atoi(b)
			if err != nil {
				continue
			}
			if n < 1 || n > 7 {
				return "", fmt.Errorf("day-of-week %d out of range 1-7", n)
			}
			bounds[j] = strconv.Itoa(n - 1)
		}
		parts[i] = strings.Join(bounds, "-")
		if hasStep {
			parts[i] += "/" + step
		}
	}
	return strings.Join(parts, ","), nil
}

func usesDayModifiers(dom, dow string) bool {
	if strings.ContainsAny(dom, "LW") || strings.Contains(dow, "#") {
		return true
	}
	for _, part := range strings.Split(dow, ",") {
		if strings.HasSuffix(part, "L") {
			return true
		}
	}
	return false
}

func checkYear(field string) error {
	if field == "*" {
		return nil
	}
	for _, part := range strings.Split(field, ",") {
		rng, _, _ := strings.Cut(part, "/")
		for _, b := range strings.Split(rng, "-") {
			if b == "*" {
				continue
			}
			y, err := strconv.Atoi(b)
			if err != nil || y < 1970 || y > 2199 {
				return fmt.Errorf("invalid year %q", b)
			}
		}
	}
	return nil
}
