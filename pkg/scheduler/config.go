// Package scheduler drives timed execution of deployments: it owns the
// per-deployment timers, bounds execution concurrency, polls sender
// adapters and triggers flow executions.
package scheduler

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Schedule modes accepted in a sender adapter's configuration
const (
	ScheduleModeOnTime = "OnTime"
	ScheduleModeEvery  = "Every"
)

// ErrSchedulerConfig marks a fatal scheduling configuration error.
// Missing or malformed required keys are never silently defaulted.
var ErrSchedulerConfig = errors.New("invalid scheduler configuration")

// SchedulerConfig is the scheduling value object parsed from a sender
// adapter's live configuration blob.
type SchedulerConfig struct {
	// ScheduleType is an informational label carried through unparsed
	ScheduleType string

	// ScheduleMode is OnTime or Every (required)
	ScheduleMode string

	// OnTimeValue is the HH:MM fire time (required for OnTime)
	OnTimeValue string

	// EveryInterval is "<positive int> (sec|min|hour|hours)" (required for Every)
	EveryInterval string

	// EveryStartTime bounds Every-mode fires (default "00:00")
	EveryStartTime string

	// EveryEndTime bounds Every-mode fires (default "23:59")
	EveryEndTime string

	// TimeZone is a "UTC [+-]H:MM" offset (default "UTC 0:00")
	TimeZone string
}

// ParseSchedulerConfig reads the scheduling keys out of an adapter
// configuration blob. Absence or malformation of a required key is a
// fatal configuration error.
func ParseSchedulerConfig(raw map[string]interface{}) (*SchedulerConfig, error) {
	cfg := &SchedulerConfig{
		EveryStartTime: "00:00",
		EveryEndTime:   "23:59",
		TimeZone:       "UTC 0:00",
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: adapter has no configuration", ErrSchedulerConfig)
	}

	cfg.ScheduleType, _ = raw["scheduleType"].(string)
	cfg.ScheduleMode, _ = raw["scheduleMode"].(string)

	switch cfg.ScheduleMode {
	case ScheduleModeOnTime:
		cfg.OnTimeValue, _ = raw["onTimeValue"].(string)
		if cfg.OnTimeValue == "" {
			return nil, fmt.Errorf("%w: onTimeValue is required for OnTime mode", ErrSchedulerConfig)
		}
		if _, err := parseClock(cfg.OnTimeValue); err != nil {
			return nil, fmt.Errorf("%w: onTimeValue %q: %v", ErrSchedulerConfig, cfg.OnTimeValue, err)
		}
	case ScheduleModeEvery:
		cfg.EveryInterval, _ = raw["everyInterval"].(string)
		if _, err := ParseEveryInterval(cfg.EveryInterval); err != nil {
			return nil, err
		}
	case "":
		return nil, fmt.Errorf("%w: scheduleMode is required", ErrSchedulerConfig)
	default:
		return nil, fmt.Errorf("%w: unknown scheduleMode %q", ErrSchedulerConfig, cfg.ScheduleMode)
	}

	if value, ok := raw["everyStartTime"].(string); ok && value != "" {
		cfg.EveryStartTime = value
	}
	if value, ok := raw["everyEndTime"].(string); ok && value != "" {
		cfg.EveryEndTime = value
	}
	if value, ok := raw["timeZone"].(string); ok && value != "" {
		cfg.TimeZone = value
	}
	return cfg, nil
}

// everyIntervalPattern matches "<positive int> (sec|min|hour|hours)"
var everyIntervalPattern = regexp.MustCompile(`^\s*(\d+)\s+(sec|min|hour|hours)\s*$`)

// ParseEveryInterval converts an Every-mode interval expression to a
// duration. "1 min" is one minute, "30 sec" thirty seconds, "2 hour"
// two hours.
func ParseEveryInterval(interval string) (time.Duration, error) {
	match := everyIntervalPattern.FindStringSubmatch(interval)
	if match == nil {
		return 0, fmt.Errorf("%w: everyInterval %q does not match \"<positive int> (sec|min|hour|hours)\"", ErrSchedulerConfig, interval)
	}
	count, err := strconv.Atoi(match[1])
	if err != nil || count <= 0 {
		return 0, fmt.Errorf("%w: everyInterval %q must use a positive integer", ErrSchedulerConfig, interval)
	}

	switch match[2] {
	case "sec":
		return time.Duration(count) * time.Second, nil
	case "min":
		return time.Duration(count) * time.Minute, nil
	default:
		// hour, hours
		return time.Duration(count) * time.Hour, nil
	}
}

// timeZonePattern matches "UTC [+-]H:MM" offsets
var timeZonePattern = regexp.MustCompile(`^UTC\s*([+-]?)(\d{1,2}):(\d{2})$`)

// Location resolves the configured "UTC [+-]H:MM" offset. Unparseable
// zones fall back to UTC; the zone is cosmetic, not a required key.
func (c *SchedulerConfig) Location() *time.Location {
	match := timeZonePattern.FindStringSubmatch(strings.TrimSpace(c.TimeZone))
	if match == nil {
		return time.UTC
	}
	hours, _ := strconv.Atoi(match[2])
	minutes, _ := strconv.Atoi(match[3])
	offset := hours*3600 + minutes*60
	if match[1] == "-" {
		offset = -offset
	}
	if offset == 0 {
		return time.UTC
	}
	return time.FixedZone(fmt.Sprintf("UTC%s%d:%02d", match[1], hours, minutes), offset)
}

// ShouldExecuteAtTime reports whether an OnTime schedule fires at the
// given instant, at minute granularity in the configured zone.
func (c *SchedulerConfig) ShouldExecuteAtTime(now time.Time) bool {
	target, err := parseClock(c.OnTimeValue)
	if err != nil {
		return false
	}
	local := now.In(c.Location())
	return local.Hour()*60+local.Minute() == target
}

// ShouldExecuteInTimeRange reports whether an Every schedule is inside
// its [everyStartTime, everyEndTime] window. A window whose start is
// after its end spans midnight.
func (c *SchedulerConfig) ShouldExecuteInTimeRange(now time.Time) bool {
	start, err := parseClock(c.EveryStartTime)
	if err != nil {
		return false
	}
	end, err := parseClock(c.EveryEndTime)
	if err != nil {
		return false
	}
	local := now.In(c.Location())
	minute := local.Hour()*60 + local.Minute()

	if start <= end {
		return minute >= start && minute <= end
	}
	return minute >= start || minute <= end
}

// parseClock converts "HH:MM" to minutes since midnight
func parseClock(value string) (int, error) {
	parts := strings.SplitN(strings.TrimSpace(value), ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("expected HH:MM, got %q", value)
	}
	hours, err := strconv.Atoi(parts[0])
	if err != nil || hours < 0 || hours > 23 {
		return 0, fmt.Errorf("invalid hour in %q", value)
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil || minutes < 0 || minutes > 59 {
		return 0, fmt.Errorf("invalid minute in %q", value)
	}
	return hours*60 + minutes, nil
}
