package validation

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"sigsummary/internal/constants"
	"sigsummary/internal/errors"
	"sigsummary/internal/models"
)

const (
	maxGroupIDLength      = 256
	maxScheduleNameLength = 100
	maxSummaryPeriodHours = 720
)

var localTimePattern = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)

// ValidatePhoneNumber validates an E.164 phone number
func ValidatePhoneNumber(phone string) error {
	if phone == "" {
		return errors.New(errors.ErrCodeInvalidInput, "phone number cannot be empty")
	}
	if !strings.HasPrefix(phone, "+") {
		return errors.New(errors.ErrCodeInvalidInput, "phone number must start with +")
	}

	digits := phone[1:]
	if len(digits) < 7 || len(digits) > 15 {
		return errors.New(errors.ErrCodeInvalidInput, "phone number must have 7-15 digits")
	}
	for _, char := range digits {
		if !unicode.IsDigit(char) {
			return errors.New(errors.ErrCodeInvalidInput, "phone number must contain only digits")
		}
	}

	return nil
}

// ValidateGroupID validates a Signal group id
func ValidateGroupID(groupID string) error {
	if strings.TrimSpace(groupID) == "" {
		return errors.New(errors.ErrCodeInvalidInput, "group ID cannot be empty")
	}
	if len(groupID) > maxGroupIDLength {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("group ID too long (max %d characters)", maxGroupIDLength))
	}
	for _, char := range groupID {
		if unicode.IsControl(char) || unicode.IsSpace(char) {
			return errors.New(errors.ErrCodeInvalidInput, "group ID contains invalid characters")
		}
	}
	return nil
}

// ValidateRetentionHours checks a retention override. Out-of-range values are
// a policy conflict, not a malformed request.
func ValidateRetentionHours(hours int) error {
	if hours < constants.MinRetentionHours || hours > constants.MaxRetentionHours {
		return errors.NewPolicyConflictError("retention_hours", strconv.Itoa(hours),
			fmt.Sprintf("❌ Use %d-%d hours or 'auto'", constants.MinRetentionHours, constants.MaxRetentionHours))
	}
	return nil
}

// ValidateLocalTime validates an "HH:MM" wall-clock time
func ValidateLocalTime(value string) error {
	if !localTimePattern.MatchString(value) {
		return errors.NewValidationError("time", value, "must be HH:MM in 24-hour format")
	}
	return nil
}

// ParseLocalTime splits a validated "HH:MM" value
func ParseLocalTime(value string) (hour, minute int, err error) {
	if err := ValidateLocalTime(value); err != nil {
		return 0, 0, err
	}
	hour, _ = strconv.Atoi(value[:2])
	minute, _ = strconv.Atoi(value[3:])
	return hour, minute, nil
}

// ValidateTimezone checks that tz names an IANA location
func ValidateTimezone(tz string) error {
	if tz == "" {
		return errors.NewValidationError("timezone", tz, "cannot be empty")
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return errors.NewValidationError("timezone", tz, "unknown timezone")
	}
	return nil
}

// ValidateSchedule checks every field the trigger relies on
func ValidateSchedule(s *models.Schedule) error {
	if err := ValidateStringLength(strings.TrimSpace(s.Name), "schedule name", 1, maxScheduleNameLength); err != nil {
		return err
	}
	if err := ValidateGroupID(s.SourceGroup); err != nil {
		return errors.Wrap(err, errors.ErrCodeValidationFailed, "invalid source group")
	}
	if err := ValidateGroupID(s.TargetGroup); err != nil {
		return errors.Wrap(err, errors.ErrCodeValidationFailed, "invalid target group")
	}

	switch s.ScheduleType {
	case models.ScheduleTypeDaily:
		if s.DayOfWeek != nil {
			return errors.NewValidationError("day_of_week", strconv.Itoa(*s.DayOfWeek), "only weekly schedules take a day")
		}
	case models.ScheduleTypeWeekly:
		if s.DayOfWeek == nil {
			return errors.NewValidationError("day_of_week", "", "weekly schedules need a day (0=Monday..6=Sunday)")
		}
		if *s.DayOfWeek < 0 || *s.DayOfWeek > 6 {
			return errors.NewValidationError("day_of_week", strconv.Itoa(*s.DayOfWeek), "must be 0-6 (0=Monday)")
		}
	default:
		return errors.NewValidationError("schedule_type", string(s.ScheduleType), "must be daily or weekly")
	}

	if len(s.Times) == 0 {
		return errors.NewValidationError("times", "", "at least one time is required")
	}
	seen := make(map[string]bool, len(s.Times))
	for _, t := range s.Times {
		if err := ValidateLocalTime(t); err != nil {
			return err
		}
		if seen[t] {
			return errors.NewValidationError("times", t, "duplicate time")
		}
		seen[t] = true
	}

	if err := ValidateTimezone(s.Timezone); err != nil {
		return err
	}
	if err := ValidateNumericRange(s.SummaryPeriodHours, "summary period hours", 1, maxSummaryPeriodHours); err != nil {
		return err
	}
	return ValidateNumericRange(s.RetentionHours, "retention hours", constants.MinRetentionHours, constants.MaxRetentionHours)
}

// ValidateStringLength validates string length against bounds
func ValidateStringLength(value, fieldName string, minLength, maxLength int) error {
	if len(value) < minLength {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s too short (min %d characters)", fieldName, minLength))
	}

	if len(value) > maxLength {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s too long (max %d characters)", fieldName, maxLength))
	}

	return nil
}

// ValidateNumericRange validates numeric values against bounds
func ValidateNumericRange(value int, fieldName string, min, max int) error {
	if value < min {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s too small (min %d)", fieldName, min))
	}

	if value > max {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s too large (max %d)", fieldName, max))
	}

	return nil
}

// ValidateTimeout validates timeout values
func ValidateTimeout(timeoutSec int, fieldName string) error {
	if timeoutSec < 1 {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s must be at least 1 second", fieldName))
	}

	if timeoutSec > 3600 {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s too large (max 3600 seconds)", fieldName))
	}

	return nil
}
