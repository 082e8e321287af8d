package battle

import (
	"regexp"
	"strings"

	appErr "arena-service/pkg/errors"
)

const (
	maxTitleLength     = 50
	minDurationMinutes = 1
	maxDurationMinutes = 120
	passwordLength     = 4
)

var passwordPattern = regexp.MustCompile(`^[0-9]{4}$`)

// DurationForDifficulty maps a problem's difficulty tier to the default
// match duration in minutes. Unknown tiers fall back to 20.
func DurationForDifficulty(difficulty string) int {
	switch strings.ToUpper(difficulty) {
	case "BRONZE":
		return 10
	case "SILVER":
		return 20
	case "GOLD":
		return 30
	case "PLATINUM":
		return 40
	default:
		return 20
	}
}

// ResolveDuration picks the match duration: an explicit override wins,
// clamped to the allowed range, otherwise the problem's difficulty
// default applies.
func ResolveDuration(difficulty string, override int) int {
	if override == 0 {
		return DurationForDifficulty(difficulty)
	}
	if override < minDurationMinutes {
		return minDurationMinutes
	}
	if override > maxDurationMinutes {
		return maxDurationMinutes
	}
	return override
}

func validateTitle(title string) error {
	trimmed := strings.TrimSpace(title)
	if trimmed == "" || len([]rune(trimmed)) > maxTitleLength {
		return appErr.ErrInvalidTitle
	}
	return nil
}

func validateBet(amount, max int64) error {
	if amount < 0 || (max > 0 && amount > max) {
		return appErr.ErrInvalidBet
	}
	return nil
}

func validatePassword(password string) error {
	if !passwordPattern.MatchString(password) {
		return appErr.ErrInvalidPassword
	}
	return nil
}
