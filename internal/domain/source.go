package domain

import (
	"regexp"
	"strconv"
)

// sourcePattern accepts the canonical host and its short-link subdomain.
var sourcePattern = regexp.MustCompile(`^https?://(www\.)?(tiktok\.com|vm\.tiktok\.com)(/|$|\?)`)

// ValidateSourceURL returns a *ValidationError unless raw points at a supported source.
func ValidateSourceURL(raw string) error {
	if raw == "" {
		return &ValidationError{Field: "url", Reason: "must not be empty"}
	}
	if !sourcePattern.MatchString(raw) {
		return &ValidationError{Field: "url", Reason: "unsupported source " + strconv.Quote(raw)}
	}
	return nil
}

func ValidateRequest(sourceURL string, duration int, quality Quality) error {
	if err := ValidateSourceURL(sourceURL); err != nil {
		return err
	}
	if duration < MinDuration || duration > MaxDuration {
		return &ValidationError{
			Field:  "duration",
			Reason: "must be between " + strconv.Itoa(MinDuration) + " and " + strconv.Itoa(MaxDuration) + " seconds",
		}
	}
	if !quality.Valid() {
		return &ValidationError{Field: "quality", Reason: "must be one of 720p, 1080p, 1440p"}
	}
	return nil
}
