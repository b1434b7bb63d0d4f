package validate

import (
	"errors"
	"regexp"
	"strings"
)

// Upload limits in bytes.
const (
	WarningSizeBytes = 200 * 1024 * 1024 // 200 MiB
	MaxSizeBytes     = 500 * 1024 * 1024 // 500 MiB
)

// SizeStatus classifies an upload size.
type SizeStatus string

const (
	SizeOK     SizeStatus = "ok"
	SizeWarn   SizeStatus = "warn"
	SizeReject SizeStatus = "reject"
)

var (
	ErrInvalidEmail = errors.New("invalid email address")
	ErrEmptyLabel   = errors.New("label name is empty")
)

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// Email reports whether s looks like a plausible email address.
func Email(s string) bool {
	return emailPattern.MatchString(s)
}

// CheckFileSize returns SizeReject if the file is too large, SizeWarn if
// it is large but acceptable, otherwise SizeOK.
func CheckFileSize(sizeBytes int64) SizeStatus {
	if sizeBytes > MaxSizeBytes {
		return SizeReject
	}
	if sizeBytes > WarningSizeBytes {
		return SizeWarn
	}
	return SizeOK
}

// LabelName normalizes a label name and rejects empty ones.
func LabelName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrEmptyLabel
	}
	return name, nil
}
