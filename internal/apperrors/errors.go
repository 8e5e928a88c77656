package apperrors

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Sentinel errors for the broadcast engine. Callers match with errors.Is and
// wrap with %w so the HTTP layer can map them to status codes.
var (
	ErrEmptyAudience           = errors.New("audience resolves to zero recipients")
	ErrSegmentNotFound         = errors.New("segment not found")
	ErrInvalidAudienceCategory = errors.New("invalid audience category")
	ErrInvalidSchedule         = errors.New("scheduled date must be in the future")
	ErrAlreadyScheduled        = errors.New("campaign is already scheduled")
	ErrBatchNotFound           = errors.New("batch not found")
	ErrInsufficientBalance     = errors.New("insufficient wallet balance")
	ErrUpstreamUnavailable     = errors.New("upstream service unavailable")
	ErrCampaignNotFound        = errors.New("campaign not found")
	ErrUnknownRateTier         = errors.New("unknown rate tier")
)

func CampaignNotFound(id uuid.UUID) error {
	return fmt.Errorf("campaign %s: %w", id, ErrCampaignNotFound)
}

func SegmentNotFound(id uuid.UUID) error {
	return fmt.Errorf("segment %s: %w", id, ErrSegmentNotFound)
}

func BatchNotFound(campaignID uuid.UUID, batchNumber int) error {
	return fmt.Errorf("campaign %s batch %d: %w", campaignID, batchNumber, ErrBatchNotFound)
}

// IsValidation reports whether err is a caller mistake that must be surfaced
// synchronously and never retried.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidSchedule) ||
		errors.Is(err, ErrAlreadyScheduled) ||
		errors.Is(err, ErrInvalidAudienceCategory) ||
		errors.Is(err, ErrEmptyAudience) ||
		errors.Is(err, ErrInsufficientBalance)
}
