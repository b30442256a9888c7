package store

import (
	"time"

	"github.com/owanbe/settlement/internal/models"
)

// releaseDelay is how long after the due date a scheduled tranche becomes
// eligible for the escrow sweep.
const releaseDelay = 24 * time.Hour

// ScheduleReleaseDate computes when a tranche scheduled against dueDate may
// be released.
func ScheduleReleaseDate(dueDate time.Time) time.Time {
	return dueDate.Add(releaseDelay)
}

// ScheduleGuard validates that userID may schedule a payment for the vendor.
func ScheduleGuard(v *models.Vendor, userID int64) error {
	if v.UserID != userID {
		return ErrNotOwner
	}
	return nil
}

// CancelGuard validates that userID may cancel the vendor's scheduled
// tranche at the given time. Cancellation is only permitted while the vendor
// is still Scheduled and the due date has not passed.
func CancelGuard(v *models.Vendor, userID int64, now time.Time) error {
	if v.UserID != userID {
		return ErrNotOwner
	}
	if v.Status != models.VendorScheduled {
		return ErrNotScheduled
	}
	if v.DueDate != nil && now.After(*v.DueDate) {
		return ErrPastDue
	}
	return nil
}
