package entity

import "math"

// GracePeriod is how long, in seconds, an expired registration can still be
// renewed by its registrant before the name is released.
const GracePeriod uint64 = 90 * 24 * 60 * 60

// GraceEnd is the end of the grace period of a registration expiring at
// expires. It saturates at the largest representable time.
func GraceEnd(expires uint64) uint64 {
	if expires > math.MaxUint64-GracePeriod {
		return math.MaxUint64
	}
	return expires + GracePeriod
}

// RegistrationStatus is the lifecycle phase of a registration at a point in
// time.
type RegistrationStatus string

const (
	StatusRegistered RegistrationStatus = "registered"
	StatusGrace      RegistrationStatus = "grace"
	StatusExpired    RegistrationStatus = "expired"
)

// Status derives the phase at unix time now.
func (r Registration) Status(now uint64) RegistrationStatus {
	switch {
	case now < r.ExpiryDate:
		return StatusRegistered
	case now < GraceEnd(r.ExpiryDate):
		return StatusGrace
	default:
		return StatusExpired
	}
}
