package shared

import "time"

// Scope carries the tenant, acting user and clock for a single command.
type Scope struct {
	CompanyID int64
	ActorID   int64
	Clock     func() time.Time
}

// Now returns the scope clock reading in UTC.
func (s Scope) Now() time.Time {
	if s.Clock != nil {
		return s.Clock().UTC()
	}
	return time.Now().UTC()
}

// Validate ensures the tenant is present.
func (s Scope) Validate() error {
	if s.CompanyID <= 0 {
		return Invalid("company id required")
	}
	return nil
}
