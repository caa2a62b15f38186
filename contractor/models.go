package contractor

import (
	"strings"
	"time"
)

// Profile is the contractor's self-declared data reviewed during verification.
type Profile struct {
	UserID          int64
	FullName        string
	Phone           string
	City            string
	Specialization  string
	ExperienceYears int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Missing lists the required fields that are still empty. A profile with no
// missing fields is eligible for verification.
func (p Profile) Missing() []string {
	var missing []string
	if strings.TrimSpace(p.FullName) == "" {
		missing = append(missing, "full_name")
	}
	if strings.TrimSpace(p.Phone) == "" {
		missing = append(missing, "phone")
	}
	if strings.TrimSpace(p.City) == "" {
		missing = append(missing, "city")
	}
	if strings.TrimSpace(p.Specialization) == "" {
		missing = append(missing, "specialization")
	}
	return missing
}

func (p Profile) Complete() bool {
	return len(p.Missing()) == 0
}

// Filters narrows the eligible-candidate pool.
type Filters struct {
	City           string
	Specialization string
	Limit          int
}
