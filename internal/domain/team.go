package domain

import (
	"strings"
	"time"
)

type Plan string

const (
	PlanFree    Plan = "FREE"
	PlanPremium Plan = "PREMIUM"
)

func ParsePlan(s string) (Plan, error) {
	switch Plan(strings.ToUpper(strings.TrimSpace(s))) {
	case PlanPremium:
		return PlanPremium, nil
	case PlanFree:
		return PlanFree, nil
	}
	return "", ErrInvalidPlan
}

// Team is the subset of the team aggregate this service reads and writes.
type Team struct {
	ID            string
	Name          string
	LeaderID      string
	Plan          Plan
	PlanExpiredAt *time.Time
}

func (t *Team) IsLeader(userID string) bool {
	return userID != "" && t.LeaderID == userID
}

// Entitlement is what a settled payment grants its team.
type Entitlement struct {
	TeamID    string
	Plan      Plan
	ExpiresAt time.Time
}
