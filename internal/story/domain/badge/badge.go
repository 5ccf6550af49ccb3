// Package badge holds the milestone badge catalog model and the awarding
// engine that resolves newly qualified badges from cumulative compass
// scores.
package badge

import (
	"sort"
	"strings"

	"github.com/mystira/story-engine/internal/errors"
)

// Badge is one catalog entry: a tiered milestone for an axis within an age
// group. Catalog entries are immutable reference data at runtime.
type Badge struct {
	ID            string
	AgeGroupID    string
	Axis          string
	Tier          string
	TierOrder     int // ascending severity within one (age group, axis) family
	RequiredScore float64
	Name          string
	Description   string
}

// Normalize trims identifying fields and validates the catalog entry.
func Normalize(b Badge) (Badge, error) {
	b.ID = strings.TrimSpace(b.ID)
	if b.ID == "" {
		return Badge{}, errors.WithMetadata(errors.CodeSessionFieldRequired,
			"badge id is required", map[string]string{"field": "Id"})
	}
	b.AgeGroupID = strings.TrimSpace(b.AgeGroupID)
	if b.AgeGroupID == "" {
		return Badge{}, errors.New(errors.CodeBadgeEmptyAgeGroup, "badge age group is required")
	}
	b.Axis = strings.TrimSpace(b.Axis)
	if b.Axis == "" {
		return Badge{}, errors.New(errors.CodeBadgeEmptyAxis, "badge axis is required")
	}
	if b.RequiredScore <= 0 {
		return Badge{}, errors.New(errors.CodeBadgeInvalidRequiredScore,
			"badge required score must be greater than zero")
	}
	b.Tier = strings.TrimSpace(b.Tier)
	b.Name = strings.TrimSpace(b.Name)
	return b, nil
}

// ResolveInput carries everything the awarding engine needs for one call.
type ResolveInput struct {
	// AgeGroupID selects the catalog slice relevant to the profile.
	AgeGroupID string
	// Scores are the profile's cumulative per-axis totals across all its
	// sessions.
	Scores map[string]float64
	// Catalog is the full badge catalog; entries outside AgeGroupID are
	// ignored.
	Catalog []Badge
	// Owned is the set of badge IDs already present in the award ledger for
	// the profile. The ledger, not this computation, is the source of truth
	// for "already awarded".
	Owned map[string]bool
}

// ResolveNewlyQualified returns the badges the profile qualifies for but
// does not yet own, ordered by axis then tier.
//
// Tiers are evaluated independently: when a score crosses several tier
// thresholds for one axis in a single call, every crossed tier is returned,
// never just the highest. Re-running against an unchanged ledger and scores
// yields an empty result.
func ResolveNewlyQualified(input ResolveInput) []Badge {
	byAxis := make(map[string][]Badge)
	for _, b := range input.Catalog {
		if b.AgeGroupID != input.AgeGroupID {
			continue
		}
		byAxis[b.Axis] = append(byAxis[b.Axis], b)
	}

	axes := make([]string, 0, len(byAxis))
	for axis := range byAxis {
		if _, scored := input.Scores[axis]; scored {
			axes = append(axes, axis)
		}
	}
	sort.Strings(axes)

	newlyQualified := []Badge{}
	for _, axis := range axes {
		family := byAxis[axis]
		sort.Slice(family, func(i, j int) bool {
			return family[i].TierOrder < family[j].TierOrder
		})
		score := input.Scores[axis]
		for _, b := range family {
			if score < b.RequiredScore {
				continue
			}
			if input.Owned[b.ID] {
				continue
			}
			newlyQualified = append(newlyQualified, b)
		}
	}
	return newlyQualified
}
