// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package criteria

import (
	"strconv"
	"strings"

	"github.com/AleutianAI/ChildGuard/internal/domain"
)

// PersonaSet is the immutable, run-scoped table of age-band personas.
type PersonaSet struct {
	byBand map[domain.AgeBand]domain.Persona
}

// NewPersonaSet builds a PersonaSet from the four required bands.
func NewPersonaSet(personas map[domain.AgeBand]domain.Persona) *PersonaSet {
	return &PersonaSet{byBand: personas}
}

// Get returns the Persona for band, or the zero Persona if undefined.
func (p *PersonaSet) Get(band domain.AgeBand) domain.Persona {
	return p.byBand[band]
}

// ageRangeBands maps a "min-max" numeric age range to a band, a
// SPEC_FULL supplemented feature for datasets that carry a numeric age
// rather than a band label directly (grounded on PersonaLoader in the
// source implementation).
var ageRangeBands = []struct {
	min, max int
	band     domain.AgeBand
}{
	{6, 8, domain.AgeChild},
	{9, 12, domain.AgeTeen},
	{13, 17, domain.AgeYoungAdult},
	{18, 25, domain.AgeEmerging},
}

// BandForAgeRange resolves a "min-max" age-range string (e.g. "6-8")
// into an AgeBand, falling back to Teen with ok=false when the range is
// unrecognised so callers can log a warning without aborting.
func BandForAgeRange(rangeExpr string) (band domain.AgeBand, ok bool) {
	parts := strings.SplitN(rangeExpr, "-", 2)
	if len(parts) != 2 {
		return domain.AgeTeen, false
	}
	minAge, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
	maxAge, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err1 != nil || err2 != nil {
		return domain.AgeTeen, false
	}
	for _, r := range ageRangeBands {
		if minAge == r.min && maxAge == r.max {
			return r.band, true
		}
	}
	return domain.AgeTeen, false
}
