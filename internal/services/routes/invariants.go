package routes

import (
	"strings"

	"github.com/BearBump/LastMile/internal/models"
	"github.com/pkg/errors"
)

var errExclusivity = errors.New("awb already belongs to another route of this date")

// validate checks that awbs are unique inside a route and across routes of
// the same date.
func validate(rs []models.Route) error {
	owner := map[string]string{}
	for _, r := range rs {
		seen := map[string]struct{}{}
		for _, a := range r.AWBs {
			if _, dup := seen[a]; dup {
				return errors.Wrapf(ErrInvalidOrder, "duplicate %s in route %s", a, r.ID)
			}
			seen[a] = struct{}{}
			k := r.Date + "|" + a
			if other, ok := owner[k]; ok {
				return errors.Wrapf(errExclusivity, "%s in %s and %s", a, other, r.ID)
			}
			owner[k] = r.ID
		}
	}
	return nil
}

// repair keeps the first occurrence of every (date, awb).
func repair(rs []models.Route) []models.Route {
	seen := map[string]struct{}{}
	for i := range rs {
		kept := make([]string, 0, len(rs[i].AWBs))
		for _, a := range rs[i].AWBs {
			k := rs[i].Date + "|" + a
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			kept = append(kept, a)
		}
		rs[i].AWBs = kept
	}
	return rs
}

func isPermutation(cur, next []string) bool {
	if len(cur) != len(next) {
		return false
	}
	counts := make(map[string]int, len(cur))
	for _, a := range cur {
		counts[a]++
	}
	for _, a := range next {
		if counts[a] == 0 {
			return false
		}
		counts[a]--
	}
	return true
}

func index(rs []models.Route, id string) int {
	for i := range rs {
		if rs[i].ID == id {
			return i
		}
	}
	return -1
}

func without(awbs []string, awb string) []string {
	out := make([]string, 0, len(awbs))
	for _, a := range awbs {
		if a != awb {
			out = append(out, a)
		}
	}
	return out
}

func normaliseAWBs(awbs []string) []string {
	out := make([]string, 0, len(awbs))
	for _, a := range awbs {
		if a = models.NormaliseAWB(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}

// normaliseOrder is normaliseAWBs for reorders: a blank entry makes the
// order invalid instead of being skipped.
func normaliseOrder(awbs []string) ([]string, bool) {
	out := normaliseAWBs(awbs)
	return out, len(out) == len(awbs)
}

func trimmedPtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
