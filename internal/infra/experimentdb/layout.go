package experimentdb

import (
	"fmt"
	"strconv"
	"strings"
)

// Cage is one provisioned cage and the animals placed in it.
type Cage struct {
	CageID    int
	GroupID   int
	AnimalIDs []int
}

// PlanCages splits animals across groups as evenly as possible (the first
// animals%groups groups get one extra) and packs each group's animals into
// cages of at most perCage. Cage and animal ids are 1-based and sequential.
func PlanCages(animals, groups, perCage int) []Cage {
	if groups <= 0 || perCage <= 0 || animals < 0 {
		return nil
	}
	base, extra := animals/groups, animals%groups
	var (
		cages    []Cage
		nextCage = 1
		nextAnim = 1
	)
	for g := 1; g <= groups; g++ {
		count := base
		if g <= extra {
			count++
		}
		for remaining := count; remaining > 0; {
			n := min(remaining, perCage)
			cage := Cage{CageID: nextCage, GroupID: g, AnimalIDs: make([]int, 0, n)}
			for i := 0; i < n; i++ {
				cage.AnimalIDs = append(cage.AnimalIDs, nextAnim)
				nextAnim++
			}
			cages = append(cages, cage)
			nextCage++
			remaining -= n
		}
	}
	return cages
}

func parseCount(field, raw string, minimum int) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q is not a number", ErrInvalidCount, field, raw)
	}
	if n < minimum {
		return 0, fmt.Errorf("%w: %s must be at least %d, got %d", ErrInvalidCount, field, minimum, n)
	}
	return n, nil
}
