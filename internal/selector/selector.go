// Package selector draws examination questions spread evenly across the
// ordered question pool. The pool is cut into four contiguous bands and each
// band contributes its share of the draw.
package selector

import (
	"fmt"
	"math/rand/v2"
)

const Bands = 4

type InsufficientPoolError struct {
	Have int
	Want int
}

func (e *InsufficientPoolError) Error() string {
	return fmt.Sprintf("pool has %d questions, %d required", e.Have, e.Want)
}

// Band is the half-open range [Start, End) of the pool and the number of items drawn from it.
type Band struct {
	Start int
	End   int
	Draw  int
}

func (b Band) Size() int {
	return b.End - b.Start
}

// Plan computes the bands for a pool of n items and a target draw.
//
// Bands 0-2 hold floor(n/4) items each and band 3 takes the rest. Each band
// draws floor(target/4); the remaining target%4 draws go one each to the last
// bands, starting with band 3. A band too small for its quota passes the
// deficit to the nearest later band with room, then to the nearest earlier one.
func Plan(n, target int) ([]Band, error) {
	if target <= 0 {
		return nil, fmt.Errorf("target must be positive, got %d", target)
	}
	if n < target {
		return nil, &InsufficientPoolError{Have: n, Want: target}
	}

	chunk := n / Bands
	bands := make([]Band, Bands)
	for k := range bands {
		bands[k].Start = k * chunk
		bands[k].End = (k + 1) * chunk
	}
	bands[Bands-1].End = n

	per, remainder := target/Bands, target%Bands
	deficits := make([]int, Bands)
	for k := range bands {
		want := per
		if k >= Bands-remainder {
			want++
		}
		if size := bands[k].Size(); want > size {
			deficits[k] = want - size
			want = size
		}
		bands[k].Draw = want
	}

	for k, deficit := range deficits {
		for _, j := range spillOrder(k) {
			if deficit == 0 {
				break
			}
			spare := bands[j].Size() - bands[j].Draw
			if spare <= 0 {
				continue
			}
			take := min(spare, deficit)
			bands[j].Draw += take
			deficit -= take
		}
	}
	return bands, nil
}

// spillOrder lists the bands after k nearest first, then the bands before k nearest first.
func spillOrder(k int) []int {
	order := make([]int, 0, Bands-1)
	for j := k + 1; j < Bands; j++ {
		order = append(order, j)
	}
	for j := k - 1; j >= 0; j-- {
		order = append(order, j)
	}
	return order
}

// Select draws target distinct items from pool, sampling uniformly without
// replacement inside each band. The result is grouped by band in band order.
func Select[T any](pool []T, target int, rng *rand.Rand) ([]T, error) {
	bands, err := Plan(len(pool), target)
	if err != nil {
		return nil, err
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	out := make([]T, 0, target)
	for _, band := range bands {
		if band.Draw == 0 {
			continue
		}
		for _, idx := range rng.Perm(band.Size())[:band.Draw] {
			out = append(out, pool[band.Start+idx])
		}
	}
	return out, nil
}
