package dataset

import (
	"math"
	"math/rand/v2"

	"github.com/couchcryptid/grid-outage-risk/internal/domain"
)

// StratifiedSplit partitions records into train and test sets, keeping the
// outage ratio of each class. testFraction is clamped to [0, 1]. The same
// seed always yields the same partition.
func StratifiedSplit(records []domain.Record, testFraction float64, seed uint64) (train, test []domain.Record) {
	testFraction = domain.Clip(testFraction, 0, 1)
	rng := rand.New(rand.NewPCG(seed, seed))

	var classes [2][]int
	for i, r := range records {
		c := 0
		if r.Outage == 1 {
			c = 1
		}
		classes[c] = append(classes[c], i)
	}

	inTest := make([]bool, len(records))
	for _, idx := range classes {
		rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
		n := int(math.Round(float64(len(idx)) * testFraction))
		for _, i := range idx[:n] {
			inTest[i] = true
		}
	}

	train = make([]domain.Record, 0, len(records))
	for i, r := range records {
		if inTest[i] {
			test = append(test, r)
		} else {
			train = append(train, r)
		}
	}
	return train, test
}
