package rotation

import (
	"fmt"
	"math"

	"github.com/jwhitfield/chorewheel/internal/apperr"
	"github.com/jwhitfield/chorewheel/internal/model"
)

// PointsEpsilon is the tolerance used when validating that declared slot
// points add up to the task's points.
const PointsEpsilon = 0.01

// SplitPoints computes each slot's share of the task's points, in slot order.
//
// When every slot declares explicit points, the declared values are used
// after validating they sum to the task's points within PointsEpsilon. When
// no slot declares points, the task's points are divided evenly, each share
// rounded to the nearest 0.5, with the rounding remainder landing on the
// last slot so the total stays exact.
func SplitPoints(taskPoints float64, slots []model.TimeSlot) ([]float64, error) {
	n := len(slots)
	if n == 0 {
		return nil, nil
	}

	explicit := 0
	for _, s := range slots {
		if s.Points != nil {
			explicit++
		}
	}

	switch explicit {
	case n:
		sum := 0.0
		shares := make([]float64, n)
		for i, s := range slots {
			shares[i] = *s.Points
			sum += *s.Points
		}
		if math.Abs(sum-taskPoints) > PointsEpsilon {
			return nil, apperr.ValidationCode(apperr.CodePointsMismatch, "time_slots",
				fmt.Sprintf("slot points sum to %.2f, task has %.2f", sum, taskPoints))
		}
		return shares, nil
	case 0:
		per := taskPoints / float64(n)
		rounded := math.Round(per*2) / 2

		shares := make([]float64, n)
		for i := 0; i < n-1; i++ {
			shares[i] = rounded
		}
		last := taskPoints - rounded*float64(n-1)
		last = math.Round(last*100) / 100
		if last < 0 {
			return nil, apperr.ValidationCode(apperr.CodePointsMismatch, "time_slots",
				fmt.Sprintf("cannot split %.2f points across %d slots", taskPoints, n))
		}
		shares[n-1] = last
		return shares, nil
	default:
		return nil, apperr.Validation("time_slots", "either every slot declares points or none")
	}
}
