package transfer

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/stat"

	"volshot/internal/models"
)

// AutoContrast returns a display range spanning the lo and hi quantiles
// (e.g. 0.01 and 0.99) of the voxel values.
func AutoContrast(vol *models.Volume, lo, hi float64) (float64, float64, error) {
	if vol == nil || len(vol.Data) == 0 {
		return 0, 0, fmt.Errorf("auto contrast: empty volume")
	}
	if lo < 0 || hi > 1 || lo >= hi {
		return 0, 0, fmt.Errorf("auto contrast: invalid quantiles %g..%g", lo, hi)
	}

	sorted := make([]float64, len(vol.Data))
	copy(sorted, vol.Data)
	sort.Float64s(sorted)

	min := stat.Quantile(lo, stat.Empirical, sorted, nil)
	max := stat.Quantile(hi, stat.Empirical, sorted, nil)
	if max <= min {
		max = min + 1
	}
	return min, max, nil
}
