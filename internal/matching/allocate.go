package matching

import "math/bits"

// Allocate 将 qty 按剩余量比例分配到同一价位的订单（remaining 为到达顺序）。
//
// 第一轮每个订单分得 floor(qty·rem/total)；余量按到达顺序逐个补 1 手，
// 每轮每单最多 1 手，且不超过各自剩余量。sum(结果) == min(qty, total)。
func Allocate(qty int64, remaining []int64) []int64 {
	alloc := make([]int64, len(remaining))
	if qty <= 0 {
		return alloc
	}

	var total int64
	for _, r := range remaining {
		if r > 0 {
			total += r
		}
	}
	if total == 0 {
		return alloc
	}
	qty = min(qty, total)

	var assigned int64
	for i, r := range remaining {
		if r <= 0 {
			continue
		}
		// qty <= total，故 qty·r/total <= r，128 位乘积除法不会溢出
		hi, lo := bits.Mul64(uint64(qty), uint64(r))
		share, _ := bits.Div64(hi, lo, uint64(total))
		alloc[i] = int64(share)
		assigned += alloc[i]
	}

	left := qty - assigned
	for left > 0 {
		progressed := false
		for i, r := range remaining {
			if left == 0 {
				break
			}
			if alloc[i] < r {
				alloc[i]++
				left--
				progressed = true
			}
		}
		if !progressed {
			break
		}
	}
	return alloc
}
