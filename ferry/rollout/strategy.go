package rollout

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/SoftKiwiGames/ferry/ferry/ssh"
)

// Serial is an alias for a parallelism of one.
const Serial = "serial"

type Strategy struct {
	Parallelism int
	Limit       int
}

// ParseStrategy parses a parallelism value:
//   - "" runs every host at once
//   - "serial" or "1" runs one host at a time
//   - "N" runs N hosts at a time
//   - "P%" runs P percent of the hosts at a time, at least one
func ParseStrategy(parallelism string, hostCount int) (*Strategy, error) {
	switch parallelism {
	case "":
		return &Strategy{Parallelism: max(hostCount, 1)}, nil
	case Serial:
		return &Strategy{Parallelism: 1}, nil
	}

	if percentStr, ok := strings.CutSuffix(parallelism, "%"); ok {
		percent, err := strconv.ParseFloat(percentStr, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid percentage format: %s", parallelism)
		}
		if percent <= 0 || percent > 100 {
			return nil, fmt.Errorf("percentage must be between 0 and 100, got: %.2f", percent)
		}

		count := int(float64(hostCount) * percent / 100)
		return &Strategy{Parallelism: max(count, 1)}, nil
	}

	count, err := strconv.Atoi(parallelism)
	if err != nil {
		return nil, fmt.Errorf("invalid parallelism format: %s (expected number, percentage or %q)", parallelism, Serial)
	}
	if count < 1 {
		return nil, fmt.Errorf("parallelism must be at least 1, got: %d", count)
	}

	return &Strategy{Parallelism: count}, nil
}

// CreateBatches applies the limit and splits hosts into batches that run
// one after another.
func (s *Strategy) CreateBatches(hosts []ssh.Host) [][]ssh.Host {
	if len(hosts) == 0 {
		return nil
	}

	selected := hosts
	if s.Limit > 0 && s.Limit < len(hosts) {
		selected = hosts[:s.Limit]
	}

	size := s.Parallelism
	if size < 1 || size > len(selected) {
		size = len(selected)
	}

	batches := make([][]ssh.Host, 0, (len(selected)+size-1)/size)
	for start := 0; start < len(selected); start += size {
		end := min(start+size, len(selected))
		batches = append(batches, selected[start:end])
	}

	return batches
}
