package tree

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"
)

// JobDemand is one job's (priority, demand) pair gathered locally before a
// balancing round.
type JobDemand struct {
	JobID       int
	Priority    float64
	Demand      int
	MaxDemand   int // 0 = unbounded
	ArrivalTime float64
}

// ComputeVolumes implements the fair-share volume formula:
//
//	V(j) = round( P_total * priority_j / sum(priority) * demand_cap_j )
//
// subject to V(j) <= maxDemand_j when set and sum(V(j)) <= P_total. Ties
// when demands saturate are broken by lower job id, then earlier arrival.
//
// This is the pure, testable core of the balancing round; Balancer.Round
// wraps it with the gather/broadcast fan-out across a process fleet.
func ComputeVolumes(jobs []JobDemand, totalProcesses int) map[int]int {
	if totalProcesses <= 0 || len(jobs) == 0 {
		return map[int]int{}
	}

	sumPriority := 0.0
	for _, j := range jobs {
		sumPriority += j.Priority
	}
	if sumPriority <= 0 {
		return map[int]int{}
	}

	type candidate struct {
		JobDemand
		share int
	}
	cands := make([]candidate, len(jobs))
	for i, j := range jobs {
		share := int(roundHalfAwayFromZero(float64(totalProcesses) * j.Priority / sumPriority * float64(j.Demand)))
		if share > j.Demand {
			share = j.Demand
		}
		if j.MaxDemand > 0 && share > j.MaxDemand {
			share = j.MaxDemand
		}
		if share < 0 {
			share = 0
		}
		cands[i] = candidate{JobDemand: j, share: share}
	}

	// Deterministic tie-break ordering: lower job id wins, then earlier
	// arrival, used when greedily allocating the saturated remainder below.
	sort.Slice(cands, func(a, b int) bool {
		if cands[a].JobID != cands[b].JobID {
			return cands[a].JobID < cands[b].JobID
		}
		return cands[a].ArrivalTime < cands[b].ArrivalTime
	})

	result := make(map[int]int, len(cands))
	remaining := totalProcesses
	for _, c := range cands {
		v := c.share
		if v > remaining {
			v = remaining
		}
		result[c.JobID] = v
		remaining -= v
	}
	return result
}

func roundHalfAwayFromZero(f float64) float64 {
	if f >= 0 {
		return float64(int64(f + 0.5))
	}
	return float64(int64(f - 0.5))
}

// GatherFunc returns this process's local (priority, demand) pairs.
type GatherFunc func(ctx context.Context) ([]JobDemand, error)

// BroadcastFunc delivers the round's computed volumes back to every job
// tree so each can reorganize to match its new V.
type BroadcastFunc func(ctx context.Context, volumes map[int]int) error

// Balancer drives one process's participation in the periodic balancing
// cadence. The actual tree-reduction gather and broadcast are delegated to
// Gather/Broadcast, which in a real deployment perform a reduction over the
// "load tree"; tests can substitute trivial single-process implementations.
type Balancer struct {
	TotalProcesses int
	Gather         GatherFunc
	Broadcast      BroadcastFunc
}

// Round runs one balancing round: gather local demands, reduce (trivially,
// here — multi-process reduction is Gather's responsibility), compute
// volumes, and broadcast. Errors from either phase abort the round; the
// caller is expected to retry at the next tick.
func (b *Balancer) Round(ctx context.Context) (map[int]int, error) {
	g, gctx := errgroup.WithContext(ctx)

	var demands []JobDemand
	g.Go(func() error {
		d, err := b.Gather(gctx)
		demands = d
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	volumes := ComputeVolumes(demands, b.TotalProcesses)

	if b.Broadcast != nil {
		if err := b.Broadcast(ctx, volumes); err != nil {
			return volumes, err
		}
	}
	return volumes, nil
}
