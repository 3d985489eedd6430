package review

// HoldLimits caps how many blocking holds a round honours.
type HoldLimits struct {
	PerRound      int
	PerDepartment int
}

// Partition is the result of splitting hold votes.
type Partition struct {
	// Deferred holds become monitoring notes and never affect the round.
	Deferred []Vote
	// Blocking holds keep the task from finalizing.
	Blocking []Vote
	// Ignored holds exceeded a cap. They are logged, not escalated.
	Ignored []Vote
}

// HasBlocking reports whether any blocking hold remains.
func (p Partition) HasBlocking() bool {
	return len(p.Blocking) > 0
}

// PartitionHolds splits hold votes into deferred, blocking and ignored,
// applying the per-department cap first and then the per-round cap, in vote
// order. Non-hold votes are skipped.
func PartitionHolds(votes []Vote, limits HoldLimits) Partition {
	var p Partition
	perDept := map[string]int{}
	for _, v := range votes {
		if v.Decision != DecisionHold {
			continue
		}
		if v.Deferrable {
			p.Deferred = append(p.Deferred, v)
			continue
		}
		if limits.PerDepartment > 0 && perDept[v.DepartmentID] >= limits.PerDepartment {
			p.Ignored = append(p.Ignored, v)
			continue
		}
		if limits.PerRound > 0 && len(p.Blocking) >= limits.PerRound {
			p.Ignored = append(p.Ignored, v)
			continue
		}
		perDept[v.DepartmentID]++
		p.Blocking = append(p.Blocking, v)
	}
	return p
}
