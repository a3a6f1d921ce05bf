package rooms

// AliasGroup is the Joined population of one non-effective alias room.
type AliasGroup struct {
	Key          string        `json:"key"`
	Participants []Participant `json:"participants"`
}

// Resolution is the outcome of reconciling the rooms that may hold one
// session's students.
type Resolution struct {
	// EffectiveKey is empty when every candidate room is empty or absent.
	EffectiveKey string        `json:"effectiveKey"`
	Participants []Participant `json:"participants"`
	Others       []AliasGroup  `json:"others,omitempty"`
	Candidates   []string      `json:"candidates"`
}

// Empty reports whether no candidate room held a Joined participant.
func (r Resolution) Empty() bool {
	return r.EffectiveKey == ""
}

// Reconcile picks the candidate room with the most Joined participants.
// Ties go to the earlier candidate, so a caller that lists the external ID
// first prefers it. Others lists the remaining non-empty rooms, minus
// students already reachable through the effective room.
func Reconcile(candidates []string, joined map[string][]Participant) Resolution {
	res := Resolution{}
	seen := make(map[string]bool, len(candidates))
	for _, key := range candidates {
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		res.Candidates = append(res.Candidates, key)
	}

	best := -1
	for _, key := range res.Candidates {
		n := len(joined[key])
		if n > 0 && n > best {
			best = n
			res.EffectiveKey = key
		}
	}
	if res.EffectiveKey == "" {
		return res
	}
	res.Participants = joined[res.EffectiveKey]

	covered := make(map[string]bool, len(res.Participants))
	for _, p := range res.Participants {
		covered[p.StudentID] = true
	}
	for _, key := range res.Candidates {
		if key == res.EffectiveKey {
			continue
		}
		var rest []Participant
		for _, p := range joined[key] {
			if !covered[p.StudentID] {
				rest = append(rest, p)
			}
		}
		if len(rest) > 0 {
			res.Others = append(res.Others, AliasGroup{Key: key, Participants: rest})
		}
	}
	return res
}
