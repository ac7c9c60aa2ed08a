package verifier

import "github.com/pushchain/interaction-gateway/gateway/store"

// Per-peer results within a round.
const (
	ResultConfirmed = store.StatusConfirmed
	ResultOrphaned  = store.StatusOrphaned
	ResultError     = store.StatusError
)

// Observation is what one peer reported about one interaction in one round.
type Observation struct {
	Peer          string
	Result        string
	Confirmations int64
}

// Round maps interaction ids to the observation made for them.
type Round map[string]Observation

// Agree walks observations in round order and returns the common result if
// the first required observations all agree. Any disagreement aborts.
func Agree(observations []Observation, required int) (string, bool) {
	if required <= 0 || len(observations) < required {
		return "", false
	}
	first := observations[0].Result
	for _, obs := range observations[1:required] {
		if obs.Result != first {
			return "", false
		}
	}
	return first, true
}

// Finalize decides every interaction for which all completed rounds agree.
// It returns nothing unless at least required rounds completed.
func Finalize(ids []string, rounds []Round, required int) map[string]Decision {
	decisions := make(map[string]Decision)
	if len(rounds) < required {
		return decisions
	}
	for _, id := range ids {
		observations := make([]Observation, 0, len(rounds))
		for _, round := range rounds {
			obs, ok := round[id]
			if !ok {
				break
			}
			observations = append(observations, obs)
		}
		status, ok := Agree(observations, required)
		if !ok {
			continue
		}
		d := Decision{Status: status}
		for _, obs := range observations[:required] {
			d.Peers = append(d.Peers, obs.Peer)
			d.Confirmations = append(d.Confirmations, obs.Confirmations)
		}
		decisions[id] = d
	}
	return decisions
}

// Decision is the status to persist along with the evidence for it.
type Decision struct {
	Status        string
	Peers         []string
	Confirmations []int64
}
