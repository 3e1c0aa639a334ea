package plate

// Voter debounces a stream of raw recognized strings into one validated plate
// per physical event. Valid candidates accumulate in a bounded buffer; when the
// buffer reaches the threshold the most frequent candidate wins (ties broken by
// first-seen order) and the buffer is cleared for the next vehicle. Malformed
// candidates never touch the buffer, so a single garbage frame cannot stall or
// skew the vote.
type Voter struct {
	threshold int
	buffer    []string
}

// NewVoter returns a voter emitting after threshold valid candidates.
func NewVoter(threshold int) *Voter {
	if threshold < 1 {
		threshold = 1
	}
	return &Voter{threshold: threshold}
}

// Add feeds one raw candidate. When the vote concludes it returns the winning
// plate and true; otherwise it returns "" and false.
func (v *Voter) Add(raw string) (string, bool) {
	candidate, err := Normalize(raw)
	if err != nil {
		return "", false
	}

	v.buffer = append(v.buffer, candidate)
	if len(v.buffer) < v.threshold {
		return "", false
	}

	winner := mostFrequent(v.buffer)
	v.buffer = v.buffer[:0]
	return winner, true
}

// Pending returns the number of buffered candidates, for diagnostics.
func (v *Voter) Pending() int {
	return len(v.buffer)
}

func mostFrequent(candidates []string) string {
	counts := make(map[string]int, len(candidates))
	winner := candidates[0]
	best := 0
	for _, c := range candidates {
		counts[c]++
		if counts[c] > best {
			best = counts[c]
			winner = c
		}
	}
	return winner
}
