// Package stats accumulates per-cycle processing counters for the
// end-of-cycle summary log line.
package stats

// CycleSummary counts what happened to the messages of one cycle.
type CycleSummary struct {
	Fetched   int
	Filtered  int
	Echoes    int
	Created   int
	Commented int
	Retried   int
	Archived  int
	Errors    int
}

// Merge adds the counters of another summary, used to fold the echo
// sweep pass into the cycle total.
func (s *CycleSummary) Merge(other CycleSummary) {
	s.Fetched += other.Fetched
	s.Filtered += other.Filtered
	s.Echoes += other.Echoes
	s.Created += other.Created
	s.Commented += other.Commented
	s.Retried += other.Retried
	s.Archived += other.Archived
	s.Errors += other.Errors
}

// LogAttrs renders the summary as slog attributes.
func (s CycleSummary) LogAttrs() []any {
	return []any{
		"fetched", s.Fetched,
		"filtered", s.Filtered,
		"echoes", s.Echoes,
		"created", s.Created,
		"commented", s.Commented,
		"retried", s.Retried,
		"archived", s.Archived,
		"errors", s.Errors,
	}
}
