package soulmesh

// Resonance scores the semantic similarity of two essence-label sets as the
// number of distinct labels they share. The raw intersection count keeps
// "any overlap at all" distinguishable from "no overlap" without penalizing
// richly labelled manifests; the orchestrator's scoring rules rely on that
// distinction.
func Resonance(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(a))
	for _, l := range a {
		set[l] = struct{}{}
	}
	count := 0.0
	seen := make(map[string]struct{}, len(b))
	for _, l := range b {
		if _, dup := seen[l]; dup {
			continue
		}
		seen[l] = struct{}{}
		if _, ok := set[l]; ok {
			count++
		}
	}
	return count
}
