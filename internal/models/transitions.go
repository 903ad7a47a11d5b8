package models

// canTransition reports whether table allows from -> to.
func canTransition(table map[string][]string, from, to string) bool {
	allowed, ok := table[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

func isTerminal(table map[string][]string, status string) bool {
	allowed, ok := table[status]
	return ok && len(allowed) == 0
}
