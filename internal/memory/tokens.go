package memory

// EstimateTokens returns an approximate token count for a string using the
// ~4 characters per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
