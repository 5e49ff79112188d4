package budget

// ModelHandle identifies a model at a provider
type ModelHandle struct {
	Name     string
	Provider string
}

// SelectModel picks the strong model when the complexity score meets the
// threshold, otherwise the weak model. Independent of step planning.
func SelectModel(score, threshold float64, strong, weak ModelHandle) ModelHandle {
	if score >= threshold {
		return strong
	}
	return weak
}
