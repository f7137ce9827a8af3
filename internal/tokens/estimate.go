package tokens

// Estimator approximates token counts for providers without a local
// tokenizer. ASCII runs at roughly four characters per token; other runes
// (CJK, Cyrillic, emoji) count close to one token each.
type Estimator struct{}

func (Estimator) Count(text string) int {
	weight := 0
	for _, r := range text {
		if r <= 127 {
			weight++
		} else {
			weight += 4
		}
	}
	return (weight + 3) / 4
}
