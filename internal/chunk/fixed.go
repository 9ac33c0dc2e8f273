package chunk

import (
	"fmt"
	"strconv"
)

// splitFixed slides a window of p.Size runes across the text, stepping by
// p.Size - p.Overlap so the last p.Overlap runes of each chunk reappear at
// the head of the next one.
func splitFixed(text string, p Params) ([]Draft, error) {
	if p.Size < 1 {
		return nil, fmt.Errorf("%w: chunk size %d", ErrInvalidParams, p.Size)
	}
	if p.Overlap < 0 || p.Overlap >= p.Size {
		return nil, fmt.Errorf("%w: overlap %d must be in [0, size)", ErrInvalidParams, p.Overlap)
	}

	runes := []rune(text)
	step := p.Size - p.Overlap

	var drafts []Draft
	for start := 0; start < len(runes); start += step {
		end := start + p.Size
		if end > len(runes) {
			end = len(runes)
		}
		drafts = append(drafts, Draft{
			Content: string(runes[start:end]),
			Meta: map[string]string{
				"strategy":   StrategyFixed,
				"char_start": strconv.Itoa(start),
			},
		})
		if end == len(runes) {
			break
		}
	}
	return drafts, nil
}
