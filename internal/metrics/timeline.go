package metrics

import (
	"sort"
	"time"

	"github.com/kozaktomas/meter-lab/internal/database"
)

// minTimelineWindow is the shortest window that gets a daily timeline.
const minTimelineWindow = 24 * time.Hour

const dayLayout = "2006-01-02"

// DayBucket is the activity of one UTC calendar day.
type DayBucket struct {
	Date      string   `json:"date"`
	Runs      int      `json:"runs"`
	Evaluated int      `json:"evaluated"`
	Correct   int      `json:"correct"`
	Accuracy  *float64 `json:"accuracy"`
}

// Timeline groups runs by the UTC date of creation, oldest first. It is
// empty when the window spans 24 hours or less.
func Timeline(runs []database.RunResult, window Window) []DayBucket {
	if window.To.Sub(window.From) <= minTimelineWindow {
		return nil
	}

	byDay := make(map[string]*DayBucket)
	for i := range runs {
		r := &runs[i]
		day := r.CreatedAt.UTC().Format(dayLayout)
		b, ok := byDay[day]
		if !ok {
			b = &DayBucket{Date: day}
			byDay[day] = b
		}
		b.Runs++
		if r.Correct != nil {
			b.Evaluated++
			if *r.Correct {
				b.Correct++
			}
		}
	}

	out := make([]DayBucket, 0, len(byDay))
	for _, b := range byDay {
		b.Accuracy = ratio(b.Correct, b.Evaluated)
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}
