package media

import "time"

// Window is one chunk's time range [Start, End) within the source audio
type Window struct {
	Index int
	Start time.Duration
	End   time.Duration
}

// Duration returns the window length
func (w Window) Duration() time.Duration {
	return w.End - w.Start
}

// Windows partitions [0, total) into ceil(total/chunk) consecutive windows.
// The last window may be shorter than chunk. A non-positive total yields none.
func Windows(total, chunk time.Duration) []Window {
	if total <= 0 || chunk <= 0 {
		return nil
	}

	count := int((total + chunk - 1) / chunk)
	out := make([]Window, 0, count)
	for i, start := 0, time.Duration(0); start < total; i, start = i+1, start+chunk {
		end := start + chunk
		if end > total {
			end = total
		}
		out = append(out, Window{Index: i, Start: start, End: end})
	}
	return out
}
