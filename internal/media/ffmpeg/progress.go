package ffmpeg

import (
	"strconv"
	"strings"
	"time"
)

// Progress is one block of ffmpeg -progress output.
type Progress struct {
	OutTime   time.Duration
	TotalSize int64
	Speed     string
	Done      bool
}

// ProgressParser accumulates key=value lines and yields a Progress each
// time ffmpeg closes a block with a progress= line.
type ProgressParser struct {
	current Progress
}

// Feed consumes one line and reports a completed block when available.
func (p *ProgressParser) Feed(line string) (Progress, bool) {
	key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
	if !ok {
		return Progress{}, false
	}
	value = strings.TrimSpace(value)
	switch key {
	case "out_time_us", "out_time_ms":
		// both keys carry microseconds
		if us, err := strconv.ParseInt(value, 10, 64); err == nil && us >= 0 {
			p.current.OutTime = time.Duration(us) * time.Microsecond
		}
	case "total_size":
		if size, err := strconv.ParseInt(value, 10, 64); err == nil && size >= 0 {
			p.current.TotalSize = size
		}
	case "speed":
		p.current.Speed = value
	case "progress":
		out := p.current
		out.Done = value == "end"
		return out, true
	}
	return Progress{}, false
}
