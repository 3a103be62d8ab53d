package watcher

import (
	"os"
	"time"
)

// fileState is what polling compares between ticks.
type fileState struct {
	exists  bool
	modTime time.Time
	size    int64
}

func statFile(path string) fileState {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return fileState{}
	}
	return fileState{exists: true, modTime: info.ModTime(), size: info.Size()}
}

// diff returns the operation turning prev into cur, or false if unchanged.
func diff(prev, cur fileState) (Operation, bool) {
	switch {
	case !prev.exists && cur.exists:
		return OpCreate, true
	case prev.exists && !cur.exists:
		return OpDelete, true
	case cur.exists && (!cur.modTime.Equal(prev.modTime) || cur.size != prev.size):
		return OpModify, true
	default:
		return 0, false
	}
}

// poller stats a fixed list of files and reports changes since the last
// poll.
type poller struct {
	paths []string
	state map[string]fileState
}

func newPoller(paths []string) *poller {
	p := &poller{paths: paths, state: make(map[string]fileState, len(paths))}
	for _, path := range paths {
		p.state[path] = statFile(path)
	}
	return p
}

func (p *poller) poll(now time.Time) []FileEvent {
	var events []FileEvent
	for _, path := range p.paths {
		cur := statFile(path)
		if op, changed := diff(p.state[path], cur); changed {
			events = append(events, FileEvent{Path: path, Operation: op, Timestamp: now})
		}
		p.state[path] = cur
	}
	return events
}
