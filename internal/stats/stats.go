package stats

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jpillora/sizestr"
)

// Stats is shared by pointer between every pipe created with it.
// The zero value is ready to use.
type Stats struct {
	rejectCount atomic.Int64
	localCount  atomic.Int64
	remoteCount atomic.Int64

	upBytes   atomic.Int64
	downBytes atomic.Int64
	started   atomic.Int64
}

func New() *Stats {
	s := &Stats{}
	s.started.Store(time.Now().UnixNano())
	return s
}

// Reject records a pipe whose resolver declined to give a destination.
func (s *Stats) Reject() {
	s.rejectCount.Add(1)
}

// Open records a pipe entering the bridging state.
// Local and remote always move together for a single pipe.
func (s *Stats) Open() {
	s.localCount.Add(1)
	s.remoteCount.Add(1)
}

// Release undoes Open, it must be called once per Open.
func (s *Stats) Release() {
	s.localCount.Add(-1)
	s.remoteCount.Add(-1)
}

func (s *Stats) AddUp(n int64) {
	s.upBytes.Add(n)
}

func (s *Stats) AddDown(n int64) {
	s.downBytes.Add(n)
}

func (s *Stats) RejectCount() int64 { return s.rejectCount.Load() }
func (s *Stats) LocalCount() int64  { return s.localCount.Load() }
func (s *Stats) RemoteCount() int64 { return s.remoteCount.Load() }

type Snapshot struct {
	RejectCount int64  `json:"reject_count"`
	LocalCount  int64  `json:"local_count"`
	RemoteCount int64  `json:"remote_count"`
	UpBytes     int64  `json:"up_bytes"`
	DownBytes   int64  `json:"down_bytes"`
	UpBandwidth string `json:"up_bandwidth"`
	DnBandwidth string `json:"down_bandwidth"`
	Total       string `json:"total"`
}

func (s *Stats) Snapshot() Snapshot {
	up, down := s.upBytes.Load(), s.downBytes.Load()
	upbw, dnbw := bandwidth(up, down, s.elapsed())

	return Snapshot{
		RejectCount: s.rejectCount.Load(),
		LocalCount:  s.localCount.Load(),
		RemoteCount: s.remoteCount.Load(),
		UpBytes:     up,
		DownBytes:   down,
		UpBandwidth: upbw,
		DnBandwidth: dnbw,
		Total:       sizestr.ToString(up + down),
	}
}

func (s *Stats) elapsed() time.Duration {
	st := s.started.Load()
	if st == 0 {
		return 0
	}
	return time.Duration(time.Now().UnixNano() - st)
}

func bandwidth(up, down int64, elapsed time.Duration) (string, string) {
	if elapsed <= 0 {
		return "0B/s", "0B/s"
	}
	sec := elapsed.Seconds()
	return sizestr.ToString(int64(float64(up)/sec)) + "/s",
		sizestr.ToString(int64(float64(down)/sec)) + "/s"
}

func (s *Stats) String() string {
	snap := s.Snapshot()
	return fmt.Sprintf("[local %d/remote %d/reject %d] up %s down %s",
		snap.LocalCount, snap.RemoteCount, snap.RejectCount,
		sizestr.ToString(snap.UpBytes), sizestr.ToString(snap.DownBytes))
}
