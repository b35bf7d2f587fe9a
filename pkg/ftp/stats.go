package ftp

import (
	"sync"
	"sync/atomic"
	"time"
)

// Stats holds server-wide counters. All methods are safe for concurrent use.
type Stats struct {
	startTime time.Time

	totalConnections       atomic.Int64
	currentConnections     atomic.Int64
	totalLogins            atomic.Int64
	currentLogins          atomic.Int64
	totalAnonymousLogins   atomic.Int64
	currentAnonymousLogins atomic.Int64
	totalFailedLogins      atomic.Int64
	uploads                atomic.Int64
	uploadedBytes          atomic.Int64
	downloads              atomic.Int64
	downloadedBytes        atomic.Int64
	deletes                atomic.Int64
	dirsCreated            atomic.Int64
	dirsRemoved            atomic.Int64

	// Per-user login counts, used for MaxLogins/MaxLoginsPerIP.
	mu        sync.Mutex
	userLogin map[string]map[string]int // user -> client IP -> sessions
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	StartTime              time.Time
	TotalConnections       int64
	CurrentConnections     int64
	TotalLogins            int64
	CurrentLogins          int64
	TotalAnonymousLogins   int64
	CurrentAnonymousLogins int64
	TotalFailedLogins      int64
	Uploads                int64
	UploadedBytes          int64
	Downloads              int64
	DownloadedBytes        int64
	Deletes                int64
	DirsCreated            int64
	DirsRemoved            int64
}

// NewStats returns zeroed statistics starting now.
func NewStats() *Stats {
	return &Stats{startTime: time.Now(), userLogin: make(map[string]map[string]int)}
}

func (s *Stats) ConnectionOpened() {
	s.totalConnections.Add(1)
	s.currentConnections.Add(1)
}

func (s *Stats) ConnectionClosed() {
	s.currentConnections.Add(-1)
}

// LoginSucceeded records a login of user from ip.
func (s *Stats) LoginSucceeded(user, ip string, anonymous bool) {
	s.totalLogins.Add(1)
	s.currentLogins.Add(1)
	if anonymous {
		s.totalAnonymousLogins.Add(1)
		s.currentAnonymousLogins.Add(1)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	byIP := s.userLogin[user]
	if byIP == nil {
		byIP = make(map[string]int)
		s.userLogin[user] = byIP
	}
	byIP[ip]++
}

// LoggedOut reverses LoginSucceeded.
func (s *Stats) LoggedOut(user, ip string, anonymous bool) {
	s.currentLogins.Add(-1)
	if anonymous {
		s.currentAnonymousLogins.Add(-1)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	byIP := s.userLogin[user]
	if byIP == nil {
		return
	}
	if byIP[ip]--; byIP[ip] <= 0 {
		delete(byIP, ip)
	}
	if len(byIP) == 0 {
		delete(s.userLogin, user)
	}
}

func (s *Stats) LoginFailed() {
	s.totalFailedLogins.Add(1)
}

// UserLogins returns the number of current sessions of user, in total and
// from ip.
func (s *Stats) UserLogins(user, ip string) (total, fromIP int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for addr, n := range s.userLogin[user] {
		total += n
		if addr == ip {
			fromIP = n
		}
	}
	return total, fromIP
}

func (s *Stats) CurrentLogins() int64          { return s.currentLogins.Load() }
func (s *Stats) CurrentAnonymousLogins() int64 { return s.currentAnonymousLogins.Load() }

func (s *Stats) Uploaded(bytes int64) {
	s.uploads.Add(1)
	s.uploadedBytes.Add(bytes)
}

func (s *Stats) Downloaded(bytes int64) {
	s.downloads.Add(1)
	s.downloadedBytes.Add(bytes)
}

func (s *Stats) Deleted()    { s.deletes.Add(1) }
func (s *Stats) DirCreated() { s.dirsCreated.Add(1) }
func (s *Stats) DirRemoved() { s.dirsRemoved.Add(1) }

// Snapshot copies the counters.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		StartTime:              s.startTime,
		TotalConnections:       s.totalConnections.Load(),
		CurrentConnections:     s.currentConnections.Load(),
		TotalLogins:            s.totalLogins.Load(),
		CurrentLogins:          s.currentLogins.Load(),
		TotalAnonymousLogins:   s.totalAnonymousLogins.Load(),
		CurrentAnonymousLogins: s.currentAnonymousLogins.Load(),
		TotalFailedLogins:      s.totalFailedLogins.Load(),
		Uploads:                s.uploads.Load(),
		UploadedBytes:          s.uploadedBytes.Load(),
		Downloads:              s.downloads.Load(),
		DownloadedBytes:        s.downloadedBytes.Load(),
		Deletes:                s.deletes.Load(),
		DirsCreated:            s.dirsCreated.Load(),
		DirsRemoved:            s.dirsRemoved.Load(),
	}
}
