package datarecording

import (
	"os"
	"strings"
	"time"
)

const sessionTimeFormat = "2006-01-02 15:04:05.000000000"

// sessionInfo is one property of the session that produced a database.
type sessionInfo struct {
	Property string
	Value    string
}

// sessionRecorder records how a scan database was produced.
type sessionRecorder struct {
	tableName string
	recorder  DataRecorder
	entries   []sessionInfo
}

func newSessionRecorder(recorder DataRecorder) *sessionRecorder {
	s := &sessionRecorder{
		tableName: "session_info",
		recorder:  recorder,
	}

	s.recorder.CreateTable(s.tableName, sessionInfo{})

	return s
}

// Start captures the start time, the command line, the host, and the
// working directory of the current session.
func (s *sessionRecorder) Start() {
	startTime := time.Now().Format(sessionTimeFormat)
	s.entries = append(s.entries, sessionInfo{"Start Time", startTime})

	cmd := strings.Join(os.Args, " ")
	s.entries = append(s.entries, sessionInfo{"Command", cmd})

	host, err := os.Hostname()
	if err != nil {
		panic(err)
	}

	s.entries = append(s.entries, sessionInfo{"Host", host})

	cwd, err := os.Getwd()
	if err != nil {
		panic(err)
	}

	s.entries = append(s.entries, sessionInfo{"Working Directory", cwd})
}

// End writes the captured properties into the database along with the
// session end time.
func (s *sessionRecorder) End() {
	for _, entry := range s.entries {
		s.recorder.InsertData(s.tableName, entry)
	}

	endTime := time.Now().Format(sessionTimeFormat)
	s.recorder.InsertData(s.tableName, sessionInfo{"End Time", endTime})

	s.entries = nil

	s.recorder.Flush()
}
