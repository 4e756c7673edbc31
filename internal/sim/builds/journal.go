package builds

import "time"

// OpRecord describes one finished command.
type OpRecord struct {
	ID      string
	ActorID string
	Op      string
	Save    string

	OK   bool
	Code string
	Err  string

	Count       int
	Cleared     int
	Skipped     int
	FieldErrors int

	StartedAt time.Time
	Duration  time.Duration
}

// Journal receives a record for every operation. Implementations must not
// block.
type Journal interface {
	RecordOp(OpRecord)
}

type nopJournal struct{}

func (nopJournal) RecordOp(OpRecord) {}

type multiJournal []Journal

func (m multiJournal) RecordOp(r OpRecord) {
	for _, j := range m {
		j.RecordOp(r)
	}
}

// Journals fans a record out to every non-nil journal.
func Journals(js ...Journal) Journal {
	var out multiJournal
	for _, j := range js {
		if j != nil {
			out = append(out, j)
		}
	}
	switch len(out) {
	case 0:
		return nopJournal{}
	case 1:
		return out[0]
	}
	return out
}
