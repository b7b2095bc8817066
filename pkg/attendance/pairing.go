package attendance

import "time"

// PairingOptions tunes timestamp interpretation.
type PairingOptions struct {
	// Location is used for zone-less timestamps. Defaults to UTC.
	Location *time.Location
}

// PairingStats summarises what an iterator did with its input.
type PairingStats struct {
	Completed          int `json:"completed"`
	Pending            int `json:"pending"`
	DiscardedCheckouts int `json:"discardedCheckouts"`
	Malformed          int `json:"malformed"`
}

// Add accumulates other into s.
func (s *PairingStats) Add(other PairingStats) {
	s.Completed += other.Completed
	s.Pending += other.Pending
	s.DiscardedCheckouts += other.DiscardedCheckouts
	s.Malformed += other.Malformed
}

type mark struct {
	raw       string
	latitude  *float64
	longitude *float64
}

// Pairer holds the normalised check-in and check-out lists of one record.
type Pairer struct {
	record    Record
	loc       *time.Location
	checkins  []mark
	checkouts []mark
	rejected  int
}

// NewPairer normalises record into ordered check-in and check-out lists.
// Event order is kept as recorded; timestamps are never used for sorting.
func NewPairer(record Record, opts PairingOptions) *Pairer {
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	p := &Pairer{record: record, loc: loc}
	if !record.HasData() {
		return p
	}
	if len(record.Events) > 0 {
		for _, ev := range record.Events {
			kind, err := ParseEventType(ev.Type)
			if err != nil {
				p.rejected++
				continue
			}
			m := mark{raw: ev.Timestamp, latitude: ev.Latitude, longitude: ev.Longitude}
			if kind == CheckIn {
				p.checkins = append(p.checkins, m)
			} else {
				p.checkouts = append(p.checkouts, m)
			}
		}
		return p
	}
	for _, raw := range record.CheckinTimes {
		p.checkins = append(p.checkins, mark{raw: raw})
	}
	for _, raw := range record.CheckoutTimes {
		p.checkouts = append(p.checkouts, mark{raw: raw})
	}
	return p
}

// Sessions returns a fresh iterator positioned at the start of the record.
func (p *Pairer) Sessions() *SessionIterator {
	return &SessionIterator{p: p, stats: PairingStats{Malformed: p.rejected}}
}

// Pair drains a single iterator over record.
func Pair(record Record, opts PairingOptions) []Session {
	sessions, _ := PairWithStats(record, opts)
	return sessions
}

// PairWithStats is Pair plus the iterator's final statistics.
func PairWithStats(record Record, opts PairingOptions) ([]Session, PairingStats) {
	it := NewPairer(record, opts).Sessions()
	var sessions []Session
	for {
		session, ok := it.Next()
		if !ok {
			break
		}
		sessions = append(sessions, session)
	}
	return sessions, it.Stats()
}

// SessionIterator walks the greedy two-pointer merge lazily.
type SessionIterator struct {
	p     *Pairer
	i     int
	j     int
	stats PairingStats
}

// Next yields the next session. The second return value is false once both
// lists are exhausted.
func (it *SessionIterator) Next() (Session, bool) {
	p := it.p
	for it.i < len(p.checkins) || it.j < len(p.checkouts) {
		switch {
		case it.i < len(p.checkins) && it.j < len(p.checkouts):
			in, out := p.checkins[it.i], p.checkouts[it.j]
			inAt, inErr := ParseTimestamp(in.raw, p.loc)
			outAt, outErr := ParseTimestamp(out.raw, p.loc)
			if inErr != nil || outErr != nil {
				it.i++
				it.j++
				it.stats.Malformed++
				continue
			}
			if outAt.Before(inAt) {
				// checkout predates the pending check-in: orphan
				it.j++
				it.stats.DiscardedCheckouts++
				continue
			}
			it.i++
			it.j++
			it.stats.Completed++
			return p.completed(inAt, outAt, in, out), true
		case it.i < len(p.checkins):
			in := p.checkins[it.i]
			it.i++
			inAt, err := ParseTimestamp(in.raw, p.loc)
			if err != nil {
				it.stats.Malformed++
				continue
			}
			it.stats.Pending++
			return p.pending(inAt, in), true
		default:
			it.j++
			it.stats.DiscardedCheckouts++
		}
	}
	return Session{}, false
}

// Stats reports counters for everything consumed so far.
func (it *SessionIterator) Stats() PairingStats {
	return it.stats
}

func (p *Pairer) completed(inAt, outAt time.Time, in, out mark) Session {
	hours := outAt.Sub(inAt).Hours()
	if hours < 0 {
		hours = 0
	}
	checkout := outAt
	lat, lng := p.coordinates(out, in)
	return Session{
		UserID:       p.record.UserID,
		UserName:     p.record.UserName,
		College:      p.record.College,
		Date:         p.record.Date,
		CheckinTime:  inAt,
		CheckoutTime: &checkout,
		WorkingHours: hours,
		Latitude:     lat,
		Longitude:    lng,
	}
}

func (p *Pairer) pending(inAt time.Time, in mark) Session {
	lat, lng := p.coordinates(mark{}, in)
	return Session{
		UserID:      p.record.UserID,
		UserName:    p.record.UserName,
		College:     p.record.College,
		Date:        p.record.Date,
		CheckinTime: inAt,
		Latitude:    lat,
		Longitude:   lng,
		IsPending:   true,
	}
}

// coordinates prefers the checkout's fix, then the check-in's, then the record's.
func (p *Pairer) coordinates(out, in mark) (*float64, *float64) {
	if out.latitude != nil && out.longitude != nil {
		return out.latitude, out.longitude
	}
	if in.latitude != nil && in.longitude != nil {
		return in.latitude, in.longitude
	}
	return p.record.Latitude, p.record.Longitude
}
