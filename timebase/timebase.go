// Package timebase converts between wall-clock time and a network's
// logical slot numbers, grounded in the (zero_time, zero_slot, slot_length)
// triple each network carries (spec §4.1).
package timebase

import (
	"time"

	"github.com/orcfax/explorer-index/model"
)

// Period is a slot-granularity duration used by SlotAfterPeriod.
type Period int

const (
	PeriodDay Period = iota
	PeriodWeek
	PeriodMonth
)

func (p Period) milliseconds() int64 {
	switch p {
	case PeriodWeek:
		return 7 * 24 * 60 * 60 * 1000
	case PeriodMonth:
		return 30 * 24 * 60 * 60 * 1000
	default:
		return 24 * 60 * 60 * 1000
	}
}

// SlotToDate converts a slot number into the wall-clock time a network's
// chain considers it to have occurred at.
func SlotToDate(slot uint64, net *model.Network) time.Time {
	ms := net.ZeroTime + (int64(slot)-int64(net.ZeroSlot))*net.SlotLength

	return time.UnixMilli(ms).UTC()
}

// DateToSlot inverts SlotToDate with integer-floor division.
func DateToSlot(t time.Time, net *model.Network) uint64 {
	ms := t.UnixMilli() - net.ZeroTime
	slots := floorDiv(ms, net.SlotLength)

	return uint64(int64(net.ZeroSlot) + slots)
}

// SlotAfterPeriod adds a day/week/month-sized window (expressed in ms,
// floor-divided by slot length) to slot.
func SlotAfterPeriod(slot uint64, period Period, net *model.Network) uint64 {
	return slot + uint64(floorDiv(period.milliseconds(), net.SlotLength))
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}

	return q
}
