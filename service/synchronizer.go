package service

import "iris/entities"

// NoWord is returned when no timing interval contains the offset.
const NoWord = -1

// ActiveWordIndex returns the index of the first entry with start <= offset <= end.
func ActiveWordIndex(offset float64, timings []entities.WordTiming) int {
	for i, t := range timings {
		if t.Start <= offset && offset <= t.End {
			return i
		}
	}
	return NoWord
}

// SeekOffset is the playback position for a clicked word.
func SeekOffset(timings []entities.WordTiming, index int) (float64, bool) {
	if index < 0 || index >= len(timings) {
		return 0, false
	}
	return timings[index].Start, true
}
