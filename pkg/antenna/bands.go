package antenna

import "github.com/dougsko/steppird/pkg/protocol"

// Manual jog steps offered by the panel
const (
	Step10kHz  = 10000
	Step100kHz = 100000
	Step1MHz   = 1000000
)

// bandStep maps "below this frequency" to the band bottom to jump to
type bandStep struct {
	limit protocol.Frequency
	next  protocol.Frequency
}

// Band plan 40 m through 6 m, wrapping around at both ends
var (
	bandUp = []bandStep{
		{7300001, 10100000},  // 40 m -> 30 m
		{10150001, 14000000}, // 30 m -> 20 m
		{14350001, 18068000}, // 20 m -> 17 m
		{18168001, 21000000}, // 17 m -> 15 m
		{21450001, 24890000}, // 15 m -> 12 m
		{24990001, 28000000}, // 12 m -> 10 m
		{29700001, 50000000}, // 10 m -> 6 m
		{54000001, 7000000},  // 6 m -> 40 m
	}
	bandDown = []bandStep{
		{49999999, 28000000}, // 6 m -> 10 m
		{27999999, 24890000}, // 10 m -> 12 m
		{24889999, 21000000}, // 12 m -> 15 m
		{20999999, 18068000}, // 15 m -> 17 m
		{18067999, 14000000}, // 17 m -> 20 m
		{13999999, 10100000}, // 20 m -> 30 m
		{10099999, 7000000},  // 30 m -> 40 m
		{6999999, 50000000},  // 40 m -> 6 m
	}
)

// BandUp returns the bottom of the next band above freq.
// Frequencies above 54 MHz are returned unchanged.
func BandUp(freq protocol.Frequency) protocol.Frequency {
	for _, step := range bandUp {
		if freq < step.limit {
			return step.next
		}
	}
	return freq
}

// BandDown returns the bottom of the next band below freq.
// Frequencies below 7 MHz are returned unchanged.
func BandDown(freq protocol.Frequency) protocol.Frequency {
	for _, step := range bandDown {
		if freq > step.limit {
			return step.next
		}
	}
	return freq
}

// Jog offsets freq by delta hertz, clamped to the controller's range
func Jog(freq protocol.Frequency, delta int64) protocol.Frequency {
	target := int64(freq) + delta
	switch {
	case target < 0:
		return 0
	case target > int64(protocol.MaxFrequency):
		return protocol.MaxFrequency
	default:
		return protocol.Frequency(target)
	}
}
