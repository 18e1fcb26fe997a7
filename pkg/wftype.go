package cities

// WfType selects which waveform arrays a file holds.
type WfType int

const (
	// RWF are raw waveforms from the detector.
	RWF WfType = iota
	// MCRD are simulated waveforms from the detector simulation.
	MCRD
)

func (w WfType) String() string {
	switch w {
	case RWF:
		return "rwf"
	case MCRD:
		return "mcrd"
	default:
		return "Unknown"
	}
}

// Nodes returns the paths of the PMT and SiPM waveform arrays.
func (w WfType) Nodes() (pmt string, sipm string) {
	if w == MCRD {
		return "RD/pmtrd", "RD/sipmrd"
	}
	return "RD/pmtrwf", "RD/sipmrwf"
}

func ParseWfType(s string) (WfType, error) {
	switch s {
	case "rwf":
		return RWF, nil
	case "mcrd":
		return MCRD, nil
	}
	return 0, invalidConfig("unknown waveform type %q", s)
}
