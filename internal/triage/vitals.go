package triage

// Normal ranges, inclusive. Readings outside are flagged.
const (
	PulseMin     = 60
	PulseMax     = 100
	SystolicMin  = 90
	SystolicMax  = 160
	DiastolicMin = 60
	DiastolicMax = 100
)

// EvaluateVitals flags readings outside their normal range.
// A missing reading is not evaluated: its flag stays false and does not
// contribute to AnyFlag.
func EvaluateVitals(v Vitals) VitalsFlags {
	f := VitalsFlags{
		PulseFlag:     outside(v.Pulse, PulseMin, PulseMax),
		SystolicFlag:  outside(v.SystolicBP, SystolicMin, SystolicMax),
		DiastolicFlag: outside(v.DiastolicBP, DiastolicMin, DiastolicMax),
	}
	f.AnyFlag = f.PulseFlag || f.SystolicFlag || f.DiastolicFlag
	return f
}

func outside(reading *int, lo, hi int) bool {
	if reading == nil {
		return false
	}
	return *reading < lo || *reading > hi
}
