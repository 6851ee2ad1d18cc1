package control

const returnCorrectionGain = 0.5

// CorrectForReturn scales a flow requirement by the circuit's return temperature
// deviation: a colder return than desired lowers the requirement, a warmer one
// raises it. desired must be non-zero; a zero desired return leaves rawFlow as is.
func CorrectForReturn(rawFlow, desired, actual float64) float64 {
	if desired == 0 {
		return rawFlow
	}
	return rawFlow * (1 - returnCorrectionGain*(desired-actual)/desired)
}
