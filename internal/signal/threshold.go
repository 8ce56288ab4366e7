package signal

// Threshold returns the minimum confidence required to buy at the given
// hour of the breakout candle. Afternoons historically win least.
func Threshold(hour int, ds DailyStrength) float64 {
	switch {
	case hour >= 12 && hour < 14:
		if ds.Strength < 60 {
			return 95
		}
		if ds.Ideal {
			return 80
		}
		return 85
	case hour >= 9 && hour < 10:
		if ds.Strength >= 70 {
			return 65
		}
		if ds.Strength < 40 {
			return 80
		}
		return 70
	default:
		if ds.Ideal && ds.Strength >= 70 {
			return 70
		}
		if ds.Strength < 50 {
			return 85
		}
		return 75
	}
}
