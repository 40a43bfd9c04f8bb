package indicator

import "gonum.org/v1/gonum/stat"

// Band is a Bollinger band triple.
type Band struct {
	Upper  float64
	Middle float64
	Lower  float64
}

// Bollinger computes bands over window using the sample standard deviation
// (n-1 denominator). Returns false for fewer than two values.
func Bollinger(window []float64, width float64) (Band, bool) {
	if len(window) < 2 {
		return Band{}, false
	}
	mean, std := stat.MeanStdDev(window, nil)
	return Band{
		Upper:  mean + width*std,
		Middle: mean,
		Lower:  mean - width*std,
	}, true
}

// Width returns (upper-lower)/middle as a percentage; 0 when middle is 0.
func (b Band) Width() float64 {
	if b.Middle == 0 {
		return 0
	}
	return (b.Upper - b.Lower) / b.Middle * 100
}
