package model

import (
	"fmt"
	"math"
)

// ErrorType selects how the residual standard deviation depends on the
// predicted response.
type ErrorType int

const (
	// Constant: g = a.
	Constant ErrorType = iota
	// Proportional: g = b*|f|.
	Proportional
	// Combined: g = sqrt(a² + b²f²).
	Combined
)

func (t ErrorType) String() string {
	switch t {
	case Constant:
		return "constant"
	case Proportional:
		return "proportional"
	case Combined:
		return "combined"
	}
	return fmt.Sprintf("ErrorType(%d)", int(t))
}

// ParseErrorType maps the configuration spelling to an ErrorType.
func ParseErrorType(s string) (ErrorType, error) {
	switch s {
	case "constant":
		return Constant, nil
	case "proportional":
		return Proportional, nil
	case "combined":
		return Combined, nil
	}
	return 0, fmt.Errorf("model: unknown error model %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (t ErrorType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *ErrorType) UnmarshalText(b []byte) error {
	v, err := ParseErrorType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// sdFloor keeps the proportional model away from a zero standard deviation
// when the prediction vanishes.
const sdFloor = 1e-12

// ErrorModel is the residual error model y = f + g(f)*eps, eps ~ N(0, 1).
type ErrorModel struct {
	Type ErrorType `json:"type"`
	A    float64   `json:"a"`
	B    float64   `json:"b"`
}

// SD is the residual standard deviation g(f).
func (e ErrorModel) SD(f float64) float64 {
	var g float64
	switch e.Type {
	case Constant:
		g = e.A
	case Proportional:
		g = e.B * math.Abs(f)
	case Combined:
		g = math.Hypot(e.A, e.B*f)
	}
	return math.Max(g, sdFloor)
}

// LogDensity is log N(y; f, g(f)²).
func (e ErrorModel) LogDensity(y, f float64) float64 {
	g := e.SD(f)
	r := (y - f) / g
	return -0.5*r*r - math.Log(g) - 0.5*math.Log(2*math.Pi)
}

// LogLikelihood sums LogDensity over paired responses and predictions.
func (e ErrorModel) LogLikelihood(y, f []float64) float64 {
	ll := 0.
	for i := range y {
		ll += e.LogDensity(y[i], f[i])
	}
	return ll
}

// NumParams is the number of estimated error parameters.
func (e ErrorModel) NumParams() int {
	if e.Type == Combined {
		return 2
	}
	return 1
}

// Params returns the estimated parameters in a fixed order: a for constant,
// b for proportional, (a, b) for combined.
func (e ErrorModel) Params() []float64 {
	switch e.Type {
	case Constant:
		return []float64{e.A}
	case Proportional:
		return []float64{e.B}
	}
	return []float64{e.A, e.B}
}

// ParamNames names the values of Params.
func (e ErrorModel) ParamNames() []string {
	switch e.Type {
	case Constant:
		return []string{"a"}
	case Proportional:
		return []string{"b"}
	}
	return []string{"a", "b"}
}

// WithParams is the inverse of Params.
func (e ErrorModel) WithParams(p []float64) ErrorModel {
	switch e.Type {
	case Constant:
		e.A = p[0]
	case Proportional:
		e.B = p[0]
	default:
		e.A, e.B = p[0], p[1]
	}
	return e
}
