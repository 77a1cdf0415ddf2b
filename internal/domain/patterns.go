package domain

import "fmt"

// PatternKind tags a VRAM test pattern
type PatternKind string

const (
	PatternAllZeros            PatternKind = "all_zeros"
	PatternAllOnes             PatternKind = "all_ones"
	PatternCheckerboard        PatternKind = "checkerboard"
	PatternInverseCheckerboard PatternKind = "inverse_checkerboard"
	PatternRandom              PatternKind = "random"
	PatternMarchingOnes        PatternKind = "marching_ones"
	PatternMarchingZeros       PatternKind = "marching_zeros"
	PatternAddress             PatternKind = "address"
)

// PatternDescriptor selects a pattern and the iteration used to vary it
type PatternDescriptor struct {
	Kind      PatternKind `json:"kind"`
	Iteration int         `json:"iteration"`
}

func (p PatternDescriptor) String() string {
	switch p.Kind {
	case PatternRandom, PatternMarchingOnes, PatternMarchingZeros:
		return fmt.Sprintf("%s#%d", p.Kind, p.Iteration)
	default:
		return string(p.Kind)
	}
}
