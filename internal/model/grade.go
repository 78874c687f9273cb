package model

type Grade string

const (
	GradeFail      Grade = "Fail"
	GradePass      Grade = "Pass"
	GradeGood      Grade = "Good"
	GradeVeryGood  Grade = "Very Good"
	GradeExcellent Grade = "Excellent"
)

// GradeFor maps a percentage to its band. Upper bounds are exclusive.
func GradeFor(percentage float64) Grade {
	switch {
	case percentage < 50:
		return GradeFail
	case percentage < 60:
		return GradePass
	case percentage < 75:
		return GradeGood
	case percentage < 90:
		return GradeVeryGood
	default:
		return GradeExcellent
	}
}
