package catalogs

import "strings"

// Grade is a building tier. The integer values are persisted in build saves
// and must never be reordered.
type Grade int32

const (
	Twigs   Grade = 0
	Wood    Grade = 1
	Stone   Grade = 2
	Metal   Grade = 3
	TopTier Grade = 4

	gradeCount = 5
)

// Grades lists every tier, lowest first.
var Grades = []Grade{Twigs, Wood, Stone, Metal, TopTier}

var gradeNames = [gradeCount]string{"TWIGS", "WOOD", "STONE", "METAL", "TOPTIER"}

func (g Grade) Valid() bool { return g >= Twigs && g <= TopTier }

func (g Grade) String() string {
	if !g.Valid() {
		return "UNKNOWN"
	}
	return gradeNames[g]
}

func ParseGrade(s string) (Grade, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for i, n := range gradeNames {
		if n == s {
			return Grade(i), true
		}
	}
	return Twigs, false
}

// GradeFromOrdinal maps a persisted ordinal back to a Grade.
func GradeFromOrdinal(n int64) (Grade, bool) {
	g := Grade(n)
	if int64(g) != n || !g.Valid() {
		return Twigs, false
	}
	return g, true
}
