package records

import (
	"math"
	"time"
)

// Classes is the fixed K-12 class list.
var Classes = []string{"K", "1", "2", "3", "4", "5", "6", "7", "8", "9", "10", "11", "12"}

// Subjects carrying marks.
var Subjects = []string{"math", "science", "history", "english"}

// ValidClass reports whether c is one of the K-12 classes.
func ValidClass(c string) bool {
	for _, cl := range Classes {
		if cl == c {
			return true
		}
	}
	return false
}

// Marks maps subject to an optional 0-100 score. A nil score means the
// subject has not been graded; it is never coerced to zero.
type Marks map[string]*int

// Clone returns a deep copy.
func (m Marks) Clone() Marks {
	if m == nil {
		return nil
	}
	out := make(Marks, len(m))
	for k, v := range m {
		if v == nil {
			out[k] = nil
			continue
		}
		n := *v
		out[k] = &n
	}
	return out
}

// Normalize fills missing subjects with nil scores so every student
// carries the same subject set.
func (m Marks) Normalize() Marks {
	out := make(Marks, len(Subjects))
	for _, s := range Subjects {
		if v, ok := m[s]; ok && v != nil {
			n := *v
			out[s] = &n
		} else {
			out[s] = nil
		}
	}
	return out
}

// Student is one roster or graveyard record.
type Student struct {
	ID                string     `json:"id"`
	Name              string     `json:"name"`
	Age               int        `json:"age"`
	Class             string     `json:"class"`
	Roll              int        `json:"roll"`
	Marks             Marks      `json:"marks"`
	ProfilePicture    string     `json:"profile_picture,omitempty"`
	HasProfilePicture bool       `json:"has_profile_picture"`
	PasswordHash      string     `json:"-"`
	AddedBy           string     `json:"addedBy"`
	CreatedAt         time.Time  `json:"timestamp"`
	IsDeleted         bool       `json:"is_deleted"`
	DeletedBy         string     `json:"deletedBy,omitempty"`
	DeletedAt         *time.Time `json:"deletedAt,omitempty"`
}

// Grade converts a 0-100 mark to a letter grade.
func Grade(mark float64) string {
	switch {
	case mark >= 97:
		return "A+"
	case mark >= 93:
		return "A"
	case mark >= 90:
		return "A-"
	case mark >= 87:
		return "B+"
	case mark >= 83:
		return "B"
	case mark >= 80:
		return "B-"
	case mark >= 77:
		return "C+"
	case mark >= 73:
		return "C"
	case mark >= 70:
		return "C-"
	case mark >= 67:
		return "D+"
	case mark >= 63:
		return "D"
	case mark >= 60:
		return "D-"
	default:
		return "F"
	}
}

// GradeSummary holds per-subject letter grades plus the average over
// graded subjects. Ungraded subjects show as N/A and are excluded from
// the average.
type GradeSummary struct {
	Grades       map[string]string `json:"grades"`
	AverageMarks *float64          `json:"average_marks"`
	OverallGrade string            `json:"overall_grade"`
}

// Summarize computes the grade summary for a student's marks.
func Summarize(m Marks) GradeSummary {
	grades := make(map[string]string, len(Subjects))
	var sum, n float64
	for _, subject := range Subjects {
		v := m[subject]
		if v == nil {
			grades[subject] = "N/A"
			continue
		}
		grades[subject] = Grade(float64(*v))
		sum += float64(*v)
		n++
	}
	out := GradeSummary{Grades: grades, OverallGrade: "N/A"}
	if n > 0 {
		avg := math.Round(sum/n*100) / 100
		out.AverageMarks = &avg
		out.OverallGrade = Grade(avg)
	}
	return out
}
