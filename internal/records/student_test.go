package records

import "testing"

func TestGradeCutoffs(t *testing.T) {
	cases := []struct {
		mark float64
		want string
	}{
		{100, "A+"}, {97, "A+"}, {96, "A"}, {93, "A"}, {92, "A-"}, {90, "A-"},
		{89, "B+"}, {87, "B+"}, {86, "B"}, {83, "B"}, {82, "B-"}, {80, "B-"},
		{79, "C+"}, {77, "C+"}, {76, "C"}, {73, "C"}, {72, "C-"}, {70, "C-"},
		{69, "D+"}, {67, "D+"}, {66, "D"}, {63, "D"}, {62, "D-"}, {60, "D-"},
		{59, "F"}, {0, "F"},
	}
	for _, tc := range cases {
		if got := Grade(tc.mark); got != tc.want {
			t.Errorf("Grade(%v) = %q, want %q", tc.mark, got, tc.want)
		}
	}
}

func TestSummarizeSkipsUngraded(t *testing.T) {
	summary := Summarize(Marks{"math": intp(90), "science": intp(80)})
	if summary.Grades["math"] != "A-" || summary.Grades["science"] != "B-" {
		t.Fatalf("unexpected grades: %v", summary.Grades)
	}
	if summary.Grades["history"] != "N/A" || summary.Grades["english"] != "N/A" {
		t.Fatalf("expected N/A for ungraded subjects, got %v", summary.Grades)
	}
	if summary.AverageMarks == nil || *summary.AverageMarks != 85 {
		t.Fatalf("expected average 85, got %v", summary.AverageMarks)
	}
	if summary.OverallGrade != "B" {
		t.Fatalf("expected overall B, got %q", summary.OverallGrade)
	}
}

func TestSummarizeAllUngraded(t *testing.T) {
	summary := Summarize(nil)
	if summary.AverageMarks != nil {
		t.Fatalf("expected nil average, got %v", *summary.AverageMarks)
	}
	if summary.OverallGrade != "N/A" {
		t.Fatalf("expected N/A overall, got %q", summary.OverallGrade)
	}
}

func TestMarksNormalize(t *testing.T) {
	m := Marks{"math": intp(75)}.Normalize()
	if len(m) != len(Subjects) {
		t.Fatalf("expected %d subjects, got %d", len(Subjects), len(m))
	}
	if m["math"] == nil || *m["math"] != 75 {
		t.Fatal("expected math mark preserved")
	}
	if m["science"] != nil {
		t.Fatal("expected missing subject to stay ungraded")
	}
}
