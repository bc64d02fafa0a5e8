package academic

// SeedDemo loads a small catalog for local development. Errors are
// ignored so reseeding an already-loaded store is a no-op.
func SeedDemo(store *Store) {
	courses := []Course{
		{Code: "CS101", Title: "Introduction to Programming", Credits: 3, Hours: 48, Department: "Computer Science"},
		{Code: "CS201", Title: "Data Structures", Credits: 4, Hours: 64, Department: "Computer Science"},
		{Code: "MA101", Title: "Calculus I", Credits: 4, Hours: 64, Department: "Mathematics"},
		{Code: "EN105", Title: "Academic Writing", Credits: 2, Hours: 32, Department: "Humanities"},
	}
	for _, c := range courses {
		_ = store.AddCourse(c)
	}

	_ = store.AddTerm(Term{ID: "2026-fall", Name: "Fall 2026", Status: TermOpen})

	sections := []Section{
		{ID: "CS101-A", CourseCode: "CS101", TeacherID: "t001", TermID: "2026-fall", Capacity: 30, Schedule: "Mon 08:00-09:40", Room: "B12"},
		{ID: "CS101-B", CourseCode: "CS101", TeacherID: "t002", TermID: "2026-fall", Capacity: 30, Schedule: "Tue 10:00-11:40", Room: "B14"},
		{ID: "CS201-A", CourseCode: "CS201", TeacherID: "t001", TermID: "2026-fall", Capacity: 25, Schedule: "Wed 08:00-09:40", Room: "B12"},
		{ID: "MA101-A", CourseCode: "MA101", TeacherID: "t003", TermID: "2026-fall", Capacity: 40, Schedule: "Thu 14:00-15:40", Room: "A03"},
		{ID: "EN105-A", CourseCode: "EN105", TeacherID: "t003", TermID: "2026-fall", Capacity: 5, Schedule: "Fri 10:00-11:40", Room: "C21"},
	}
	for _, sec := range sections {
		_ = store.AddSection(sec)
	}

	// the small section runs on bids
	_ = store.OpenBidding("EN105-A")
}
