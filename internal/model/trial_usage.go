package model

// TrialUsage aggregates consumed trial lessons of one student.
type TrialUsage struct {
	StudentID int64         `json:"student_id"`
	Total     int           `json:"total"`
	ByTutor   map[int64]int `json:"by_tutor"`
}

// NewTrialUsage returns an empty usage for the student.
func NewTrialUsage(studentID int64) TrialUsage {
	return TrialUsage{StudentID: studentID, ByTutor: map[int64]int{}}
}

// ForTutor returns how many trials the student took with the tutor.
func (u TrialUsage) ForTutor(tutorID int64) int {
	if u.ByTutor == nil {
		return 0
	}
	return u.ByTutor[tutorID]
}
