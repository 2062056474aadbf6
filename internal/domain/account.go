package domain

import (
	"errors"
	"fmt"
	"strings"
)

// SchoolYear selects a study period. Year 21 is 2021-2022; semester 3 is summer.
type SchoolYear struct {
	Year     int `json:"year"`
	Semester int `json:"semester"`
}

// Validate checks the year and semester ranges.
func (s SchoolYear) Validate() error {
	if s.Year < 10 || s.Year > 99 {
		return fmt.Errorf("school year %d out of range 10..99", s.Year)
	}
	if s.Semester < 1 || s.Semester > 3 {
		return fmt.Errorf("semester %d out of range 1..3", s.Semester)
	}
	return nil
}

// String renders the school year for display.
func (s SchoolYear) String() string {
	semester := fmt.Sprintf("semester %d", s.Semester)
	if s.Semester == 3 {
		semester = "summer semester"
	}
	return fmt.Sprintf("20%02d-20%02d, %s", s.Year, s.Year+1, semester)
}

// SubjectCode identifies a class of a subject, e.g. 20.Nh10.
type SubjectCode struct {
	StudentYearID string `json:"student_year_id"`
	ClassID       string `json:"class_id"`
	SubjectName   string `json:"subject_name,omitempty"`
}

// Equal compares codes by student year and class.
func (c SubjectCode) Equal(other SubjectCode) bool {
	return strings.EqualFold(c.StudentYearID, other.StudentYearID) &&
		strings.EqualFold(c.ClassID, other.ClassID)
}

// String renders the code as year.class.
func (c SubjectCode) String() string {
	return c.StudentYearID + "." + c.ClassID
}

// AccountAuth carries login credentials.
type AccountAuth struct {
	Username      string `json:"username"`
	Password      string `json:"password"`
	RememberLogin bool   `json:"remember_login"`
}

// Validate checks that both credentials are present.
func (a AccountAuth) Validate() error {
	if strings.TrimSpace(a.Username) == "" || a.Password == "" {
		return errors.New("username and password are required")
	}
	return nil
}

// StudyTime is one weekly slot of a subject schedule.
type StudyTime struct {
	DayOfWeek   int    `json:"day_of_week"`
	LessonStart int    `json:"lesson_start"`
	LessonEnd   int    `json:"lesson_end"`
	Room        string `json:"room"`
}

// ExamSchedule is the exam arrangement of a subject.
type ExamSchedule struct {
	Group    string `json:"group"`
	IsGlobal bool   `json:"is_global"`
	Date     int64  `json:"date"`
	Room     string `json:"room"`
}

// SubjectSchedule is one registered subject of a school year.
type SubjectSchedule struct {
	ID            SubjectCode  `json:"id"`
	Name          string       `json:"name"`
	Credit        float64      `json:"credit"`
	IsHighQuality bool         `json:"is_high_quality"`
	Lecturer      string       `json:"lecturer"`
	ScheduleStudy []StudyTime  `json:"schedule_study"`
	WeekRanges    string       `json:"week_ranges"`
	ScheduleExam  ExamSchedule `json:"schedule_exam"`
	PointFormula  string       `json:"point_formula"`
}

// SubjectFee is the tuition of one registered subject.
type SubjectFee struct {
	ID                SubjectCode `json:"id"`
	Name              string      `json:"name"`
	Credit            float64     `json:"credit"`
	IsHighQuality     bool        `json:"is_high_quality"`
	Price             float64     `json:"price"`
	Debt              bool        `json:"debt"`
	IsReStudy         bool        `json:"is_restudy"`
	VerifiedPaymentAt string      `json:"verified_payment_at,omitempty"`
}

// AccountInformation is the student profile.
type AccountInformation struct {
	StudentID       string `json:"student_id"`
	Name            string `json:"name"`
	DateOfBirth     string `json:"date_of_birth"`
	Gender          string `json:"gender"`
	Class           string `json:"class"`
	Specialization  string `json:"specialization"`
	TrainingProgram string `json:"training_program"`
	SchoolEmail     string `json:"school_email"`
	PersonalEmail   string `json:"personal_email,omitempty"`
	PhoneNumber     string `json:"phone_number,omitempty"`
}
