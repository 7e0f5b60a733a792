package store

import (
	"context"

	"github.com/rmehta/coursetalk/pkg/model"
)

// Discussion groups, memberships, and the local enrollment mirror that the
// lifecycle manager reconciles against.

func (s *Scylla) InsertGroup(ctx context.Context, g *model.DiscussionGroup) error {
	q := `INSERT INTO discussion_groups (course_id, group_id, conversation_id, is_active)
	      VALUES (?, ?, ?, ?)`
	return wrap(s.session.Query(q, g.CourseID, g.ID, g.ConversationID, g.IsActive).WithContext(ctx).Exec())
}

func (s *Scylla) GroupByCourse(ctx context.Context, courseID string) (*model.DiscussionGroup, error) {
	var g model.DiscussionGroup
	q := `SELECT course_id, group_id, conversation_id, is_active FROM discussion_groups WHERE course_id = ?`
	err := s.session.Query(q, courseID).WithContext(ctx).Scan(
		&g.CourseID, &g.ID, &g.ConversationID, &g.IsActive)
	if err != nil {
		return nil, wrap(err)
	}
	return &g, nil
}

func (s *Scylla) SetGroupActive(ctx context.Context, courseID string, active bool) error {
	q := `UPDATE discussion_groups SET is_active = ? WHERE course_id = ?`
	return wrap(s.session.Query(q, active, courseID).WithContext(ctx).Exec())
}

func (s *Scylla) UpsertMembership(ctx context.Context, m model.Membership) error {
	q := `INSERT INTO memberships (group_id, user_id, role, is_active) VALUES (?, ?, ?, ?)`
	return wrap(s.session.Query(q, m.GroupID, m.UserID, string(m.Role), m.IsActive).WithContext(ctx).Exec())
}

func (s *Scylla) Memberships(ctx context.Context, groupID string) ([]model.Membership, error) {
	q := `SELECT group_id, user_id, role, is_active FROM memberships WHERE group_id = ?`
	iter := s.session.Query(q, groupID).WithContext(ctx).Iter()

	var out []model.Membership
	var m model.Membership
	var role string
	for iter.Scan(&m.GroupID, &m.UserID, &role, &m.IsActive) {
		m.Role = model.Role(role)
		out = append(out, m)
	}
	if err := iter.Close(); err != nil {
		return nil, wrap(err)
	}
	return out, nil
}

// UpsertEnrollment mirrors a roster fact from the enrollment collaborator,
// keeping the by-course and by-user views in step.
func (s *Scylla) UpsertEnrollment(ctx context.Context, e model.Enrollment) error {
	q1 := `INSERT INTO enrollments (course_id, user_id, role, is_active) VALUES (?, ?, ?, ?)`
	if err := s.session.Query(q1, e.CourseID, e.UserID, string(e.Role), e.IsActive).WithContext(ctx).Exec(); err != nil {
		return wrap(err)
	}
	q2 := `INSERT INTO enrollments_by_user (user_id, course_id, role, is_active) VALUES (?, ?, ?, ?)`
	return wrap(s.session.Query(q2, e.UserID, e.CourseID, string(e.Role), e.IsActive).WithContext(ctx).Exec())
}

func (s *Scylla) ActiveEnrollments(ctx context.Context, courseID string) ([]model.Enrollment, error) {
	q := `SELECT course_id, user_id, role, is_active FROM enrollments WHERE course_id = ?`
	iter := s.session.Query(q, courseID).WithContext(ctx).Iter()

	var out []model.Enrollment
	var e model.Enrollment
	var role string
	for iter.Scan(&e.CourseID, &e.UserID, &role, &e.IsActive) {
		if e.IsActive {
			e.Role = model.Role(role)
			out = append(out, e)
		}
	}
	if err := iter.Close(); err != nil {
		return nil, wrap(err)
	}
	return out, nil
}

func (s *Scylla) EnrollmentsForUser(ctx context.Context, userID string) ([]model.Enrollment, error) {
	q := `SELECT course_id, user_id, role, is_active FROM enrollments_by_user WHERE user_id = ?`
	iter := s.session.Query(q, userID).WithContext(ctx).Iter()

	var out []model.Enrollment
	var e model.Enrollment
	var role string
	for iter.Scan(&e.CourseID, &e.UserID, &role, &e.IsActive) {
		e.Role = model.Role(role)
		out = append(out, e)
	}
	if err := iter.Close(); err != nil {
		return nil, wrap(err)
	}
	return out, nil
}

// SharesActiveCourse reports whether the student is actively enrolled in
// any course the teacher actively teaches. Gates private conversation
// creation.
func (s *Scylla) SharesActiveCourse(ctx context.Context, teacherID, studentID string) (bool, error) {
	taught, err := s.EnrollmentsForUser(ctx, teacherID)
	if err != nil {
		return false, err
	}
	courses := make(map[string]bool)
	for _, e := range taught {
		if e.Role == model.RoleTeacher && e.IsActive {
			courses[e.CourseID] = true
		}
	}
	if len(courses) == 0 {
		return false, nil
	}

	enrolled, err := s.EnrollmentsForUser(ctx, studentID)
	if err != nil {
		return false, err
	}
	for _, e := range enrolled {
		if e.IsActive && courses[e.CourseID] {
			return true, nil
		}
	}
	return false, nil
}
