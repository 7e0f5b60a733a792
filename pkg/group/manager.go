// Package group keeps a course's discussion group in lock-step with course
// status and enrollment. Every operation is idempotent: membership is
// always re-derived from the authoritative roster, so event ordering
// between enrollment and activation does not matter.
package group

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rmehta/coursetalk/pkg/model"
	"github.com/rmehta/coursetalk/pkg/store"
)

// Store is the durable surface the manager needs; *store.Scylla satisfies it.
type Store interface {
	GroupByCourse(ctx context.Context, courseID string) (*model.DiscussionGroup, error)
	InsertGroup(ctx context.Context, g *model.DiscussionGroup) error
	SetGroupActive(ctx context.Context, courseID string, active bool) error
	Memberships(ctx context.Context, groupID string) ([]model.Membership, error)
	UpsertMembership(ctx context.Context, m model.Membership) error

	InsertConversation(ctx context.Context, c *model.Conversation) error
	SetConversationActive(ctx context.Context, id string, active bool, at time.Time) error
	UpsertParticipant(ctx context.Context, p model.Participant) error
	SetParticipantActive(ctx context.Context, conversationID, userID string, active bool) error
	PrivateConversationID(ctx context.Context, pairKey string) (string, error)

	UpsertEnrollment(ctx context.Context, e model.Enrollment) error
	ActiveEnrollments(ctx context.Context, courseID string) ([]model.Enrollment, error)
}

// Report describes one roster reconciliation. Failures are per-user; a
// failed user never aborts the rest of the batch.
type Report struct {
	CourseID    string      `json:"course_id"`
	GroupID     string      `json:"group_id"`
	Activated   []string    `json:"activated,omitempty"`
	Deactivated []string    `json:"deactivated,omitempty"`
	Failures    []UserError `json:"failures,omitempty"`
}

type UserError struct {
	UserID string `json:"user_id"`
	Err    string `json:"error"`
}

type Manager struct {
	store Store
	log   *zap.Logger
	now   func() time.Time
}

func NewManager(st Store, log *zap.Logger) *Manager {
	return &Manager{store: st, log: log, now: time.Now}
}

// ActivateCourseGroup idempotently ensures an active group with a backing
// group conversation, then reconciles membership against the current
// roster. Calling it N times leaves the same state as calling it once.
func (m *Manager) ActivateCourseGroup(ctx context.Context, courseID string) (*Report, error) {
	g, err := m.store.GroupByCourse(ctx, courseID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		now := m.now()
		conv := &model.Conversation{
			ID:        uuid.NewString(),
			Kind:      model.KindGroup,
			Title:     "Course " + courseID + " discussion",
			CourseID:  courseID,
			IsActive:  true,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := m.store.InsertConversation(ctx, conv); err != nil {
			return nil, err
		}
		g = &model.DiscussionGroup{
			ID:             uuid.NewString(),
			CourseID:       courseID,
			ConversationID: conv.ID,
			IsActive:       true,
		}
		if err := m.store.InsertGroup(ctx, g); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	case !g.IsActive:
		if err := m.store.SetGroupActive(ctx, courseID, true); err != nil {
			return nil, err
		}
		if err := m.store.SetConversationActive(ctx, g.ConversationID, true, m.now()); err != nil {
			return nil, err
		}
		g.IsActive = true
	default:
		// Already active: tolerated no-op, reconciliation still runs.
	}

	return m.reconcile(ctx, g)
}

// reconcile activates a membership per enrolled user and deactivates every
// membership absent from the roster. Applied per-user; failures are
// collected, never fatal to the batch.
func (m *Manager) reconcile(ctx context.Context, g *model.DiscussionGroup) (*Report, error) {
	report := &Report{CourseID: g.CourseID, GroupID: g.ID}

	roster, err := m.store.ActiveEnrollments(ctx, g.CourseID)
	if err != nil {
		return nil, err
	}
	enrolled := make(map[string]model.Role, len(roster))
	for _, e := range roster {
		enrolled[e.UserID] = e.Role
	}

	existing, err := m.store.Memberships(ctx, g.ID)
	if err != nil {
		return nil, err
	}
	current := make(map[string]model.Membership, len(existing))
	for _, mb := range existing {
		current[mb.UserID] = mb
	}

	for userID, role := range enrolled {
		if mb, ok := current[userID]; ok && mb.IsActive {
			continue
		}
		if err := m.linkMember(ctx, g, userID, role, true); err != nil {
			report.Failures = append(report.Failures, UserError{UserID: userID, Err: err.Error()})
			continue
		}
		report.Activated = append(report.Activated, userID)
	}

	for userID, mb := range current {
		if _, ok := enrolled[userID]; ok || !mb.IsActive {
			continue
		}
		if err := m.linkMember(ctx, g, userID, mb.Role, false); err != nil {
			report.Failures = append(report.Failures, UserError{UserID: userID, Err: err.Error()})
			continue
		}
		report.Deactivated = append(report.Deactivated, userID)
	}

	if len(report.Failures) > 0 {
		m.log.Warn("roster reconciliation had per-user failures",
			zap.String("course_id", g.CourseID),
			zap.Int("failed", len(report.Failures)))
	}
	return report, nil
}

func (m *Manager) linkMember(ctx context.Context, g *model.DiscussionGroup, userID string, role model.Role, active bool) error {
	if err := m.store.UpsertMembership(ctx, model.Membership{
		GroupID: g.ID, UserID: userID, Role: role, IsActive: active,
	}); err != nil {
		return err
	}
	return m.store.UpsertParticipant(ctx, model.Participant{
		ConversationID: g.ConversationID, UserID: userID, Role: role, IsActive: active,
	})
}

// DeactivateCourseGroup flips the group and its conversation inactive,
// blocking new sends while preserving history. Memberships are untouched;
// visibility is gated by the group flag.
func (m *Manager) DeactivateCourseGroup(ctx context.Context, courseID string) error {
	g, err := m.store.GroupByCourse(ctx, courseID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := m.store.SetGroupActive(ctx, courseID, false); err != nil {
		return err
	}
	return m.store.SetConversationActive(ctx, g.ConversationID, false, m.now())
}

// EnrollUser records the enrollment and, when the group is already active,
// links the member immediately. When it is not, the link is deferred: the
// next ActivateCourseGroup re-derives membership from the roster, so the
// ordering of enrollment and activation cannot strand a user.
func (m *Manager) EnrollUser(ctx context.Context, courseID, userID string, role model.Role) error {
	if err := m.store.UpsertEnrollment(ctx, model.Enrollment{
		CourseID: courseID, UserID: userID, Role: role, IsActive: true,
	}); err != nil {
		return err
	}

	g, err := m.store.GroupByCourse(ctx, courseID)
	if errors.Is(err, store.ErrNotFound) {
		m.log.Info("enrollment recorded before group exists, deferring link",
			zap.String("course_id", courseID), zap.String("user_id", userID))
		return nil
	}
	if err != nil {
		return err
	}
	if !g.IsActive {
		m.log.Info("group inactive, deferring member link",
			zap.String("course_id", courseID), zap.String("user_id", userID))
		return nil
	}
	return m.linkMember(ctx, g, userID, role, true)
}

// UnenrollUser deactivates the enrollment, the membership, and the user's
// participant rows in private conversations with the course's teachers.
// Nothing is deleted; history stays queryable by the remaining party.
func (m *Manager) UnenrollUser(ctx context.Context, courseID, userID string) error {
	teachers, err := m.courseTeachers(ctx, courseID)
	if err != nil {
		return err
	}

	if err := m.store.UpsertEnrollment(ctx, model.Enrollment{
		CourseID: courseID, UserID: userID, IsActive: false,
	}); err != nil {
		return err
	}

	g, err := m.store.GroupByCourse(ctx, courseID)
	if err == nil {
		if err := m.store.UpsertMembership(ctx, model.Membership{
			GroupID: g.ID, UserID: userID, IsActive: false,
		}); err != nil {
			return err
		}
		if err := m.store.SetParticipantActive(ctx, g.ConversationID, userID, false); err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	for _, teacherID := range teachers {
		if teacherID == userID {
			continue
		}
		convID, err := m.store.PrivateConversationID(ctx, model.PrivatePairKey(teacherID, userID))
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if err := m.store.SetParticipantActive(ctx, convID, userID, false); err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
	}
	return nil
}

// CourseParticipants lists the active members of a course's group, the set
// eligible for a new private conversation.
func (m *Manager) CourseParticipants(ctx context.Context, courseID string) ([]model.Membership, error) {
	g, err := m.store.GroupByCourse(ctx, courseID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	members, err := m.store.Memberships(ctx, g.ID)
	if err != nil {
		return nil, err
	}
	active := members[:0]
	for _, mb := range members {
		if mb.IsActive {
			active = append(active, mb)
		}
	}
	return active, nil
}

func (m *Manager) courseTeachers(ctx context.Context, courseID string) ([]string, error) {
	roster, err := m.store.ActiveEnrollments(ctx, courseID)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range roster {
		if e.Role == model.RoleTeacher {
			out = append(out, e.UserID)
		}
	}
	return out, nil
}
