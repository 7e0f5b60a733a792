package main

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/rmehta/coursetalk/pkg/group"
	"github.com/rmehta/coursetalk/pkg/model"
)

// Lifecycle is the slice of the group manager the consumer drives.
type Lifecycle interface {
	ActivateCourseGroup(ctx context.Context, courseID string) (*group.Report, error)
	DeactivateCourseGroup(ctx context.Context, courseID string) error
	EnrollUser(ctx context.Context, courseID, userID string, role model.Role) error
	UnenrollUser(ctx context.Context, courseID, userID string) error
}

// Consumer feeds enrollment/course-status events from the collaborator
// topic into the group lifecycle manager.
type Consumer struct {
	reader *kafka.Reader
	groups Lifecycle
	log    *zap.Logger
}

func NewConsumer(brokers []string, topic, groupID string, groups Lifecycle, log *zap.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3,
		MaxBytes: 10e6,
	})
	return &Consumer{reader: r, groups: groups, log: log}
}

func (c *Consumer) Consume(ctx context.Context) error {
	for {
		m, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Warn("error reading roster event, retrying", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}

		var ev model.RosterEvent
		if err := json.Unmarshal(m.Value, &ev); err != nil {
			c.log.Warn("dropping malformed roster event", zap.Error(err))
			continue
		}
		c.handle(ctx, ev)
	}
}

// handle applies one roster event. Every lifecycle operation is
// idempotent, so redelivery by the broker is harmless.
func (c *Consumer) handle(ctx context.Context, ev model.RosterEvent) {
	var err error
	switch ev.Type {
	case model.RosterEnrolled:
		err = c.groups.EnrollUser(ctx, ev.CourseID, ev.UserID, ev.Role)
	case model.RosterUnenrolled:
		err = c.groups.UnenrollUser(ctx, ev.CourseID, ev.UserID)
	case model.RosterStatusChanged:
		if strings.EqualFold(ev.Status, "ACTIVE") {
			var report *group.Report
			report, err = c.groups.ActivateCourseGroup(ctx, ev.CourseID)
			if err == nil && len(report.Failures) > 0 {
				for _, f := range report.Failures {
					c.log.Warn("member reconciliation failed",
						zap.String("course_id", ev.CourseID),
						zap.String("user_id", f.UserID),
						zap.String("error", f.Err))
				}
			}
		} else {
			err = c.groups.DeactivateCourseGroup(ctx, ev.CourseID)
		}
	default:
		c.log.Warn("unknown roster event type", zap.String("type", string(ev.Type)))
		return
	}
	if err != nil {
		c.log.Error("roster event failed",
			zap.String("type", string(ev.Type)),
			zap.String("course_id", ev.CourseID),
			zap.Error(err))
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
