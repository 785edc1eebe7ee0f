// Package scheduler runs the periodic jobs: calendar reminders and overdue
// task notices.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"taskflow/config"
	"taskflow/database"
	"taskflow/logger"
	"taskflow/mailer"
	"taskflow/metrics"
	"taskflow/models"
	"taskflow/notifier"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

const (
	JobEventReminders = "event_reminders"
	JobOverdueTasks   = "overdue_tasks"

	jobTimeout = 2 * time.Minute
	batchSize  = 200
)

// Notifier is the part of notifier.Notifier the jobs use.
type Notifier interface {
	Notify(ctx context.Context, req notifier.Request) (*models.Notification, error)
}

type Scheduler struct {
	cron     *cron.Cron
	notifier Notifier
	log      *logger.Logger
	now      func() time.Time
}

func New(cfg *config.Config, n Notifier, log *logger.Logger) (*Scheduler, error) {
	s := &Scheduler{
		notifier: n,
		log:      log,
		now:      time.Now,
	}
	cl := cronLogger{log}
	s.cron = cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))

	if _, err := s.cron.AddFunc(cfg.ReminderSchedule, s.job(JobEventReminders, s.SendEventReminders)); err != nil {
		return nil, fmt.Errorf("schedule %s: %w", JobEventReminders, err)
	}
	if _, err := s.cron.AddFunc(cfg.OverdueSchedule, s.job(JobOverdueTasks, s.NotifyOverdueTasks)); err != nil {
		return nil, fmt.Errorf("schedule %s: %w", JobOverdueTasks, err)
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("Scheduler started", "jobs", len(s.cron.Entries()))
}

// Stop waits for running jobs to finish or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) job(name string, run func(context.Context) (int, error)) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()

		start := time.Now()
		n, err := run(ctx)
		metrics.RecordJobRun(name, err == nil)
		if err != nil {
			s.log.Error("Scheduled job failed", "job", name, "error", err)
			return
		}
		if n > 0 {
			s.log.Info("Scheduled job finished", "job", name, "processed", n, "duration", time.Since(start))
		}
	}
}

// SendEventReminders notifies the creator and the linked task's assignee of
// every event whose reminder time has passed. Each event is claimed with a
// conditional update first so concurrent runs never remind twice.
func (s *Scheduler) SendEventReminders(ctx context.Context) (int, error) {
	now := s.now()
	db := database.GetDB().WithContext(ctx)

	var events []models.CalendarEvent
	err := db.Where("reminder_minutes IS NOT NULL AND reminder_sent = ? AND start_time > ?", false, now).
		Where("start_time - make_interval(mins => reminder_minutes) <= ?", now).
		Order("start_time").
		Limit(batchSize).
		Find(&events).Error
	if err != nil {
		return 0, err
	}

	sent := 0
	for i := range events {
		event := &events[i]
		if !event.ReminderDue(now) {
			continue
		}

		res := db.Model(&models.CalendarEvent{}).
			Where("id = ? AND reminder_sent = ?", event.ID, false).
			Update("reminder_sent", true)
		if res.Error != nil {
			return sent, res.Error
		}
		if res.RowsAffected == 0 {
			continue
		}

		recipients := []uuid.UUID{}
		if event.CreatedBy != nil {
			recipients = append(recipients, *event.CreatedBy)
		}
		if event.TaskID != nil {
			var task models.Task
			if err := db.Select("id", "assignee_id").First(&task, "id = ?", *event.TaskID).Error; err == nil && task.AssigneeID != nil {
				recipients = append(recipients, *task.AssigneeID)
			}
		}

		for _, userID := range unique(recipients) {
			id := event.ID
			_, err := s.notifier.Notify(ctx, notifier.Request{
				UserID:     userID,
				Type:       models.NotificationEventReminder,
				Title:      "Upcoming: " + event.Title,
				Message:    fmt.Sprintf("%s starts at %s", event.Title, event.StartTime.UTC().Format(time.RFC3339)),
				EntityType: "calendar_event",
				EntityID:   &id,
				Email: &notifier.Email{
					Subject:  "Reminder: " + event.Title,
					Template: mailer.TemplateEventReminder,
					Data: mailer.EventReminderData{
						Title:       event.Title,
						Description: event.Description,
						Location:    event.Location,
						StartTime:   event.StartTime,
					},
				},
			})
			if err != nil {
				s.log.Error("Failed to send event reminder", "event_id", event.ID, "user_id", userID, "error", err)
			}
		}
		sent++
	}
	return sent, nil
}

// NotifyOverdueTasks tells assignees about open tasks past their due date,
// once per task.
func (s *Scheduler) NotifyOverdueTasks(ctx context.Context) (int, error) {
	now := s.now()
	db := database.GetDB().WithContext(ctx)

	var tasks []models.Task
	err := db.Where("due_date < ? AND overdue_notified_at IS NULL AND assignee_id IS NOT NULL", now).
		Where("status NOT IN ?", []models.TaskStatus{models.TaskStatusDone, models.TaskStatusCancelled}).
		Order("due_date").
		Limit(batchSize).
		Find(&tasks).Error
	if err != nil {
		return 0, err
	}

	notified := 0
	for i := range tasks {
		task := &tasks[i]
		if !task.IsOverdue(now) || task.AssigneeID == nil {
			continue
		}

		res := db.Model(&models.Task{}).
			Where("id = ? AND overdue_notified_at IS NULL", task.ID).
			Update("overdue_notified_at", now)
		if res.Error != nil {
			return notified, res.Error
		}
		if res.RowsAffected == 0 {
			continue
		}

		id := task.ID
		_, err := s.notifier.Notify(ctx, notifier.Request{
			UserID:     *task.AssigneeID,
			Type:       models.NotificationTaskOverdue,
			Title:      "Task overdue: " + task.Title,
			Message:    fmt.Sprintf("%s was due %s", task.Title, task.DueDate.UTC().Format("2006-01-02")),
			EntityType: "task",
			EntityID:   &id,
			Email: &notifier.Email{
				Subject:  "Task overdue: " + task.Title,
				Template: mailer.TemplateTaskOverdue,
				Data: mailer.TaskOverdueData{
					TaskTitle: task.Title,
					Status:    string(task.Status),
					DueDate:   *task.DueDate,
				},
			},
		})
		if err != nil {
			s.log.Error("Failed to send overdue notice", "task_id", task.ID, "error", err)
			continue
		}
		notified++
	}
	return notified, nil
}

func unique(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// cronLogger routes cron's own logging through zap.
type cronLogger struct {
	log *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
