// Package todo holds the to-do record, its validation rules and the storage contract.
package todo

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"todoapp.io/internal/ids"
)

// Status of a to-do item.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
)

// Origin records which realm created an item.
type Origin string

const (
	CreatedByUser    Origin = "USER"
	CreatedByPartner Origin = "PARTNER"
)

const (
	maxTitleLen       = 200
	maxDescriptionLen = 2000
)

var (
	ErrNotFound = errors.New("todo not found")
	ErrInvalid  = errors.New("invalid todo")
)

type validationError struct{ msg string }

func (e *validationError) Error() string        { return e.msg }
func (e *validationError) Is(target error) bool { return target == ErrInvalid }

func invalid(msg string) error { return &validationError{msg: msg} }

// Todo is one item owned by UserID. (UserID, TodoID) is the primary key.
type Todo struct {
	UserID      string    `json:"userId" dynamodbav:"userId"`
	TodoID      string    `json:"todoId" dynamodbav:"todoId"`
	Title       string    `json:"title" dynamodbav:"title"`
	Description string    `json:"description,omitempty" dynamodbav:"description,omitempty"`
	DueDate     string    `json:"dueDate,omitempty" dynamodbav:"dueDate,omitempty"`
	Status      Status    `json:"status" dynamodbav:"status"`
	CreatedAt   time.Time `json:"createdAt" dynamodbav:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt" dynamodbav:"updatedAt"`
	CreatedBy   Origin    `json:"createdBy,omitempty" dynamodbav:"createdBy,omitempty"`
}

// Draft is the caller-supplied part of a new item.
type Draft struct {
	Title       string
	Description string
	DueDate     string
}

// New validates a draft and stamps identity, status and timestamps.
func New(userID string, d Draft, origin Origin, now time.Time) (Todo, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Todo{}, invalid("userId is required")
	}
	title, err := checkTitle(d.Title)
	if err != nil {
		return Todo{}, err
	}
	if err := checkDescription(d.Description); err != nil {
		return Todo{}, err
	}
	due, err := checkDueDate(d.DueDate)
	if err != nil {
		return Todo{}, err
	}
	now = now.UTC()
	return Todo{
		UserID:      userID,
		TodoID:      ids.NewAt(now),
		Title:       title,
		Description: d.Description,
		DueDate:     due,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
		CreatedBy:   origin,
	}, nil
}

// Patch is a partial update. Nil fields are left untouched.
type Patch struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	DueDate     *string `json:"dueDate,omitempty"`
	Status      *Status `json:"status,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.DueDate == nil && p.Status == nil
}

// Normalize validates the patch and returns it with trimmed values.
func (p Patch) Normalize() (Patch, error) {
	if p.Empty() {
		return p, invalid("at least one field must be provided")
	}
	if p.Title != nil {
		title, err := checkTitle(*p.Title)
		if err != nil {
			return p, err
		}
		p.Title = &title
	}
	if p.Description != nil {
		if err := checkDescription(*p.Description); err != nil {
			return p, err
		}
	}
	if p.DueDate != nil {
		due, err := checkDueDate(*p.DueDate)
		if err != nil {
			return p, err
		}
		p.DueDate = &due
	}
	if p.Status != nil && !p.Status.Valid() {
		return p, invalid("status must be PENDING or COMPLETED")
	}
	return p, nil
}

// Apply writes the patch onto t and bumps UpdatedAt.
func (p Patch) Apply(t *Todo, now time.Time) {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.DueDate != nil {
		t.DueDate = *p.DueDate
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	t.UpdatedAt = now.UTC()
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusPending || s == StatusCompleted
}

func checkTitle(title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", invalid("title is required")
	}
	if utf8.RuneCountInString(title) > maxTitleLen {
		return "", invalid("title is too long")
	}
	return title, nil
}

func checkDescription(desc string) error {
	if utf8.RuneCountInString(desc) > maxDescriptionLen {
		return invalid("description is too long")
	}
	return nil
}

// checkDueDate accepts a calendar date or an RFC 3339 timestamp.
func checkDueDate(due string) (string, error) {
	due = strings.TrimSpace(due)
	if due == "" {
		return "", nil
	}
	if _, err := time.Parse(time.DateOnly, due); err == nil {
		return due, nil
	}
	if _, err := time.Parse(time.RFC3339, due); err == nil {
		return due, nil
	}
	return "", invalid("dueDate must be YYYY-MM-DD or RFC 3339")
}

// Store persists to-do items. Every call is scoped to one owner; Get, Update and Delete
// of a missing item return ErrNotFound.
type Store interface {
	Put(ctx context.Context, t Todo) error
	Get(ctx context.Context, userID, todoID string) (Todo, error)
	Update(ctx context.Context, userID, todoID string, patch Patch, now time.Time) (Todo, error)
	Delete(ctx context.Context, userID, todoID string) error
	Query(ctx context.Context, userID string) ([]Todo, error)
	Ping(ctx context.Context) error
}
