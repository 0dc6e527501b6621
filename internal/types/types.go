// Package types holds the domain model shared across the FitFlow client:
// the application entities mirrored from the remote API plus the offline
// write-path records (buffered entities and queued mutations).
package types

import (
	"time"
)

// Identity identifies the signed-in user.
type Identity struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

// Profile holds the user's nutrition profile.
type Profile struct {
	Age                int      `json:"age,omitempty"`
	Gender             string   `json:"gender,omitempty"`
	Weight             float64  `json:"weight,omitempty"`
	Height             float64  `json:"height,omitempty"`
	MedicalConditions  []string `json:"medical_conditions,omitempty"`
	Allergies          []string `json:"allergies,omitempty"`
	Preferences        []string `json:"preferences,omitempty"`
	TargetGoal         string   `json:"target_goal,omitempty"`
	DailyCalorieTarget int      `json:"daily_calorie_target"`
	DailyWaterTarget   int      `json:"daily_water_target"`
}

// DailyLog aggregates a single day's intake and activity.
type DailyLog struct {
	Date        string `json:"date"`
	CaloriesIn  int    `json:"calories_in"`
	CaloriesOut int    `json:"calories_out"`
	WaterML     int    `json:"water_ml"`
	Steps       int    `json:"steps"`
}

// Macros is the macro-nutrient breakdown of a meal in grams.
type Macros struct {
	Protein int `json:"p"`
	Carbs   int `json:"c"`
	Fat     int `json:"f"`
}

// Meal is a single logged meal.
type Meal struct {
	ID         string    `json:"id,omitempty"`
	Food       string    `json:"food"`
	Calories   int       `json:"calories"`
	Macros     Macros    `json:"macros"`
	PlateGrade string    `json:"plate_grade,omitempty"`
	Source     string    `json:"source,omitempty"`
	LoggedAt   time.Time `json:"logged_at"`
}

// TaskStatus is the lifecycle state of a burn task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskCompleted TaskStatus = "completed"
	TaskSkipped   TaskStatus = "skipped"
)

// Task is a suggested burn activity tied to a logged meal.
type Task struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Minutes     int        `json:"time"`
	Calories    int        `json:"calories"`
	DistanceKM  float64    `json:"distance,omitempty"`
	Steps       int        `json:"steps,omitempty"`
	Status      TaskStatus `json:"status"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// EntityKind classifies how an offline entity was captured.
type EntityKind string

const (
	EntityPhoto EntityKind = "photo"
	EntityText  EntityKind = "text"
	EntityVoice EntityKind = "voice"
)

// SyncState tracks whether a buffered entity has reached the server.
// Transitions only Pending -> Synced, never backward.
type SyncState string

const (
	SyncPending SyncState = "pending"
	SyncSynced  SyncState = "synced"
)

// OfflineEntity is a user-captured record held durably until it syncs and
// ages out. The ID is client-generated and doubles as the idempotency key
// for the mutation that carries it to the server.
type OfflineEntity struct {
	ID         string     `json:"id"`
	Kind       EntityKind `json:"kind"`
	Meal       Meal       `json:"meal"`
	ImageURI   string     `json:"image_uri,omitempty"`
	CapturedAt time.Time  `json:"captured_at"`
	SyncState  SyncState  `json:"sync_state"`
}

// QueueItem is one pending mutation in the sync queue.
type QueueItem struct {
	ID             string    `json:"id"`
	Mutation       Mutation  `json:"mutation"`
	EnqueuedAt     time.Time `json:"enqueued_at"`
	RetryCount     int       `json:"retry_count"`
	NextEligibleAt time.Time `json:"next_eligible_at"`
}

// DeadLetter is a queue item that exhausted its retry budget or was
// rejected outright. It is kept for user acknowledgment, not retried.
type DeadLetter struct {
	QueueItem
	Reason         string    `json:"reason"`
	DeadLetteredAt time.Time `json:"dead_lettered_at"`
}
