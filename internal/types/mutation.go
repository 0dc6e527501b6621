package types

import (
	"encoding/json"
	"fmt"
)

// MutationKind discriminates the tagged union of pending mutations.
type MutationKind string

const (
	MutationMeal          MutationKind = "meal"
	MutationWater         MutationKind = "water"
	MutationTaskComplete  MutationKind = "task_complete"
	MutationProfileUpdate MutationKind = "profile_update"
	MutationMealDelete    MutationKind = "meal_delete"
)

// MutationPayload is implemented by every concrete mutation payload.
type MutationPayload interface {
	Kind() MutationKind
}

// MealPayload creates a meal on the server from a buffered offline entity.
// EntityID references the OfflineEntity that owns the captured record.
type MealPayload struct {
	EntityID string `json:"entity_id"`
	Meal     Meal   `json:"meal"`
}

func (MealPayload) Kind() MutationKind { return MutationMeal }

// WaterPayload adds water intake to today's log.
type WaterPayload struct {
	ML int `json:"ml"`
}

func (WaterPayload) Kind() MutationKind { return MutationWater }

// TaskCompletePayload updates the status of a burn task.
type TaskCompletePayload struct {
	TaskID string     `json:"task_id"`
	Status TaskStatus `json:"status"`
}

func (TaskCompletePayload) Kind() MutationKind { return MutationTaskComplete }

// ProfileUpdatePayload replaces the user's profile.
type ProfileUpdatePayload struct {
	Profile Profile `json:"profile"`
}

func (ProfileUpdatePayload) Kind() MutationKind { return MutationProfileUpdate }

// MealDeletePayload deletes a meal that already reached the server.
type MealDeletePayload struct {
	MealID string `json:"meal_id"`
}

func (MealDeletePayload) Kind() MutationKind { return MutationMealDelete }

// Mutation is the tagged wire form of a pending write. The payload type is
// fixed by Kind; decoding an unrecognized kind fails rather than carrying
// opaque data through to flush time.
type Mutation struct {
	Kind    MutationKind    `json:"kind"`
	Payload MutationPayload `json:"-"`
}

// NewMutation wraps a typed payload in its envelope.
func NewMutation(p MutationPayload) Mutation {
	return Mutation{Kind: p.Kind(), Payload: p}
}

type mutationEnvelope struct {
	Kind    MutationKind    `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// MarshalJSON implements json.Marshaler.
func (m Mutation) MarshalJSON() ([]byte, error) {
	if m.Payload == nil {
		return nil, fmt.Errorf("mutation %q has no payload", m.Kind)
	}
	if m.Payload.Kind() != m.Kind {
		return nil, fmt.Errorf("mutation kind %q does not match payload kind %q", m.Kind, m.Payload.Kind())
	}
	raw, err := json.Marshal(m.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(mutationEnvelope{Kind: m.Kind, Payload: raw})
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *Mutation) UnmarshalJSON(data []byte) error {
	var env mutationEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}

	var payload MutationPayload
	switch env.Kind {
	case MutationMeal:
		payload = &MealPayload{}
	case MutationWater:
		payload = &WaterPayload{}
	case MutationTaskComplete:
		payload = &TaskCompletePayload{}
	case MutationProfileUpdate:
		payload = &ProfileUpdatePayload{}
	case MutationMealDelete:
		payload = &MealDeletePayload{}
	default:
		return fmt.Errorf("unknown mutation kind %q", env.Kind)
	}

	if err := json.Unmarshal(env.Payload, payload); err != nil {
		return fmt.Errorf("decode %s payload: %w", env.Kind, err)
	}

	m.Kind = env.Kind
	m.Payload = derefPayload(payload)
	return nil
}

// derefPayload normalizes the decoded pointer back to the value form used
// everywhere else, so round-tripped mutations compare equal.
func derefPayload(p MutationPayload) MutationPayload {
	switch v := p.(type) {
	case *MealPayload:
		return *v
	case *WaterPayload:
		return *v
	case *TaskCompletePayload:
		return *v
	case *ProfileUpdatePayload:
		return *v
	case *MealDeletePayload:
		return *v
	default:
		return p
	}
}

// Valid reports whether the mutation carries a known kind with a matching
// payload. The queue rejects invalid mutations at enqueue time.
func (m Mutation) Valid() bool {
	if m.Payload == nil {
		return false
	}
	switch m.Kind {
	case MutationMeal, MutationWater, MutationTaskComplete, MutationProfileUpdate, MutationMealDelete:
		return m.Payload.Kind() == m.Kind
	default:
		return false
	}
}
