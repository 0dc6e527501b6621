package types

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"
)

func TestMutation_JSONRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		payload MutationPayload
	}{
		{"meal", MealPayload{EntityID: "01JTESTENTITY0000000000000", Meal: Meal{Food: "oatmeal", Calories: 320, Macros: Macros{Protein: 12, Carbs: 55, Fat: 6}}}},
		{"water", WaterPayload{ML: 250}},
		{"task_complete", TaskCompletePayload{TaskID: "task-1", Status: TaskCompleted}},
		{"profile_update", ProfileUpdatePayload{Profile: Profile{Age: 34, DailyCalorieTarget: 2000, DailyWaterTarget: 2500}}},
		{"meal_delete", MealDeletePayload{MealID: "meal-9"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMutation(tt.payload)

			data, err := json.Marshal(m)
			if err != nil {
				t.Fatalf("Marshal failed: %v", err)
			}

			var decoded Mutation
			if err := json.Unmarshal(data, &decoded); err != nil {
				t.Fatalf("Unmarshal failed: %v", err)
			}

			if decoded.Kind != m.Kind {
				t.Errorf("Kind: got %q, want %q", decoded.Kind, m.Kind)
			}
			if !reflect.DeepEqual(decoded.Payload, tt.payload) {
				t.Errorf("Payload: got %#v, want %#v", decoded.Payload, tt.payload)
			}
		})
	}
}

func TestMutation_UnknownKindRejected(t *testing.T) {
	data := []byte(`{"kind":"steps","payload":{"count":4000}}`)

	var m Mutation
	err := json.Unmarshal(data, &m)
	if err == nil {
		t.Fatal("expected error for unknown mutation kind, got nil")
	}
	if !strings.Contains(err.Error(), "unknown mutation kind") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestMutation_Valid(t *testing.T) {
	tests := []struct {
		name string
		m    Mutation
		want bool
	}{
		{"water", NewMutation(WaterPayload{ML: 100}), true},
		{"nil payload", Mutation{Kind: MutationWater}, false},
		{"unknown kind", Mutation{Kind: "steps", Payload: WaterPayload{ML: 100}}, false},
		{"kind/payload mismatch", Mutation{Kind: MutationMeal, Payload: WaterPayload{ML: 100}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.m.Valid(); got != tt.want {
				t.Errorf("Valid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMutation_MarshalMismatchFails(t *testing.T) {
	m := Mutation{Kind: MutationMeal, Payload: WaterPayload{ML: 100}}
	if _, err := json.Marshal(m); err == nil {
		t.Fatal("expected error marshaling mismatched mutation, got nil")
	}
}
