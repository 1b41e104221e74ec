package scheduling

import (
	"encoding/json"
	"testing"
	"time"
)

func TestParseTimeOfDay(t *testing.T) {
	tests := []struct {
		in      string
		want    TimeOfDay
		wantErr bool
	}{
		{"09:00", NewTimeOfDay(9, 0), false},
		{"9:30", NewTimeOfDay(9, 30), false},
		{"23:59", NewTimeOfDay(23, 59), false},
		{"14:15:00", NewTimeOfDay(14, 15), false},
		{" 08:05 ", NewTimeOfDay(8, 5), false},
		{"24:00", 0, true},
		{"12:60", 0, true},
		{"12:5", 0, true},
		{"12:00:30", 0, true},
		{"noon", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTimeOfDay(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseTimeOfDay(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseTimeOfDay(%q) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestTimeOfDay_JSON(t *testing.T) {
	r := Rule{StartTime: NewTimeOfDay(9, 0), EndTime: NewTimeOfDay(17, 30), SlotDurationMinutes: 30}
	b, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := `{"start_time":"09:00","end_time":"17:30","slot_duration_minutes":30,"is_available":false}`
	if string(b) != want {
		t.Errorf("got %s, want %s", b, want)
	}

	var back Rule
	if err := json.Unmarshal([]byte(`{"start_time":"08:15","end_time":"12:00:00","break_start_time":"10:00","break_end_time":"10:15"}`), &back); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if back.StartTime != NewTimeOfDay(8, 15) || back.EndTime != NewTimeOfDay(12, 0) {
		t.Errorf("unexpected times %s-%s", back.StartTime, back.EndTime)
	}
	if back.BreakStartTime == nil || *back.BreakStartTime != NewTimeOfDay(10, 0) {
		t.Error("expected break start to decode")
	}

	if err := json.Unmarshal([]byte(`{"start_time":"8am"}`), &back); err == nil {
		t.Error("expected error for malformed time")
	}
}

func TestTimeOfDay_On(t *testing.T) {
	loc := time.FixedZone("clinic", 2*60*60)
	date := time.Date(2024, 3, 13, 0, 0, 0, 0, time.UTC)
	got := NewTimeOfDay(9, 30).On(date, loc)
	want := time.Date(2024, 3, 13, 9, 30, 0, 0, loc)
	if !got.Equal(want) {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestPGTimeConversion(t *testing.T) {
	in := NewTimeOfDay(13, 45)
	if back := fromPGTime(pgTime(in)); back != in {
		t.Errorf("round trip gave %s, want %s", back, in)
	}
	if pgTimePtr(nil).Valid {
		t.Error("expected nil time to map to NULL")
	}
	if fromPGTimePtr(pgTimePtr(nil)) != nil {
		t.Error("expected NULL to map back to nil")
	}
}

func TestSpecialSchedule_JSONDate(t *testing.T) {
	sp := SpecialSchedule{Date: time.Date(2024, 12, 25, 0, 0, 0, 0, time.UTC), Type: SpecialHoliday}
	b, err := json.Marshal(sp)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var m map[string]interface{}
	json.Unmarshal(b, &m)
	if m["date"] != "2024-12-25" {
		t.Errorf("expected date field, got %v", m["date"])
	}

	var back SpecialSchedule
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !back.Date.Equal(sp.Date) || back.Type != SpecialHoliday {
		t.Errorf("unexpected decode %+v", back)
	}
}

func TestParseSpecialType(t *testing.T) {
	for _, in := range []string{"custom_hours", "customHours", "CustomHours"} {
		if got, ok := ParseSpecialType(in); !ok || got != SpecialCustomHours {
			t.Errorf("ParseSpecialType(%q) = %q, %v", in, got, ok)
		}
	}
	if _, ok := ParseSpecialType("sick-day"); ok {
		t.Error("expected unknown type to be rejected")
	}
}

func TestMessage(t *testing.T) {
	if got := Message(notFoundf("template not found")); got != "template not found" {
		t.Errorf("got %q", got)
	}
	if got := Message(storageErr("list", errTest)); got == errTest.Error() {
		t.Error("expected storage details to be hidden")
	}
}

var errTest = &testError{"pq: connection refused"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }
