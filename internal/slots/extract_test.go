package slots_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"home-orchestrator/internal/domain"
	"home-orchestrator/internal/slots"
)

func event(slotMap map[string][]any) domain.IntentEvent {
	return domain.IntentEvent{Name: "test", SessionID: "s1", Slots: slotMap}
}

func intPtr(v int) *int { return &v }

func TestExtractor_Rooms(t *testing.T) {
	x := slots.NewExtractor(slots.DefaultNames())

	rooms := x.Rooms(event(map[string][]any{"house_room": {"kitchen", "den"}}))
	assert.Equal(t, domain.RoomSet{"kitchen", "den"}, rooms)

	empty := x.Rooms(event(nil))
	assert.True(t, empty.All())
	assert.Len(t, empty, 0)
}

func TestExtractor_RoomsSkipsMalformedValues(t *testing.T) {
	x := slots.NewExtractor(slots.DefaultNames())

	rooms := x.Rooms(event(map[string][]any{
		"house_room": {"kitchen", nil, []any{"x"}, map[string]any{"value": "den"}, "  "},
	}))
	assert.Equal(t, domain.RoomSet{"kitchen", "den"}, rooms)
}

func TestExtractor_PercentageClamps(t *testing.T) {
	x := slots.NewExtractor(slots.DefaultNames())

	tests := []struct {
		name  string
		value any
		want  int
	}{
		{"negative", -5.0, 0},
		{"above range", 150.0, 100},
		{"in range", 42.0, 42},
		{"integer", 70, 70},
		{"string", "35", 35},
		{"percent string", "80%", 80},
		{"json number", json.Number("12"), 12},
		{"wrapped", map[string]any{"kind": "Percentage", "value": 55.0}, 55},
		{"beyond int64", 1e19, 100},
		{"huge", 1e30, 100},
		{"huge string", "1e30", 100},
		{"huge negative", -1e30, 0},
		{"rounds below top", 99.6, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := x.Percentage(event(map[string][]any{"percent": {tt.value}}), nil)
			require.NotNil(t, got)
			assert.Equal(t, tt.want, *got)
		})
	}
}

func TestExtractor_PercentageDefault(t *testing.T) {
	x := slots.NewExtractor(slots.DefaultNames())

	assert.Nil(t, x.Percentage(event(nil), nil))

	def := intPtr(100)
	assert.Same(t, def, x.Percentage(event(nil), def))
	assert.Same(t, def, x.Percentage(event(map[string][]any{"percent": {"bright"}}), def))
}

func TestExtractor_ColorAndAnswer(t *testing.T) {
	x := slots.NewExtractor(slots.DefaultNames())
	ev := event(map[string][]any{
		"color":  {"blue", "red"},
		"answer": {"yes"},
	})

	color, ok := x.Color(ev)
	assert.True(t, ok)
	assert.Equal(t, "blue", color)

	answer, ok := x.Answer(ev)
	assert.True(t, ok)
	assert.Equal(t, "yes", answer)

	_, ok = x.Color(event(map[string][]any{"color": {}}))
	assert.False(t, ok)
}

func TestExtractor_CustomSlotNames(t *testing.T) {
	x := slots.NewExtractor(slots.Names{Room: "room"})
	ev := event(map[string][]any{"room": {"bedroom"}, "color": {"green"}})

	assert.Equal(t, domain.RoomSet{"bedroom"}, x.Rooms(ev))
	color, ok := x.Color(ev)
	assert.True(t, ok)
	assert.Equal(t, "green", color)
}
