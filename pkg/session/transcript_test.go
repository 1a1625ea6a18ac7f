package session

import "testing"

func TestTranscriptAccumulator(t *testing.T) {
	var changes int
	a := NewTranscriptAccumulator(func(user, model string) { changes++ })

	a.AppendUser("hel")
	a.AppendUser("lo")
	a.AppendModel("hi there")

	user, model := a.Snapshot()
	if user != "hello" || model != "hi there" {
		t.Fatalf("snapshot = (%q, %q)", user, model)
	}

	a.Clear()
	user, model = a.Snapshot()
	if user != "" || model != "" {
		t.Fatalf("after Clear snapshot = (%q, %q), want empty pair", user, model)
	}
	if changes != 4 {
		t.Fatalf("onChange fired %d times, want 4", changes)
	}
}
