package action

import "testing"

func TestMakeCreateCountMatchesRange(t *testing.T) {
	d := MakeCreate(2, 9, 100)
	if d.Count != 7 {
		t.Errorf("Count = %d, want 7 (end-start)", d.Count)
	}
	if d.Type != Create || d.SessionsStart != 2 || d.SessionsEnd != 9 || d.OffsetMS != 100 {
		t.Errorf("unexpected descriptor: %+v", d)
	}
}

func TestMakeDrainStoresTimeoutInCount(t *testing.T) {
	d := MakeDrain(0, 4, 250, 500)
	if d.Count != 250 {
		t.Errorf("Count = %d, want 250 (drain timeout ms)", d.Count)
	}
}

func TestMakeSendStoresCopiesNotAPayloadReference(t *testing.T) {
	d := MakeSend(0, 4, 3, 10)
	if d.Count != 3 {
		t.Errorf("Count = %d, want 3 (copies)", d.Count)
	}
}

func TestDescriptorStringIncludesTypeAndRange(t *testing.T) {
	d := MakeFlood(1, 5, 20)
	got := d.String()
	want := "FLOOD[1:5) count=0 offset=20ms"
	if got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
