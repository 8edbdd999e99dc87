package copilot

import (
	"fmt"
	"sync"
	"testing"

	"github.com/jholhewres/observer/pkg/observer/transcript"
)

func TestChannelState_SnapshotIsIndependent(t *testing.T) {
	t.Parallel()

	s := NewChannelState(10)
	s.Add(transcript.UserTurn("1", transcript.Text("a")))

	snap := s.Snapshot()
	snap.Add(transcript.AssistantTurn("private"))
	s.Add(transcript.UserTurn("2", transcript.Text("b")))

	if snap.Len() != 2 || s.Len() != 2 {
		t.Fatalf("snapshot=%d state=%d, want 2/2", snap.Len(), s.Len())
	}
	if snap.Turns()[1].Role != transcript.RoleAssistant {
		t.Error("snapshot should keep its own turns")
	}
	if s.Turns()[1].PlainText() != "b" {
		t.Error("state should not see snapshot turns")
	}
}

func TestChannelState_EvictsOldest(t *testing.T) {
	t.Parallel()

	s := NewChannelState(3)
	for i := range 5 {
		s.Add(transcript.UserTurn("1", transcript.Text(fmt.Sprint(i))))
	}
	turns := s.Turns()
	if len(turns) != 3 || turns[0].PlainText() != "2" || turns[2].PlainText() != "4" {
		t.Errorf("turns = %+v", turns)
	}

	s.Clear()
	if s.Len() != 0 {
		t.Errorf("Len() after Clear = %d", s.Len())
	}
}

func TestChannelStates(t *testing.T) {
	t.Parallel()

	states := NewChannelStates(4)

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			key := fmt.Sprintf("discord:%d", i%2)
			states.Get(key).Add(transcript.UserTurn("1", transcript.Text("x")))
		}()
	}
	wg.Wait()

	if states.Len() != 2 {
		t.Errorf("Len() = %d, want 2", states.Len())
	}
	if states.Get("discord:0") != states.Get("discord:0") {
		t.Error("Get should return the same state for a key")
	}
	if n := states.Get("discord:1").Len(); n != 4 {
		t.Errorf("state capped at %d, want 4", n)
	}
}
