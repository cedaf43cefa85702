package emit

import (
	"fmt"
	"sync"
	"testing"
)

func TestBufferedEmitterHistory(t *testing.T) {
	b := NewBufferedEmitter()

	b.Emit(Event{RunID: "run-1", Step: 1, NodeID: "a", Msg: "node_completed"})
	b.Emit(Event{RunID: "run-1", Step: 2, NodeID: "b", Msg: "node_completed"})
	b.Emit(Event{RunID: "run-2", Step: 1, NodeID: "a", Msg: "node_completed"})

	got := b.GetHistory("run-1")
	if len(got) != 2 || got[0].NodeID != "a" || got[1].NodeID != "b" {
		t.Errorf("history = %+v", got)
	}
	if len(b.GetHistory("run-2")) != 1 {
		t.Errorf("run-2 history = %+v", b.GetHistory("run-2"))
	}
	if got := b.GetHistory("unknown"); got == nil || len(got) != 0 {
		t.Errorf("unknown run should yield an empty slice, got %v", got)
	}

	// The returned slice is a copy.
	got[0].Msg = "mutated"
	if b.GetHistory("run-1")[0].Msg != "node_completed" {
		t.Error("caller mutation leaked into the buffer")
	}
}

func TestBufferedEmitterFilter(t *testing.T) {
	b := NewBufferedEmitter()
	b.Emit(Event{RunID: "r", Step: 1, NodeID: "a", Msg: "node_completed"})
	b.Emit(Event{RunID: "r", Step: 2, NodeID: "b", Msg: "node_suspended"})
	b.Emit(Event{RunID: "r", Step: 2, NodeID: "", Msg: "run_suspended"})
	b.Emit(Event{RunID: "r", Step: 3, NodeID: "b", Msg: "node_completed"})

	min, max := 2, 2

	cases := []struct {
		name   string
		filter HistoryFilter
		want   int
	}{
		{"no filter", HistoryFilter{}, 4},
		{"by msg", HistoryFilter{Msg: "node_completed"}, 2},
		{"by node", HistoryFilter{NodeID: "b"}, 2},
		{"by step range", HistoryFilter{MinStep: &min, MaxStep: &max}, 2},
		{"combined", HistoryFilter{NodeID: "b", Msg: "node_completed"}, 1},
		{"no match", HistoryFilter{Msg: "run_failed"}, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := b.GetHistoryWithFilter("r", tc.filter)
			if got == nil {
				t.Fatal("filter returned nil")
			}
			if len(got) != tc.want {
				t.Errorf("matched %d events, want %d: %+v", len(got), tc.want, got)
			}
		})
	}
}

func TestBufferedEmitterClear(t *testing.T) {
	b := NewBufferedEmitter()
	b.Emit(Event{RunID: "r1", Msg: "run_started"})
	b.Emit(Event{RunID: "r2", Msg: "run_started"})

	b.Clear("r1")
	if len(b.GetHistory("r1")) != 0 {
		t.Error("r1 not cleared")
	}
	if len(b.GetHistory("r2")) != 1 {
		t.Error("r2 cleared by mistake")
	}

	b.Clear("")
	if len(b.GetHistory("r2")) != 0 {
		t.Error("clear-all left events behind")
	}
}

func TestBufferedEmitterConcurrent(t *testing.T) {
	b := NewBufferedEmitter()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			runID := fmt.Sprintf("run-%d", i%2)
			for j := 0; j < 50; j++ {
				b.Emit(Event{RunID: runID, Step: j, Msg: "node_completed"})
				_ = b.GetHistory(runID)
			}
		}(i)
	}
	wg.Wait()

	total := len(b.GetHistory("run-0")) + len(b.GetHistory("run-1"))
	if total != 400 {
		t.Errorf("stored %d events, want 400", total)
	}
}
