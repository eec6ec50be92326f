package checkpoint

import "testing"

func TestSourceCheckpointTryApplyAdvances(t *testing.T) {
	sc := SourceCheckpoint{}
	delta, err := NewDelta(map[PartitionID]PartitionDelta{
		"0": {From: "", To: "100"},
		"1": {From: "", To: "50"},
	})
	if err != nil {
		t.Fatalf("NewDelta: %v", err)
	}
	if err := sc.TryApply(delta, SortedPartitions(delta)); err != nil {
		t.Fatalf("TryApply: %v", err)
	}
	if sc.Position("0") != "100" || sc.Position("1") != "50" {
		t.Fatalf("unexpected checkpoint after apply: %+v", sc)
	}
}

func TestSourceCheckpointTryApplyRejectsMismatch(t *testing.T) {
	sc := SourceCheckpoint{"0": "100"}
	delta, err := NewDelta(map[PartitionID]PartitionDelta{"0": {From: "150", To: "200"}})
	if err != nil {
		t.Fatalf("NewDelta: %v", err)
	}
	err = sc.TryApply(delta, SortedPartitions(delta))
	cpErr, ok := err.(*Error)
	if !ok {
		t.Fatalf("expected *Error, got %T (%v)", err, err)
	}
	if cpErr.Partition != "0" || cpErr.Expected != "100" || cpErr.Actual != "150" {
		t.Fatalf("unexpected error detail: %+v", cpErr)
	}
	// A rejected apply must not mutate the checkpoint.
	if sc.Position("0") != "100" {
		t.Fatalf("TryApply mutated checkpoint on failure: %+v", sc)
	}
}

func TestSourceCheckpointTryApplyRejectsExactReplay(t *testing.T) {
	// Resolves spec.md §9's Open Question: a replay whose `from` matches the
	// position *before* the delta was first applied is rejected once the
	// checkpoint has already moved past it, even though it looks like the
	// "same" delta being resent.
	sc := SourceCheckpoint{"0": "200"}
	delta, err := NewDelta(map[PartitionID]PartitionDelta{"0": {From: "100", To: "200"}})
	if err != nil {
		t.Fatalf("NewDelta: %v", err)
	}
	err = sc.TryApply(delta, SortedPartitions(delta))
	cpErr, ok := err.(*Error)
	if !ok {
		t.Fatalf("expected CheckpointError replaying a stale delta, got %v", err)
	}
	// spec.md §8 S2: replaying publish Y against a checkpoint already
	// advanced to "200" reports {partition: 0, expected: "200", actual: "100"}.
	if cpErr.Partition != "0" || cpErr.Expected != "200" || cpErr.Actual != "100" {
		t.Fatalf("unexpected error detail: %+v", cpErr)
	}
}

func TestNewDeltaRejectsNonIncreasing(t *testing.T) {
	if _, err := NewDelta(map[PartitionID]PartitionDelta{"0": {From: "100", To: "100"}}); err == nil {
		t.Fatalf("expected error for from == to")
	}
	if _, err := NewDelta(map[PartitionID]PartitionDelta{"0": {From: "200", To: "100"}}); err == nil {
		t.Fatalf("expected error for from > to")
	}
}

func TestDeltaMergeUnionsDisjointPartitions(t *testing.T) {
	a, _ := NewDelta(map[PartitionID]PartitionDelta{"0": {From: "", To: "10"}})
	b, _ := NewDelta(map[PartitionID]PartitionDelta{"1": {From: "", To: "20"}})
	merged := a.Merge(b)
	if len(merged) != 2 {
		t.Fatalf("expected 2 partitions in merged delta, got %d", len(merged))
	}
}

func TestDeltaMergeSamePartitionTakesWidestRange(t *testing.T) {
	a, _ := NewDelta(map[PartitionID]PartitionDelta{"0": {From: "10", To: "20"}})
	b, _ := NewDelta(map[PartitionID]PartitionDelta{"0": {From: "20", To: "30"}})
	merged := a.Merge(b)
	pd := merged["0"]
	if pd.From != "10" || pd.To != "30" {
		t.Fatalf("expected widest range [10,30), got [%s,%s)", pd.From, pd.To)
	}
}
