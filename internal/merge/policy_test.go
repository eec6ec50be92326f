package merge

import "testing"

func candidates(n int, sizeBytes uint64) []Candidate {
	out := make([]Candidate, n)
	for i := range out {
		out[i] = Candidate{SplitID: string(rune('a' + i)), UncompressedDocsSizeBytes: sizeBytes, CreateTimestamp: int64(i)}
	}
	return out
}

func TestStableLogPolicyMergesOnceTierReachesFactor(t *testing.T) {
	p := StableLogPolicy{MergeFactor: 4, BaseSizeBytes: 1 << 20, GrowthFactor: 8}
	ops := p.Plan(candidates(3, 100))
	if len(ops) != 0 {
		t.Fatalf("expected no merge below MergeFactor, got %v", ops)
	}
	ops = p.Plan(candidates(4, 100))
	if len(ops) != 1 || len(ops[0].SplitIDs) != 4 {
		t.Fatalf("expected one 4-way merge, got %v", ops)
	}
}

func TestStableLogPolicyIsDeterministic(t *testing.T) {
	p := DefaultStableLogPolicy()
	input := candidates(20, 500)
	ops1 := p.Plan(input)
	ops2 := p.Plan(input)
	if len(ops1) != len(ops2) {
		t.Fatalf("non-deterministic plan lengths: %d vs %d", len(ops1), len(ops2))
	}
	for i := range ops1 {
		if len(ops1[i].SplitIDs) != len(ops2[i].SplitIDs) {
			t.Fatalf("non-deterministic op %d", i)
		}
		for j := range ops1[i].SplitIDs {
			if ops1[i].SplitIDs[j] != ops2[i].SplitIDs[j] {
				t.Fatalf("non-deterministic op %d member %d", i, j)
			}
		}
	}
}

func TestStableLogPolicySeparatesTiersBySize(t *testing.T) {
	p := StableLogPolicy{MergeFactor: 2, BaseSizeBytes: 100, GrowthFactor: 8}
	small := candidates(2, 50)
	large := make([]Candidate, 2)
	for i := range large {
		large[i] = Candidate{SplitID: string(rune('x' + i)), UncompressedDocsSizeBytes: 5000, CreateTimestamp: int64(i)}
	}
	ops := p.Plan(append(small, large...))
	if len(ops) != 2 {
		t.Fatalf("expected separate merges per tier, got %d ops: %v", len(ops), ops)
	}
}

func TestStableLogPolicyIsMonotone(t *testing.T) {
	p := StableLogPolicy{MergeFactor: 3, BaseSizeBytes: 1 << 20, GrowthFactor: 8}
	base := candidates(3, 10)
	opsBefore := p.Plan(base)
	if len(opsBefore) != 1 {
		t.Fatalf("expected one op, got %d", len(opsBefore))
	}
	extended := append(append([]Candidate{}, base...), Candidate{SplitID: "extra", UncompressedDocsSizeBytes: 10, CreateTimestamp: 99})
	opsAfter := p.Plan(extended)
	found := false
	for _, op := range opsAfter {
		if len(op.SplitIDs) == 3 && op.SplitIDs[0] == opsBefore[0].SplitIDs[0] {
			found = true
		}
	}
	if !found {
		t.Fatalf("adding a split withdrew the previously emitted operation: before=%v after=%v", opsBefore, opsAfter)
	}
}
