package gateway

import (
	"strconv"
	"testing"
)

func seqs(entries []replayEntry) []int64 {
	out := make([]int64, len(entries))
	for i, e := range entries {
		out[i] = e.Seq
	}
	return out
}

func equalSeqs(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestReplayBuffer_Latest(t *testing.T) {
	// Capacity 8 after 12 pushes holds seqs 5..12; odd seqs are sz000001.
	rb := NewReplayBuffer(8)
	codes := []string{"sh600519", "sz000001"}
	for i := int64(1); i <= 12; i++ {
		rb.Push(i, codes[i%2], []byte(`{"seq":`+strconv.FormatInt(i, 10)+`}`))
	}
	onlyPingAn := func(code string) bool { return code == "sz000001" }

	tests := []struct {
		name  string
		n     int
		since int64
		keep  func(string) bool
		want  []int64
	}{
		{"everything", 100, 0, nil, []int64{5, 6, 7, 8, 9, 10, 11, 12}},
		{"newest three", 3, 0, nil, []int64{10, 11, 12}},
		{"filtered", 3, 0, onlyPingAn, []int64{7, 9, 11}},
		{"resume after seq 9", 100, 9, nil, []int64{10, 11, 12}},
		{"resume filtered", 100, 8, onlyPingAn, []int64{9, 11}},
		{"nothing missed", 100, 12, nil, nil},
		{"resume older than buffer", 100, 2, nil, []int64{5, 6, 7, 8, 9, 10, 11, 12}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := seqs(rb.Latest(tt.n, tt.since, tt.keep))
			if !equalSeqs(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
	if rb.Len() != 8 {
		t.Errorf("Len = %d, want 8", rb.Len())
	}
}

func TestReplayBuffer_CopiesData(t *testing.T) {
	rb := NewReplayBuffer(2)
	data := []byte("original")
	rb.Push(1, "sh600519", data)
	copy(data, "mutated!")

	if got := string(rb.Latest(1, 0, nil)[0].Data); got != "original" {
		t.Errorf("stored data = %q, caller mutation leaked", got)
	}
}

func TestReplayBuffer_Empty(t *testing.T) {
	rb := NewReplayBuffer(0)
	if got := rb.Latest(5, 0, nil); len(got) != 0 {
		t.Fatalf("empty buffer returned %d entries", len(got))
	}
}
