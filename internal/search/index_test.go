package search

import "testing"

const corpus = `# Store FAQ

We are open Monday through Saturday, from 9am to 6pm. On public holidays the
store stays closed.

Delivery is available in the whole metropolitan area. Orders above fifty
dollars ship free; below that a flat fee applies.

Returns are accepted within thirty days with the original receipt.

ok`

func TestTopK_RanksByOverlap(t *testing.T) {
	ix := NewFromMarkdown(corpus, 0)

	res := ix.TopK("what are your opening hours on Saturday", 2)
	if len(res) == 0 {
		t.Fatal("expected at least one result")
	}
	if got := res[0].Snippet; got == "" || got[:7] != "We are " {
		t.Fatalf("best match should be the hours paragraph, got %q", got)
	}
	for i := 1; i < len(res); i++ {
		if res[i].Score > res[i-1].Score {
			t.Fatalf("results not sorted by score: %v", res)
		}
	}
}

func TestTopK_NoOverlapReturnsNothing(t *testing.T) {
	ix := NewFromMarkdown(corpus, 0)
	if res := ix.TopK("zzz qqq xxx", 3); len(res) != 0 {
		t.Fatalf("zero-score paragraphs must be excluded, got %v", res)
	}
}

func TestTopK_KBounds(t *testing.T) {
	ix := NewFromMarkdown(corpus, 0)
	if res := ix.TopK("store delivery returns open", 0); res != nil {
		t.Fatalf("k=0 must return nothing, got %v", res)
	}
	if res := ix.TopK("store delivery returns open", 100); len(res) > 5 {
		t.Fatalf("cannot return more than the corpus holds, got %d", len(res))
	}
}

func TestNewFromMarkdown_SkipsShortParagraphs(t *testing.T) {
	ix := NewFromMarkdown(corpus, 20)
	if res := ix.TopK("ok", 5); len(res) != 0 {
		t.Fatalf("short paragraph should have been skipped, got %v", res)
	}
}

func TestTopK_EmptyQuery(t *testing.T) {
	ix := NewFromMarkdown(corpus, 0)
	if res := ix.TopK("   ", 3); res != nil {
		t.Fatalf("empty query must return nothing, got %v", res)
	}
}

func TestTopK_Deterministic(t *testing.T) {
	ix := NewFromMarkdown(corpus, 0)
	first := ix.TopK("store open delivery", 3)
	for i := 0; i < 10; i++ {
		again := ix.TopK("store open delivery", 3)
		if len(again) != len(first) {
			t.Fatal("result count changed between runs")
		}
		for j := range again {
			if again[j] != first[j] {
				t.Fatalf("run %d diverged at %d: %v vs %v", i, j, again[j], first[j])
			}
		}
	}
}
