package pipeline

import (
	"fmt"
	"testing"

	"github.com/echocast/core/internal/config"
)

func newTestDetector() *Detector {
	return NewDetector(config.DefaultPipelineConfig().Dedup)
}

func TestDedupExactHash(t *testing.T) {
	d := newTestDetector()
	item := ContentItem{ID: "a", Title: "Nepal bans Facebook", Body: "The government announced a ban."}

	if res := d.Check(item); res.Duplicate {
		t.Fatalf("first submission flagged duplicate: %+v", res)
	}
	second := item
	second.ID = "b"
	res := d.Check(second)
	if !res.Duplicate || res.Reason != "exact_hash" {
		t.Fatalf("resubmission not caught: %+v", res)
	}
	if res.MatchedID != "a" {
		t.Fatalf("matched id = %q, want a", res.MatchedID)
	}
}

func TestDedupWordSimilarity(t *testing.T) {
	d := newTestDetector()
	d.Check(ContentItem{ID: "a", Title: "Massive wildfire spreads across northern California hills"})

	res := d.Check(ContentItem{ID: "b", Title: "Massive wildfire spreads across northern California suburbs"})
	if !res.Duplicate {
		t.Fatal("near-identical title not flagged")
	}
}

func TestDedupMajorEventCluster(t *testing.T) {
	d := newTestDetector()
	d.Check(ContentItem{ID: "a", Title: "Nepal bans Facebook, Twitter, YouTube", Body: "Sweeping restrictions announced."})

	res := d.Check(ContentItem{ID: "b", Title: "Nepal blocks social media: Facebook, Twitter banned", Body: "Users report outages."})
	if !res.Duplicate {
		t.Fatal("major-event rephrasing not flagged")
	}
}

func TestDedupDistinctStoriesPass(t *testing.T) {
	d := newTestDetector()
	d.Check(ContentItem{ID: "a", Title: "Nepal bans Facebook, Twitter, YouTube"})

	res := d.Check(ContentItem{ID: "b", Title: "Archaeologists uncover Roman villa beneath vineyard"})
	if res.Duplicate {
		t.Fatalf("unrelated story flagged duplicate: %+v", res)
	}
}

func TestDedupProducerUpdateBypass(t *testing.T) {
	d := newTestDetector()
	item := ContentItem{ID: "a", Title: "Quarterly results call", Body: "Earnings discussion."}
	d.Check(item)

	update := item
	update.ID = "b"
	update.ProducerUpdate = true
	if res := d.Check(update); res.Duplicate {
		t.Fatal("producer update blocked by dedup")
	}
}

func TestDedupCacheEviction(t *testing.T) {
	cfg := config.DefaultPipelineConfig().Dedup
	cfg.CacheSize = 3
	d := NewDetector(cfg)

	for i := 0; i < 4; i++ {
		d.Check(ContentItem{
			ID:    fmt.Sprintf("item-%d", i),
			Title: fmt.Sprintf("completely unrelated headline number %d alpha%d bravo%d", i, i, i),
		})
	}
	if d.Len() != 3 {
		t.Fatalf("cache len = %d, want 3", d.Len())
	}

	// Oldest entry was evicted, so its exact resubmission passes.
	res := d.Check(ContentItem{ID: "again", Title: "completely unrelated headline number 0 alpha0 bravo0"})
	if res.Duplicate {
		t.Fatalf("evicted entry still matched: %+v", res)
	}
}
