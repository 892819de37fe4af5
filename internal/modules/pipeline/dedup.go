package pipeline

import (
	"sync"

	"github.com/echocast/core/internal/config"
)

// signatureRecord is one cached entry of previously accepted content.
type signatureRecord struct {
	ItemID   string
	Hash     string
	Title    string
	Words    []string
	Keywords []string
}

// DedupResult explains a duplicate verdict.
type DedupResult struct {
	Duplicate bool
	Reason    string
	MatchedID string
}

// Detector is the process-wide duplicate gate. It is advisory and fails
// open: uncertain cases are treated as non-duplicate so the pipeline is
// never starved. Shared across sessions, duplicates are a cross-session
// concept.
type Detector struct {
	mu      sync.Mutex
	cfg     config.DedupConfig
	records []signatureRecord
	byHash  map[string]int
}

// NewDetector creates a detector with the configured thresholds.
func NewDetector(cfg config.DedupConfig) *Detector {
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 50
	}
	return &Detector{
		cfg:    cfg,
		byHash: make(map[string]int),
	}
}

// Check decides whether the item duplicates previously seen content.
// Producer-initiated updates bypass the check entirely. Non-duplicates
// are cached for future comparisons.
func (d *Detector) Check(item ContentItem) DedupResult {
	if item.ProducerUpdate {
		return DedupResult{Duplicate: false, Reason: "producer_update"}
	}

	hash := Signature(item.Title, item.Body)
	words := significantWords(item.Title)
	keywords := extractKeywords(item.Title + " " + item.Body)

	d.mu.Lock()
	defer d.mu.Unlock()

	if idx, ok := d.byHash[hash]; ok {
		return DedupResult{Duplicate: true, Reason: "exact_hash", MatchedID: d.records[idx].ItemID}
	}

	for _, rec := range d.records {
		if sim := jaccard(words, rec.Words); sim >= d.cfg.WordSimilarity {
			return DedupResult{Duplicate: true, Reason: "word_similarity", MatchedID: rec.ItemID}
		}
		if sim := jaccard(keywords, rec.Keywords); sim >= d.cfg.KeywordSimilarity {
			return DedupResult{Duplicate: true, Reason: "keyword_similarity", MatchedID: rec.ItemID}
		}
		if d.majorEventMatch(keywords, rec.Keywords) {
			return DedupResult{Duplicate: true, Reason: "major_event", MatchedID: rec.ItemID}
		}
	}

	d.store(signatureRecord{
		ItemID:   item.ID,
		Hash:     hash,
		Title:    item.Title,
		Words:    words,
		Keywords: keywords,
	})
	return DedupResult{Duplicate: false}
}

// majorEventMatch reports whether both keyword sets overlap the same
// curated major-event cluster with at least two words each.
func (d *Detector) majorEventMatch(a, b []string) bool {
	for _, cluster := range d.cfg.MajorEventClusters {
		if overlapCount(a, cluster) >= 2 && overlapCount(b, cluster) >= 2 {
			return true
		}
	}
	return false
}

func (d *Detector) store(rec signatureRecord) {
	if len(d.records) >= d.cfg.CacheSize {
		evicted := d.records[0]
		d.records = d.records[1:]
		delete(d.byHash, evicted.Hash)
		for h, idx := range d.byHash {
			d.byHash[h] = idx - 1
		}
	}
	d.records = append(d.records, rec)
	d.byHash[rec.Hash] = len(d.records) - 1
}

// Clear empties the cache. Used by emergency shutdown.
func (d *Detector) Clear() {
	d.mu.Lock()
	d.records = nil
	d.byHash = make(map[string]int)
	d.mu.Unlock()
}

// Len reports the current cache size.
func (d *Detector) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.records)
}
