package memory

import (
	"reflect"
	"testing"

	"kittyledger/pkg/domain"
)

func TestBucketTargetsCoverEveryBucket(t *testing.T) {
	var snap Snapshot
	targets := snap.BucketTargets()
	if len(targets) != len(BucketNames) {
		t.Fatalf("expected %d targets, got %d", len(BucketNames), len(targets))
	}
	for _, name := range BucketNames {
		if targets[name] == nil {
			t.Fatalf("missing target for bucket %s", name)
		}
	}
}

func TestEncodeDecodeBuckets(t *testing.T) {
	src := Snapshot{
		Kitties:  []Kitty{{ID: 0, DNA: domain.GeneticCode{1}}},
		Owners:   map[EntityID]AccountID{0: 9},
		Holdings: map[AccountID][]EntityID{9: {0}},
	}
	encoded, err := src.EncodeBuckets()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var dst Snapshot
	for name, raw := range encoded {
		if _, err := dst.DecodeBucket(name, raw); err != nil {
			t.Fatalf("decode %s: %v", name, err)
		}
	}
	if !reflect.DeepEqual(dst.Kitties, src.Kitties) || !reflect.DeepEqual(dst.Holdings, src.Holdings) {
		t.Fatalf("round trip mismatch: %+v", dst)
	}
	if ok, err := dst.DecodeBucket("unknown", []byte("{}")); ok || err != nil {
		t.Fatalf("unknown bucket should be skipped: %v %v", ok, err)
	}
	if _, err := dst.DecodeBucket(BucketOwners, []byte("{bad")); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestJournalTracksDirtyBuckets(t *testing.T) {
	var j Journal
	snap := Snapshot{Owners: map[EntityID]AccountID{0: 1}}
	encoded, _ := snap.EncodeBuckets()
	if got := j.Dirty(encoded); !reflect.DeepEqual(got, BucketNames) {
		t.Fatalf("empty journal should mark everything dirty, got %v", got)
	}
	j.Record(encoded, BucketNames...)
	if got := j.Dirty(encoded); len(got) != 0 {
		t.Fatalf("expected clean journal, got %v", got)
	}

	snap.Owners[1] = 2
	encoded, _ = snap.EncodeBuckets()
	if got := j.Dirty(encoded); !reflect.DeepEqual(got, []string{BucketOwners}) {
		t.Fatalf("expected only owners dirty, got %v", got)
	}
	j.Reset()
	if got := j.Dirty(encoded); len(got) != len(BucketNames) {
		t.Fatalf("reset journal should mark everything dirty")
	}
}
