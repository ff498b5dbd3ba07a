package memory

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Bucket names the persistence buckets a snapshot is split into by the
// durable backends. Each bucket is stored as one JSON payload.
const (
	BucketKitties  = "kitties"
	BucketOwners   = "owners"
	BucketHoldings = "holdings"
	BucketParents  = "parents"
	BucketChildren = "children"
	BucketSiblings = "siblings"
	BucketPartners = "partners"
)

// BucketNames lists the buckets in the order backends persist them.
var BucketNames = []string{
	BucketKitties,
	BucketOwners,
	BucketHoldings,
	BucketParents,
	BucketChildren,
	BucketSiblings,
	BucketPartners,
}

// BucketTargets maps every bucket name to the snapshot field it encodes.
// Backends marshal from and unmarshal into the returned pointers.
func (s *Snapshot) BucketTargets() map[string]any {
	return map[string]any{
		BucketKitties:  &s.Kitties,
		BucketOwners:   &s.Owners,
		BucketHoldings: &s.Holdings,
		BucketParents:  &s.Parents,
		BucketChildren: &s.Children,
		BucketSiblings: &s.Siblings,
		BucketPartners: &s.Partners,
	}
}

// EncodeBuckets marshals every bucket of s.
func (s *Snapshot) EncodeBuckets() (map[string][]byte, error) {
	out := make(map[string][]byte, len(BucketNames))
	for name, target := range s.BucketTargets() {
		raw, err := json.Marshal(target)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", name, err)
		}
		out[name] = raw
	}
	return out, nil
}

// DecodeBucket unmarshals payload into the named bucket. Unknown names and
// empty payloads are skipped and reported as false.
func (s *Snapshot) DecodeBucket(name string, payload []byte) (bool, error) {
	target, ok := s.BucketTargets()[name]
	if !ok || len(payload) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(payload, target); err != nil {
		return false, fmt.Errorf("decode %s: %w", name, err)
	}
	return true, nil
}

// Journal remembers the payload last written for each bucket so a durable
// backend rewrites only what a commit changed. The zero value is empty.
type Journal struct {
	written map[string][]byte
}

// Dirty lists, in BucketNames order, the buckets whose encoding differs from
// the last recorded write.
func (j *Journal) Dirty(encoded map[string][]byte) []string {
	var dirty []string
	for _, name := range BucketNames {
		prev, ok := j.written[name]
		if !ok || !bytes.Equal(prev, encoded[name]) {
			dirty = append(dirty, name)
		}
	}
	return dirty
}

// Record marks names as durably written with their encoded payloads.
func (j *Journal) Record(encoded map[string][]byte, names ...string) {
	if j.written == nil {
		j.written = make(map[string][]byte, len(BucketNames))
	}
	for _, name := range names {
		j.written[name] = encoded[name]
	}
}

// Reset forgets every recorded write.
func (j *Journal) Reset() { j.written = nil }
