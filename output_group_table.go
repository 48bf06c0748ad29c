package semclone

import (
	crand "crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sort"
)

// OutputGroupSink receives output groups flushed from a table.
type OutputGroupSink interface {
	PutOutputGroup(key uint64, g *OutputGroup) error
}

// OutputGroupTable is a content-deduplicated table of output groups. Each
// distinct group is owned by the table and keyed by a 63-bit positive
// random identifier, so that independent processes inserting into a shared
// persistent store produce disjoint key spaces with high probability and
// need no coordination.
//
// Newly inserted groups are buffered in a scratch file until Save flushes
// them to a sink. The scratch file is owned by the table for its lifetime
// and removed by Close.
type OutputGroupTable struct {
	groups    map[uint64]*OutputGroup
	index     []uint64 // keys ordered by group content
	persisted map[uint64]bool

	lcg     uint64
	scratch *os.File
}

// NewOutputGroupTable returns a new instance of OutputGroupTable. The key
// generator is seeded from the operating system's entropy source.
func NewOutputGroupTable() (*OutputGroupTable, error) {
	var seed [8]byte
	if _, err := io.ReadFull(crand.Reader, seed[:]); err != nil {
		return nil, fmt.Errorf("seed key generator: %w", err)
	}

	scratch, err := os.CreateTemp("", "outputgroups-*.scratch")
	if err != nil {
		return nil, fmt.Errorf("create scratch file: %w", err)
	}

	return &OutputGroupTable{
		groups:    make(map[uint64]*OutputGroup),
		persisted: make(map[uint64]bool),
		lcg:       binary.LittleEndian.Uint64(seed[:]),
		scratch:   scratch,
	}, nil
}

// Close removes the scratch file.
func (t *OutputGroupTable) Close() error {
	if t.scratch == nil {
		return nil
	}
	name := t.scratch.Name()
	t.scratch.Close()
	t.scratch = nil
	return os.Remove(name)
}

// Len returns the number of distinct groups in the table.
func (t *OutputGroupTable) Len() int { return len(t.groups) }

// Insert adds group to the table and returns its key. If an equal group
// already exists its key is returned and the table is unchanged. If key is
// non-nil the group is stored under it and marked as already persisted;
// this is how groups loaded from a store re-enter the table.
func (t *OutputGroupTable) Insert(group *OutputGroup, key *uint64) (uint64, error) {
	if existing, ok := t.Find(group); ok {
		return existing, nil
	}

	var k uint64
	persisted := false
	if key != nil {
		k = *key
		persisted = true
	} else {
		k = t.generateKey()
		for _, ok := t.groups[k]; ok; _, ok = t.groups[k] {
			k = t.generateKey()
		}
	}

	own := group.Clone()
	t.groups[k] = own

	i := sort.Search(len(t.index), func(i int) bool {
		return t.groups[t.index[i]].Compare(own) >= 0
	})
	t.index = append(t.index, 0)
	copy(t.index[i+1:], t.index[i:])
	t.index[i] = k

	t.persisted[k] = persisted
	if !persisted {
		if err := t.spill(k, own); err != nil {
			return 0, err
		}
	}
	return k, nil
}

// Find returns the key of the group equal in content to group, if present.
func (t *OutputGroupTable) Find(group *OutputGroup) (uint64, bool) {
	i := sort.Search(len(t.index), func(i int) bool {
		return t.groups[t.index[i]].Compare(group) >= 0
	})
	if i < len(t.index) && t.groups[t.index[i]].Equal(group) {
		return t.index[i], true
	}
	return 0, false
}

// Lookup returns the group stored under key, if present.
func (t *OutputGroupTable) Lookup(key uint64) (*OutputGroup, bool) {
	g, ok := t.groups[key]
	return g, ok
}

// Exists returns true if key is present in the table.
func (t *OutputGroupTable) Exists(key uint64) bool {
	_, ok := t.groups[key]
	return ok
}

// Erase removes the group stored under key.
func (t *OutputGroupTable) Erase(key uint64) {
	if _, ok := t.groups[key]; !ok {
		return
	}
	delete(t.groups, key)
	delete(t.persisted, key)
	for i, k := range t.index {
		if k == key {
			t.index = append(t.index[:i], t.index[i+1:]...)
			break
		}
	}
}

// Keys returns all keys in the table, in content order.
func (t *OutputGroupTable) Keys() []uint64 {
	return append([]uint64(nil), t.index...)
}

// Save flushes every not-yet-persisted group to sink by replaying the
// scratch file, then truncates the scratch buffer.
func (t *OutputGroupTable) Save(sink OutputGroupSink) error {
	if _, err := t.scratch.Seek(0, io.SeekStart); err != nil {
		return err
	}

	for {
		var hdr [12]byte
		if _, err := io.ReadFull(t.scratch, hdr[:]); err == io.EOF {
			break
		} else if err != nil {
			return fmt.Errorf("read scratch record: %w", err)
		}
		key := binary.LittleEndian.Uint64(hdr[0:8])
		n := binary.LittleEndian.Uint32(hdr[8:12])

		blob := make([]byte, n)
		if _, err := io.ReadFull(t.scratch, blob); err != nil {
			return fmt.Errorf("read scratch record: %w", err)
		}

		// The group may have been erased since it was spilled.
		if !t.Exists(key) || t.persisted[key] {
			continue
		}

		var g OutputGroup
		if err := g.UnmarshalBinary(blob); err != nil {
			return fmt.Errorf("decode scratch record: %w", err)
		}
		if err := sink.PutOutputGroup(key, &g); err != nil {
			return err
		}
		t.persisted[key] = true
	}

	if err := t.scratch.Truncate(0); err != nil {
		return err
	}
	_, err := t.scratch.Seek(0, io.SeekStart)
	return err
}

// spill appends a (key, group) record to the scratch file.
func (t *OutputGroupTable) spill(key uint64, g *OutputGroup) error {
	blob, err := g.MarshalBinary()
	if err != nil {
		return err
	}

	var hdr [12]byte
	binary.LittleEndian.PutUint64(hdr[0:8], key)
	binary.LittleEndian.PutUint32(hdr[8:12], uint32(len(blob)))

	if _, err := t.scratch.Seek(0, io.SeekEnd); err != nil {
		return err
	}
	if _, err := t.scratch.Write(hdr[:]); err != nil {
		return err
	}
	_, err = t.scratch.Write(blob)
	return err
}

// generateKey draws the next 63-bit non-negative key from the table's
// linear-congruential generator.
func (t *OutputGroupTable) generateKey() uint64 {
	t.lcg = t.lcg*6364136223846793005 + 1442695040888963407
	return t.lcg >> 1
}
