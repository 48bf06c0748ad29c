// Package store persists the engine's artifacts in LevelDB: functions,
// input groups, output groups and per-run results. Output groups are
// stored under their 63-bit table keys, so independently generated key
// spaces merge without coordination. Function code is content-addressed
// by SHA-1 and stored as base64 chunks.
package store

import (
	"bytes"
	"crypto/sha1"
	"encoding/base64"
	"encoding/binary"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	leveldbstorage "github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/semclone/semclone"
)

// Keyspace prefixes.
var (
	prefixOutputGroup = []byte("og/")
	prefixInputGroup  = []byte("ig/")
	prefixFunction    = []byte("fn/")
	prefixBlob        = []byte("blob/")
	prefixResult      = []byte("res/")
)

// blobChunkSize is the number of base64 characters per stored chunk.
const blobChunkSize = 4096

// Store wraps a LevelDB database. LevelDB handles its own
// synchronization, so a Store may be shared between goroutines.
type Store struct {
	db *leveldb.DB
}

// Open opens or creates a database at path. An empty path opens an
// in-memory database.
func Open(path string) (*Store, error) {
	var db *leveldb.DB
	var err error
	if path == "" {
		db, err = leveldb.Open(leveldbstorage.NewMemStorage(), nil)
	} else {
		db, err = leveldb.OpenFile(path, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("open database %q: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// PutOutputGroup stores g under its table key. Implements
// semclone.OutputGroupSink, so an OutputGroupTable can be saved directly
// into the store.
func (s *Store) PutOutputGroup(key uint64, g *semclone.OutputGroup) error {
	blob, err := g.MarshalBinary()
	if err != nil {
		return fmt.Errorf("encode output group %d: %w", key, err)
	}
	return s.db.Put(dbKey(prefixOutputGroup, key), blob, nil)
}

// OutputGroup loads the output group stored under key.
func (s *Store) OutputGroup(key uint64) (*semclone.OutputGroup, bool, error) {
	data, err := s.db.Get(dbKey(prefixOutputGroup, key), nil)
	if err == leveldb.ErrNotFound {
		return nil, false, nil
	} else if err != nil {
		return nil, false, fmt.Errorf("get output group %d: %w", key, err)
	}

	var g semclone.OutputGroup
	if err := g.UnmarshalBinary(data); err != nil {
		return nil, false, fmt.Errorf("decode output group %d: %w", key, err)
	}
	return &g, true, nil
}

// LoadOutputGroups inserts every stored output group into tbl under its
// stored key, marking it as already persisted.
func (s *Store) LoadOutputGroups(tbl *semclone.OutputGroupTable) error {
	iter := s.db.NewIterator(util.BytesPrefix(prefixOutputGroup), nil)
	defer iter.Release()

	for iter.Next() {
		key := binary.BigEndian.Uint64(iter.Key()[len(prefixOutputGroup):])
		var g semclone.OutputGroup
		if err := g.UnmarshalBinary(iter.Value()); err != nil {
			return fmt.Errorf("decode output group %d: %w", key, err)
		}
		if _, err := tbl.Insert(&g, &key); err != nil {
			return err
		}
	}
	return iter.Error()
}

// PutInputGroup stores the pools of g under the given id.
func (s *Store) PutInputGroup(id uint64, g *semclone.InputGroup) error {
	var buf bytes.Buffer
	writePool := func(pool []uint64) {
		binary.Write(&buf, binary.LittleEndian, uint32(len(pool)))
		binary.Write(&buf, binary.LittleEndian, pool)
	}
	writePool(g.Integers())
	writePool(g.Pointers())
	return s.db.Put(dbKey(prefixInputGroup, id), buf.Bytes(), nil)
}

// InputGroup loads the input group stored under id with rewound cursors.
func (s *Store) InputGroup(id uint64) (*semclone.InputGroup, bool, error) {
	data, err := s.db.Get(dbKey(prefixInputGroup, id), nil)
	if err == leveldb.ErrNotFound {
		return nil, false, nil
	} else if err != nil {
		return nil, false, fmt.Errorf("get input group %d: %w", id, err)
	}

	buf := bytes.NewReader(data)
	readPool := func() ([]uint64, error) {
		var n uint32
		if err := binary.Read(buf, binary.LittleEndian, &n); err != nil {
			return nil, err
		}
		pool := make([]uint64, n)
		if err := binary.Read(buf, binary.LittleEndian, &pool); err != nil {
			return nil, err
		}
		return pool, nil
	}
	integers, err := readPool()
	if err != nil {
		return nil, false, fmt.Errorf("decode input group %d: %w", id, err)
	}
	pointers, err := readPool()
	if err != nil {
		return nil, false, fmt.Errorf("decode input group %d: %w", id, err)
	}
	return semclone.NewInputGroup(integers, pointers), true, nil
}

// InputGroupIDs returns the ids of all stored input groups in ascending
// order.
func (s *Store) InputGroupIDs() ([]uint64, error) {
	return s.idsWithPrefix(prefixInputGroup)
}

// PutFunction stores a function's metadata and its content-addressed
// code blob.
func (s *Store) PutFunction(fn *semclone.Function) error {
	digest := sha1.Sum(fn.Code)
	if err := s.putBlob(digest[:], fn.Code); err != nil {
		return err
	}

	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, uint32(len(fn.Name)))
	buf.WriteString(fn.Name)
	binary.Write(&buf, binary.LittleEndian, fn.Entry)
	buf.Write(digest[:])
	return s.db.Put(dbKey(prefixFunction, fn.ID), buf.Bytes(), nil)
}

// Function loads a stored function's metadata and code. The returned
// function is not decoded; pass its fields to DecodeFunction to rebuild
// the instruction list.
func (s *Store) Function(id uint64) (*semclone.Function, bool, error) {
	data, err := s.db.Get(dbKey(prefixFunction, id), nil)
	if err == leveldb.ErrNotFound {
		return nil, false, nil
	} else if err != nil {
		return nil, false, fmt.Errorf("get function %d: %w", id, err)
	}

	buf := bytes.NewReader(data)
	var nameLen uint32
	if err := binary.Read(buf, binary.LittleEndian, &nameLen); err != nil {
		return nil, false, fmt.Errorf("decode function %d: %w", id, err)
	}
	name := make([]byte, nameLen)
	if _, err := buf.Read(name); err != nil {
		return nil, false, fmt.Errorf("decode function %d: %w", id, err)
	}
	var entry uint32
	if err := binary.Read(buf, binary.LittleEndian, &entry); err != nil {
		return nil, false, fmt.Errorf("decode function %d: %w", id, err)
	}
	digest := make([]byte, sha1.Size)
	if _, err := buf.Read(digest); err != nil {
		return nil, false, fmt.Errorf("decode function %d: %w", id, err)
	}

	code, err := s.blob(digest)
	if err != nil {
		return nil, false, err
	}
	return &semclone.Function{ID: id, Name: string(name), Entry: entry, Code: code}, true, nil
}

// FunctionIDs returns the ids of all stored functions in ascending order.
func (s *Store) FunctionIDs() ([]uint64, error) {
	return s.idsWithPrefix(prefixFunction)
}

// PutResult records that running function fnID against input group igID
// produced the output group stored under ogKey.
func (s *Store) PutResult(fnID, igID, ogKey uint64) error {
	key := dbKey(prefixResult, fnID)
	key = append(key, u64be(igID)...)
	return s.db.Put(key, u64be(ogKey), nil)
}

// Results returns the output-group key produced for each input group the
// function has been run against.
func (s *Store) Results(fnID uint64) (map[uint64]uint64, error) {
	prefix := dbKey(prefixResult, fnID)
	iter := s.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()

	results := make(map[uint64]uint64)
	for iter.Next() {
		igID := binary.BigEndian.Uint64(iter.Key()[len(prefix):])
		results[igID] = binary.BigEndian.Uint64(iter.Value())
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("results for function %d: %w", fnID, err)
	}
	return results, nil
}

// putBlob stores data under its digest, split into base64 chunks. A blob
// already present under the same digest is left untouched.
func (s *Store) putBlob(digest, data []byte) error {
	first := append(append([]byte(nil), prefixBlob...), digest...)
	first = append(first, u32be(0)...)
	if ok, err := s.db.Has(first, nil); err != nil {
		return fmt.Errorf("probe blob %x: %w", digest, err)
	} else if ok {
		return nil
	}

	encoded := base64.StdEncoding.EncodeToString(data)
	for i := 0; len(encoded) > 0; i++ {
		n := blobChunkSize
		if n > len(encoded) {
			n = len(encoded)
		}
		key := append(append([]byte(nil), prefixBlob...), digest...)
		key = append(key, u32be(uint32(i))...)
		if err := s.db.Put(key, []byte(encoded[:n]), nil); err != nil {
			return fmt.Errorf("put blob %x chunk %d: %w", digest, i, err)
		}
		encoded = encoded[n:]
	}
	return nil
}

// blob reassembles the content stored under digest.
func (s *Store) blob(digest []byte) ([]byte, error) {
	prefix := append(append([]byte(nil), prefixBlob...), digest...)
	iter := s.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()

	var encoded bytes.Buffer
	for iter.Next() {
		encoded.Write(iter.Value())
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("get blob %x: %w", digest, err)
	}
	if encoded.Len() == 0 {
		return nil, fmt.Errorf("blob %x: not found", digest)
	}

	data, err := base64.StdEncoding.DecodeString(encoded.String())
	if err != nil {
		return nil, fmt.Errorf("decode blob %x: %w", digest, err)
	}
	return data, nil
}

func (s *Store) idsWithPrefix(prefix []byte) ([]uint64, error) {
	iter := s.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()

	var ids []uint64
	for iter.Next() {
		ids = append(ids, binary.BigEndian.Uint64(iter.Key()[len(prefix):]))
	}
	return ids, iter.Error()
}

func dbKey(prefix []byte, id uint64) []byte {
	return append(append([]byte(nil), prefix...), u64be(id)...)
}

func u64be(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}

func u32be(v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return b[:]
}
