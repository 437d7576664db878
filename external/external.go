// Copyright 2024 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package external is a mmap-backed re-expression of the schmidt stabbing
// forest: every link field is an int64 index into a single arena file
// instead of a pointer, so the index can be built once, persisted, and
// re-mapped by a later process without re-running preprocessing.
package external

import (
	"container/list"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"runtime"
	"sort"

	pkgerrors "github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/grailbio/intervalstab/errors"
	"github.com/grailbio/intervalstab/interval"
	"github.com/grailbio/intervalstab/log"
	"github.com/grailbio/intervalstab/must"
	"github.com/grailbio/intervalstab/traverse"
)

const (
	nodeRecordSize     = 64
	intervalRecordSize = 24
	nilRef             = int64(-1)
	dummyRef           = int64(0)
)

// Config controls an Index's domain size, backing file prefix, and debug
// behavior.
type Config struct {
	// BigN is the size of the coordinate domain; valid interval endpoints
	// and query coordinates are 1..BigN (queries additionally allow
	// BigN+1).
	BigN uint64
	// BaseFilename is the path prefix for every file this Index creates:
	// <BaseFilename>.intervals, .nodes, .stop, and .tmp_write.<shard>, plus
	// .eventlist and .eventlist.layout when Succinct is set.
	BaseFilename string
	// Verify, if true, re-checks every Query result against a naive O(n)
	// scan before returning it.
	Verify bool
	// Succinct, if true, additionally builds the bitset-backed succinct
	// eventlist (see succinctEventList) alongside the default arena. It
	// does not change Query's behavior; it exists so the succinct layout
	// can be exercised and round-tripped independently.
	Succinct bool
}

// StagedInterval is one interval as it is written to the staging files:
// a fixed-size record, since a fixed-record file cannot hold a
// variable-length interface{} payload. Payload is an opaque id the caller
// resolves externally.
type StagedInterval struct {
	L, R, Payload uint64
}

// node is the arena record, the external equivalent of interval.Interval's
// link fields. Index 0 is the synthetic dummy root; real intervals occupy
// indices 1..n in the sorted-by-LessSchmidt order they were processed in.
type node struct {
	l, r                                      uint64
	parent, leftSibling, rightChild, smaller int64
	payload                                   uint64
}

// Index is an mmap-backed Schmidt stabbing forest. Add (or AddBatch)
// intervals, call Index once to preprocess, then Query repeatedly; Query
// reads directly from the mmap'd arena and stop table.
type Index struct {
	cfg        Config
	shardFiles []*os.File
	nStaged    uint64

	nodes *mappedFile
	stop  *mappedFile
	n     uint64

	succinct *succinctEventList

	indexed bool
}

// New returns an empty Index for the given configuration.
func New(cfg Config) *Index {
	return &Index{cfg: cfg}
}

func (idx *Index) tmpPath(shard int) string {
	return fmt.Sprintf("%s.tmp_write.%d", idx.cfg.BaseFilename, shard)
}
func (idx *Index) intervalsPath() string { return idx.cfg.BaseFilename + ".intervals" }
func (idx *Index) nodesPath() string     { return idx.cfg.BaseFilename + ".nodes" }
func (idx *Index) stopPath() string      { return idx.cfg.BaseFilename + ".stop" }

// Add stages a single interval, writing it to staging shard 0. Equivalent
// to AddBatch with a one-element batch.
func (idx *Index) Add(l, r, payload uint64) error {
	return idx.AddBatch([]StagedInterval{{L: l, R: r, Payload: payload}})
}

// AddBatch stages a batch of intervals concurrently across
// runtime.NumCPU() shard files using traverse, mirroring the "trivially
// parallel ingest" stage: each shard owns a contiguous slice of batch and
// writes to its own <BaseFilename>.tmp_write.<shard> file.
func (idx *Index) AddBatch(batch []StagedInterval) error {
	if idx.indexed {
		return errors.E(errors.UsageError, "AddBatch called after Index")
	}
	for _, s := range batch {
		if err := interval.Validate(s.L, s.R, idx.cfg.BigN); err != nil {
			return err
		}
	}
	if len(batch) == 0 {
		return nil
	}

	nshards := runtime.NumCPU()
	if nshards > len(batch) {
		nshards = len(batch)
	}
	if len(idx.shardFiles) < nshards {
		grown := make([]*os.File, nshards)
		copy(grown, idx.shardFiles)
		idx.shardFiles = grown
	}
	for i := 0; i < nshards; i++ {
		if idx.shardFiles[i] == nil {
			f, err := os.Create(idx.tmpPath(i))
			if err != nil {
				return errors.E(errors.IOError, pkgerrors.Wrapf(err, "create %s", idx.tmpPath(i)))
			}
			idx.shardFiles[i] = f
		}
	}

	shardSize := (len(batch) + nshards - 1) / nshards
	err := traverse.Each(len(batch)).Limit(nshards).Sharded(nshards).DoRange(func(start, end int) error {
		shard := start / shardSize
		w := idx.shardFiles[shard]
		var buf [intervalRecordSize]byte
		for i := start; i < end; i++ {
			s := batch[i]
			binary.LittleEndian.PutUint64(buf[0:8], s.L)
			binary.LittleEndian.PutUint64(buf[8:16], s.R)
			binary.LittleEndian.PutUint64(buf[16:24], s.Payload)
			if _, err := w.Write(buf[:]); err != nil {
				return errors.E(errors.IOError, pkgerrors.Wrapf(err, "write %s", idx.tmpPath(shard)))
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	idx.nStaged += uint64(len(batch))
	return nil
}

// mergeWriters closes every shard file and consolidates the non-empty
// ones into the single <BaseFilename>.intervals file. When exactly one
// shard wrote anything, the shard file is renamed directly rather than
// copied; a rename is only safe when no other shard contributed data, so
// this is the corrected inverse of the merge/rename split (an earlier
// draft of this logic had the two cases backwards).
func (idx *Index) mergeWriters() error {
	var nonEmpty []string
	for i, f := range idx.shardFiles {
		if f == nil {
			continue
		}
		path := idx.tmpPath(i)
		if err := f.Close(); err != nil {
			return errors.E(errors.IOError, pkgerrors.Wrapf(err, "close %s", path))
		}
		info, err := os.Stat(path)
		if err != nil {
			return errors.E(errors.IOError, pkgerrors.Wrapf(err, "stat %s", path))
		}
		if info.Size() > 0 {
			nonEmpty = append(nonEmpty, path)
		} else if rmErr := os.Remove(path); rmErr != nil {
			return errors.E(errors.IOError, pkgerrors.Wrapf(rmErr, "remove empty shard %s", path))
		}
	}

	switch len(nonEmpty) {
	case 0:
		return nil
	case 1:
		if err := os.Rename(nonEmpty[0], idx.intervalsPath()); err != nil {
			return errors.E(errors.IOError, pkgerrors.Wrapf(err, "rename %s", nonEmpty[0]))
		}
	default:
		out, err := os.Create(idx.intervalsPath())
		if err != nil {
			return errors.E(errors.IOError, pkgerrors.Wrapf(err, "create %s", idx.intervalsPath()))
		}
		defer out.Close()
		for _, path := range nonEmpty {
			if err := appendFile(out, path); err != nil {
				return err
			}
		}
	}
	return nil
}

func appendFile(out *os.File, path string) error {
	in, err := os.Open(path)
	if err != nil {
		return errors.E(errors.IOError, pkgerrors.Wrapf(err, "open %s", path))
	}
	defer in.Close()
	if _, err := io.Copy(out, in); err != nil {
		return errors.E(errors.IOError, pkgerrors.Wrapf(err, "copy %s", path))
	}
	return os.Remove(path)
}

// Index preprocesses the staged intervals into the mmap-backed forest. It
// may be called at most once.
func (idx *Index) Index() error {
	if idx.indexed {
		return errors.E(errors.UsageError, "Index called more than once")
	}
	if idx.cfg.BaseFilename == "" {
		return errors.E(errors.InputConstraint, "BaseFilename must be set")
	}
	if err := idx.mergeWriters(); err != nil {
		return err
	}
	records, err := idx.readIntervals()
	if err != nil {
		return err
	}
	idx.n = uint64(len(records))
	if err := idx.buildAndWrite(records); err != nil {
		return err
	}
	if err := os.Remove(idx.intervalsPath()); err != nil && !os.IsNotExist(err) {
		return errors.E(errors.IOError, pkgerrors.Wrapf(err, "remove %s", idx.intervalsPath()))
	}
	idx.indexed = true
	log.Debug.Printf("external: indexed %d intervals over domain %d at %s", idx.n, idx.cfg.BigN, idx.cfg.BaseFilename)
	return nil
}

func (idx *Index) readIntervals() ([]StagedInterval, error) {
	f, err := os.Open(idx.intervalsPath())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.E(errors.IOError, pkgerrors.Wrapf(err, "open %s", idx.intervalsPath()))
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, errors.E(errors.IOError, pkgerrors.Wrapf(err, "read %s", idx.intervalsPath()))
	}
	if len(data)%intervalRecordSize != 0 {
		return nil, errors.E(errors.IOError, fmt.Sprintf("%s has a truncated record", idx.intervalsPath()))
	}
	n := len(data) / intervalRecordSize
	records := make([]StagedInterval, n)
	for i := 0; i < n; i++ {
		rec := data[i*intervalRecordSize : (i+1)*intervalRecordSize]
		records[i] = StagedInterval{
			L:       binary.LittleEndian.Uint64(rec[0:8]),
			R:       binary.LittleEndian.Uint64(rec[8:16]),
			Payload: binary.LittleEndian.Uint64(rec[16:24]),
		}
	}
	return records, nil
}

// buildAndWrite sorts records by LessSchmidt order, runs the Schmidt sweep
// over an in-memory arena addressed by index, then persists the arena and
// stop table as mmap'd files.
func (idx *Index) buildAndWrite(records []StagedInterval) error {
	sort.Slice(records, func(i, j int) bool {
		if records[i].L != records[j].L {
			return records[i].L < records[j].L
		}
		return records[i].R > records[j].R
	})

	n := uint64(len(records))
	arena := make([]node, n+1)
	for i := range arena {
		arena[i].parent, arena[i].leftSibling, arena[i].rightChild, arena[i].smaller = nilRef, nilRef, nilRef, nilRef
	}
	for i, rec := range records {
		arena[i+1].l, arena[i+1].r, arena[i+1].payload = rec.L, rec.R, rec.Payload
	}

	events := make([][]int64, idx.cfg.BigN+2)
	var startingL uint64
	started := false
	for i, rec := range records {
		ref := int64(i + 1)
		if !started || rec.L != startingL {
			events[rec.R] = append(events[rec.R], ref)
			events[rec.L] = append(events[rec.L], ref)
		} else {
			must.Truef(records[i-1].L == rec.L && records[i-1].R >= rec.R,
				"external: intervals not sorted for smaller-chain grouping")
			arena[i].smaller = ref
		}
		startingL = rec.L
		started = true
	}

	stop := make([]int64, idx.cfg.BigN+2)
	for i := range stop {
		stop[i] = nilRef
	}
	pItByRef := make([]*list.Element, n+1)
	status := list.New()
	for i := uint64(1); i <= idx.cfg.BigN; i++ {
		bucket := events[i]
		if len(bucket) > 0 {
			ref := bucket[len(bucket)-1]
			if arena[ref].l == i {
				elem := status.PushBack(ref)
				pItByRef[ref] = elem
				bucket = bucket[:len(bucket)-1]
			}
		}
		if status.Len() == 0 {
			continue
		}
		stop[i] = status.Back().Value.(int64)
		for j := len(bucket) - 1; j >= 0; j-- {
			ref := bucket[j]
			elem := pItByRef[ref]
			var last int64
			if prev := elem.Prev(); prev != nil {
				last = prev.Value.(int64)
			} else {
				last = dummyRef
			}
			arena[ref].parent = last
			arena[ref].leftSibling = arena[last].rightChild
			arena[last].rightChild = ref
			status.Remove(elem)
		}
	}

	if idx.cfg.Succinct {
		idx.succinct = buildSuccinctEventList(events, idx.cfg.BigN)
		if err := idx.writeSuccinctEventList(idx.succinct); err != nil {
			return err
		}
	}

	// The node arena and the stop table are independent files; write them
	// concurrently rather than serializing the two mmap/encode passes.
	var g errgroup.Group
	g.Go(func() error { return idx.writeNodes(arena) })
	g.Go(func() error { return idx.writeStop(stop) })
	return g.Wait()
}

func (idx *Index) writeNodes(arena []node) error {
	size := len(arena) * nodeRecordSize
	mm, err := createMapped(idx.nodesPath(), size)
	if err != nil {
		return err
	}
	for i, nd := range arena {
		encodeNode(mm.data[i*nodeRecordSize:(i+1)*nodeRecordSize], nd)
	}
	idx.nodes = mm
	return nil
}

func (idx *Index) writeStop(stop []int64) error {
	size := len(stop) * 8
	mm, err := createMapped(idx.stopPath(), size)
	if err != nil {
		return err
	}
	for i, ref := range stop {
		binary.LittleEndian.PutUint64(mm.data[i*8:(i+1)*8], uint64(ref))
	}
	idx.stop = mm
	return nil
}

// Reopen re-maps an already-indexed Index's nodes and stop files without
// re-running Index(), for the round-trip "query after process restart"
// property.
func Reopen(cfg Config) (*Index, error) {
	idx := &Index{cfg: cfg, indexed: true}

	nodesInfo, err := os.Stat(idx.nodesPath())
	if err != nil {
		return nil, errors.E(errors.IOError, pkgerrors.Wrapf(err, "stat %s", idx.nodesPath()))
	}
	if nodesInfo.Size()%nodeRecordSize != 0 {
		return nil, errors.E(errors.IOError, fmt.Sprintf("%s has a truncated record", idx.nodesPath()))
	}
	idx.n = uint64(nodesInfo.Size())/nodeRecordSize - 1

	nodes, err := openMapped(idx.nodesPath(), int(nodesInfo.Size()), true)
	if err != nil {
		return nil, err
	}
	idx.nodes = nodes

	stopInfo, err := os.Stat(idx.stopPath())
	if err != nil {
		nodes.Close()
		return nil, errors.E(errors.IOError, pkgerrors.Wrapf(err, "stat %s", idx.stopPath()))
	}
	stop, err := openMapped(idx.stopPath(), int(stopInfo.Size()), true)
	if err != nil {
		nodes.Close()
		return nil, err
	}
	idx.stop = stop
	return idx, nil
}

// Close unmaps the nodes and stop files. It does not remove them:
// Reopen expects them to persist across process restarts.
func (idx *Index) Close() error {
	var err error
	if e := idx.nodes.Close(); e != nil {
		err = e
	}
	if e := idx.stop.Close(); e != nil && err == nil {
		err = e
	}
	return err
}

func (idx *Index) nodeAt(ref int64) node {
	return decodeNode(idx.nodes.data[ref*nodeRecordSize : (ref+1)*nodeRecordSize])
}

func (idx *Index) setStabbed(ref int64, v bool) {
	if v {
		idx.nodes.data[ref*nodeRecordSize+56] = 1
	} else {
		idx.nodes.data[ref*nodeRecordSize+56] = 0
	}
}

func (idx *Index) getStabbed(ref int64) bool {
	return idx.nodes.data[ref*nodeRecordSize+56] != 0
}

func (idx *Index) stopAt(q uint64) int64 {
	return int64(binary.LittleEndian.Uint64(idx.stop.data[q*8 : q*8+8]))
}

func toInterval(ref int64, nd node) *interval.Interval {
	iv := interval.New(nd.l, nd.r, nd.payload)
	iv.Seq = uint64(ref)
	return iv
}

// Query returns every interval that stabs q, reading the forest directly
// from the mmap'd arena, in ascending lexicographic order (smallest L
// first), matching schmidt.Index.Query's contract.
func (idx *Index) Query(q uint64) ([]*interval.Interval, error) {
	if !idx.indexed {
		return nil, errors.E(errors.UsageError, "Query called before Index")
	}
	if err := interval.ValidateQuery(q, idx.cfg.BigN); err != nil {
		return nil, err
	}
	out := idx.query(q)
	if idx.cfg.Verify {
		must.Truef(idx.verify(out, q), "external: query(%d) result failed verification", q)
	}
	return out, nil
}

func (idx *Index) query(q uint64) []*interval.Interval {
	stopRef := idx.stopAt(q)
	if stopRef == nilRef {
		return nil
	}

	// Collect the stop-to-root ancestor chain (stopRef first, since parent
	// walks toward the forest root), then reverse it so stopRef is on top of
	// the stack (append/pop from the end). Popping visits the stabbed
	// canonical intervals in descending L order; each is grouped with the
	// stabbed part of its smaller chain, and the groups are emitted in
	// reverse at the end, giving ascending lexicographic order.
	var chain []int64
	for ref := stopRef; idx.nodeAt(ref).parent != nilRef; ref = idx.nodeAt(ref).parent {
		chain = append(chain, ref)
	}
	for a, b := 0, len(chain)-1; a < b; a, b = a+1, b-1 {
		chain[a], chain[b] = chain[b], chain[a]
	}
	process := chain

	var groups [][]*interval.Interval
	for len(process) > 0 {
		ref := process[len(process)-1]
		process = process[:len(process)-1]
		nd := idx.nodeAt(ref)
		group := []*interval.Interval{toInterval(ref, nd)}

		for s := nd.smaller; s != nilRef; {
			sn := idx.nodeAt(s)
			if q > sn.r {
				break
			}
			group = append(group, toInterval(s, sn))
			s = sn.smaller
		}
		groups = append(groups, group)

		for sib := nd.leftSibling; sib != nilRef; {
			sn := idx.nodeAt(sib)
			if sn.r < q {
				break
			}
			process = append(process, sib)
			sib = sn.rightChild
		}
	}
	var output []*interval.Interval
	for g := len(groups) - 1; g >= 0; g-- {
		output = append(output, groups[g]...)
	}
	return output
}

func (idx *Index) verify(output []*interval.Interval, q uint64) bool {
	for _, iv := range output {
		idx.setStabbed(int64(iv.Seq), true)
	}
	ok := true
	for ref := int64(1); ref <= int64(idx.n); ref++ {
		nd := idx.nodeAt(ref)
		stabs := nd.l <= q && q <= nd.r
		if idx.getStabbed(ref) != stabs {
			ok = false
		}
	}
	for _, iv := range output {
		idx.setStabbed(int64(iv.Seq), false)
	}
	return ok
}

func encodeNode(buf []byte, n node) {
	binary.LittleEndian.PutUint64(buf[0:8], n.l)
	binary.LittleEndian.PutUint64(buf[8:16], n.r)
	binary.LittleEndian.PutUint64(buf[16:24], uint64(n.parent))
	binary.LittleEndian.PutUint64(buf[24:32], uint64(n.leftSibling))
	binary.LittleEndian.PutUint64(buf[32:40], uint64(n.rightChild))
	binary.LittleEndian.PutUint64(buf[40:48], uint64(n.smaller))
	binary.LittleEndian.PutUint64(buf[48:56], n.payload)
	buf[56] = 0
}

func decodeNode(buf []byte) node {
	return node{
		l:           binary.LittleEndian.Uint64(buf[0:8]),
		r:           binary.LittleEndian.Uint64(buf[8:16]),
		parent:      int64(binary.LittleEndian.Uint64(buf[16:24])),
		leftSibling: int64(binary.LittleEndian.Uint64(buf[24:32])),
		rightChild:  int64(binary.LittleEndian.Uint64(buf[32:40])),
		smaller:     int64(binary.LittleEndian.Uint64(buf[40:48])),
		payload:     binary.LittleEndian.Uint64(buf[48:56]),
	}
}

// mappedFile pairs an open file with its mmap'd region, guaranteeing
// unmap-then-close on teardown even on a partial-init error path.
type mappedFile struct {
	f    *os.File
	data []byte
}

// createMapped creates (or truncates) path to size bytes and maps it
// read-write.
func createMapped(path string, size int) (*mappedFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, errors.E(errors.IOError, pkgerrors.Wrapf(err, "create %s", path))
	}
	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		return nil, errors.E(errors.IOError, pkgerrors.Wrapf(err, "truncate %s", path))
	}
	return mapFile(f, size, true)
}

// openMapped maps an existing file at path. writable controls PROT_WRITE.
func openMapped(path string, size int, writable bool) (*mappedFile, error) {
	flag := os.O_RDONLY
	if writable {
		flag = os.O_RDWR
	}
	f, err := os.OpenFile(path, flag, 0644)
	if err != nil {
		return nil, errors.E(errors.IOError, pkgerrors.Wrapf(err, "open %s", path))
	}
	return mapFile(f, size, writable)
}

func mapFile(f *os.File, size int, writable bool) (*mappedFile, error) {
	prot := unix.PROT_READ
	if writable {
		prot |= unix.PROT_WRITE
	}
	data, err := unix.Mmap(int(f.Fd()), 0, size, prot, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, errors.E(errors.IOError, pkgerrors.Wrapf(err, "mmap %s", f.Name()))
	}
	return &mappedFile{f: f, data: data}, nil
}

func (m *mappedFile) Close() error {
	if m == nil {
		return nil
	}
	err := unix.Munmap(m.data)
	if cerr := m.f.Close(); err == nil {
		err = cerr
	}
	return err
}
