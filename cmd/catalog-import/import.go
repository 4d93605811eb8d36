package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"math/bits"
	"os"
	"sort"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	pgzip "github.com/klauspost/pgzip"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/grup/internal/domain/product"
)

const (
	maxLineSize   = 1 << 20
	progressEvery = 100_000
	// maxFiles is bounded by the width of the per-id file mask.
	maxFiles = 64
)

// ErrRejected is returned by a strict run that found problems.
var ErrRejected = errors.New("import rejected")

// LineError is a record that could not be imported.
type LineError struct {
	File string
	Line int
	Err  error
}

func (e LineError) Error() string {
	return fmt.Sprintf("%s:%d: %v", e.File, e.Line, e.Err)
}

// Report summarises an import run.
type Report struct {
	Records  int
	Imported int
	Invalid  []LineError
	// Duplicates lists product ids that occur more than once across all
	// files, sorted. None of their records is imported.
	Duplicates []string
}

type importer struct {
	lg       *zap.Logger
	repo     product.Repository
	capacity uint
	fpr      float64
	workers  int
	dryRun   bool
	// strict aborts before pass 3 when any record is invalid or duplicated.
	strict bool
}

// fileScan is the pass 1 result for one file.
type fileScan struct {
	filter *bloom.BloomFilter
	// repeated holds ids the file's own filter had already seen. Some are
	// false positives; pass 2 counts them exactly.
	repeated map[string]struct{}
	invalid  map[int]error
	records  int
}

// Run imports files in three passes: validate records and build one bloom
// filter of ids per file, confirm duplicate ids exactly, then upsert every
// valid record whose id is unique.
func (im *importer) Run(ctx context.Context, files []string) (*Report, error) {
	if len(files) > maxFiles {
		return nil, errors.Errorf("at most %d files per run, got %d", maxFiles, len(files))
	}

	im.lg.Info("Pass 1: validating records", zap.Int("files", len(files)))
	scans, err := im.scan(ctx, files)
	if err != nil {
		return nil, errors.Wrap(err, "scan")
	}

	rep := &Report{}
	for i, s := range scans {
		rep.Records += s.records
		for line, err := range s.invalid {
			rep.Invalid = append(rep.Invalid, LineError{File: files[i], Line: line, Err: err})
		}
	}
	sort.Slice(rep.Invalid, func(a, b int) bool {
		x, y := rep.Invalid[a], rep.Invalid[b]
		if x.File != y.File {
			return x.File < y.File
		}
		return x.Line < y.Line
	})

	im.lg.Info("Pass 2: confirming duplicate ids")
	dups, err := im.duplicates(ctx, files, scans)
	if err != nil {
		return nil, errors.Wrap(err, "find duplicates")
	}
	for id := range dups {
		rep.Duplicates = append(rep.Duplicates, id)
	}
	sort.Strings(rep.Duplicates)

	if im.strict && (len(rep.Invalid) > 0 || len(rep.Duplicates) > 0) {
		return rep, errors.Wrapf(ErrRejected, "%d invalid records, %d duplicate ids", len(rep.Invalid), len(rep.Duplicates))
	}
	if im.dryRun {
		im.lg.Info("Dry run, nothing written")
		return rep, nil
	}

	im.lg.Info("Pass 3: writing products")
	imported, err := im.write(ctx, files, scans, dups)
	if err != nil {
		return rep, errors.Wrap(err, "write")
	}
	rep.Imported = imported
	return rep, nil
}

func (im *importer) scan(ctx context.Context, files []string) ([]*fileScan, error) {
	scans := make([]*fileScan, len(files))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(im.workers)
	for i, path := range files {
		g.Go(func() error {
			s := &fileScan{
				filter:   bloom.NewWithEstimates(im.capacity, im.fpr),
				repeated: make(map[string]struct{}),
				invalid:  make(map[int]error),
			}
			err := streamGzFile(ctx, path, func(line int, data []byte) error {
				s.records++
				if s.records%progressEvery == 0 {
					im.lg.Info("Pass 1 progress", zap.String("file", path), zap.Int("records", s.records))
				}

				var p product.Product
				if err := json.Unmarshal(data, &p); err != nil {
					s.invalid[line] = errors.Wrap(err, "decode")
					return nil
				}
				if err := checkRecord(&p); err != nil {
					s.invalid[line] = err
					return nil
				}
				if s.filter.TestAndAddString(p.ID) {
					s.repeated[p.ID] = struct{}{}
				}
				return nil
			})
			if err != nil {
				return errors.Wrapf(err, "scan %s", path)
			}

			im.lg.Info("Pass 1 complete",
				zap.String("file", path),
				zap.Int("records", s.records),
				zap.Int("invalid", len(s.invalid)),
			)
			scans[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return scans, nil
}

// duplicates re-reads every file and returns the ids that really occur more
// than once. An id seen in two files sets two bits of its mask; an id seen
// twice in one file is counted directly.
func (im *importer) duplicates(ctx context.Context, files []string, scans []*fileScan) (map[string]struct{}, error) {
	type candidates struct {
		masks  map[string]uint64
		counts map[string]int
	}
	results := make([]candidates, len(files))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(im.workers)
	for i, path := range files {
		g.Go(func() error {
			own := scans[i]
			c := candidates{masks: make(map[string]uint64), counts: make(map[string]int)}
			bit := uint64(1) << uint(i)

			err := streamGzFile(ctx, path, func(line int, data []byte) error {
				if _, bad := own.invalid[line]; bad {
					return nil
				}
				id, err := recordID(data)
				if err != nil {
					return errors.Wrapf(err, "line %d", line)
				}
				if _, ok := own.repeated[id]; ok {
					c.counts[id]++
				}
				for j, other := range scans {
					if j != i && other.filter.TestString(id) {
						c.masks[id] |= bit
						break
					}
				}
				return nil
			})
			if err != nil {
				return errors.Wrapf(err, "rescan %s", path)
			}
			results[i] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[string]uint64)
	dups := make(map[string]struct{})
	for _, c := range results {
		for id, mask := range c.masks {
			merged[id] |= mask
		}
		for id, n := range c.counts {
			if n > 1 {
				dups[id] = struct{}{}
			}
		}
	}
	for id, mask := range merged {
		if bits.OnesCount64(mask) >= 2 {
			dups[id] = struct{}{}
		}
	}
	return dups, nil
}

func (im *importer) write(ctx context.Context, files []string, scans []*fileScan, dups map[string]struct{}) (int, error) {
	written := make([]int, len(files))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(im.workers)
	for i, path := range files {
		g.Go(func() error {
			own := scans[i]
			err := streamGzFile(ctx, path, func(line int, data []byte) error {
				if _, bad := own.invalid[line]; bad {
					return nil
				}
				var p product.Product
				if err := json.Unmarshal(data, &p); err != nil {
					return errors.Wrapf(err, "line %d", line)
				}
				if _, dup := dups[p.ID]; dup {
					return nil
				}
				if err := im.repo.Upsert(ctx, &p); err != nil {
					return errors.Wrapf(err, "upsert %s", p.ID)
				}
				written[i]++
				return nil
			})
			if err != nil {
				return errors.Wrapf(err, "write %s", path)
			}
			im.lg.Info("File imported", zap.String("file", path), zap.Int("products", written[i]))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	var total int
	for _, n := range written {
		total += n
	}
	return total, nil
}

// checkRecord validates a decoded record before it is considered for import.
func checkRecord(p *product.Product) error {
	if p.ID == "" {
		return errors.New("id is required")
	}
	if p.Name == "" {
		return errors.New("name is required")
	}
	return product.Check(p)
}

// recordID extracts the id of a record without decoding the rest of it.
func recordID(data []byte) (string, error) {
	var id string
	err := jx.DecodeBytes(data).ObjBytes(func(d *jx.Decoder, key []byte) error {
		if string(key) != "id" {
			return d.Skip()
		}
		s, err := d.Str()
		id = s
		return err
	})
	return id, err
}

// streamGzFile opens a gzip-compressed JSON-lines file and calls fn for each
// non-empty line. Line numbers start at 1. data is only valid during the call.
func streamGzFile(ctx context.Context, path string, fn func(line int, data []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	line := 0
	for scanner.Scan() {
		line++
		if err := ctx.Err(); err != nil {
			return err
		}
		data := scanner.Bytes()
		if len(data) == 0 {
			continue
		}
		if err := fn(line, data); err != nil {
			return err
		}
	}

	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}
	return nil
}
