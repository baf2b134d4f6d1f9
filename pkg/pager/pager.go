// pkg/pager/pager.go
// Package pager provides page-level I/O over the database file with a
// bounded in-memory buffer pool.
//
// The pager owns the file, the WAL, and the in-memory header. Pages are
// loaded into fixed-size frames, tracked with dirty flags and pin counts,
// and evicted least-recently-used. Commit pushes every dirty page through
// the WAL before the data file is touched, which is what makes multi-page
// transactions crash-atomic.
package pager

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"keel/internal/metrics"
	"keel/pkg/dbfile"
	"keel/pkg/wal"
)

// DefaultPoolSize is the default number of frames in the buffer pool.
const DefaultPoolSize = 256

var (
	ErrPageOutOfRange = errors.New("page number out of range")
	ErrPoolFull       = errors.New("buffer pool full: all pages are pinned")
	ErrDatabaseLocked = errors.New("database file is locked by another process")
)

// Options configures the pager.
type Options struct {
	PoolSize int                   // Buffer pool capacity in frames (default 256)
	Logger   zerolog.Logger        // Defaults to a disabled logger
	Metrics  prometheus.Registerer // Defaults to a private registry
}

// frame is a resident copy of a page.
type frame struct {
	data       []byte
	dirty      bool
	pinCount   uint32
	lastAccess uint64 // drawn from the pager's access counter
}

// Pager manages page I/O between the database file and the buffer pool.
type Pager struct {
	file        *os.File
	wal         *wal.WAL
	header      *dbfile.Header
	headerDirty bool
	pageSize    int

	pool      map[uint32]*frame
	maxFrames int

	accessCounter uint64
	nextTxnID     uint64

	log     zerolog.Logger
	metrics *metrics.Metrics
}

// Open opens or creates a database file. For an existing database the
// header is validated and any committed WAL transactions are replayed
// before the pager is handed to the caller.
func Open(path string, opts Options) (*Pager, error) {
	poolSize := opts.PoolSize
	if poolSize == 0 {
		poolSize = DefaultPoolSize
	}
	reg := opts.Metrics
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := lockFile(file); err != nil {
		file.Close()
		return nil, fmt.Errorf("%w: %s", ErrDatabaseLocked, path)
	}

	info, err := file.Stat()
	if err != nil {
		closeUnlock(file)
		return nil, err
	}

	var header *dbfile.Header
	created := info.Size() == 0
	if created {
		header = dbfile.NewHeader()
		page0 := make([]byte, header.PageSize)
		header.EncodeInto(page0)
		if _, err := file.WriteAt(page0, 0); err != nil {
			closeUnlock(file)
			return nil, err
		}
		if err := file.Sync(); err != nil {
			closeUnlock(file)
			return nil, err
		}
	} else {
		header, err = readHeader(file)
		if err != nil {
			closeUnlock(file)
			return nil, err
		}
	}
	pageSize := header.PageSize

	w, err := wal.Open(path, wal.Options{PageSize: pageSize, Logger: opts.Logger})
	if err != nil {
		closeUnlock(file)
		return nil, err
	}

	m := metrics.New(reg)

	// Replay committed WAL frames left over from a previous process, then
	// re-read the header: recovery may have rewritten page 0.
	applied, err := w.Recover(file, pageSize)
	if err != nil {
		w.Close()
		closeUnlock(file)
		return nil, fmt.Errorf("wal recovery: %w", err)
	}
	m.WalFrames.Add(float64(applied))

	if applied > 0 {
		header, err = readHeader(file)
		if err != nil {
			w.Close()
			closeUnlock(file)
			return nil, err
		}
		if header.PageSize != pageSize {
			w.Close()
			closeUnlock(file)
			return nil, fmt.Errorf("%w: page size changed during WAL recovery (%d -> %d)",
				dbfile.ErrInvalidHeader, pageSize, header.PageSize)
		}
	}

	opts.Logger.Info().
		Str("path", path).
		Bool("created", created).
		Uint32("page_size", pageSize).
		Uint32("page_count", header.PageCount).
		Int("wal_frames_recovered", applied).
		Msg("database opened")

	return &Pager{
		file:      file,
		wal:       w,
		header:    header,
		pageSize:  int(pageSize),
		pool:      make(map[uint32]*frame),
		maxFrames: poolSize,
		nextTxnID: 1,
		log:       opts.Logger,
		metrics:   m,
	}, nil
}

func readHeader(file *os.File) (*dbfile.Header, error) {
	buf := make([]byte, dbfile.HeaderSize)
	if _, err := file.ReadAt(buf, 0); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	header, err := dbfile.DecodeHeader(buf)
	if err != nil {
		return nil, err
	}
	if err := header.Validate(); err != nil {
		return nil, err
	}
	return header, nil
}

func closeUnlock(file *os.File) {
	unlockFile(file)
	file.Close()
}

// PageSize returns the page size in bytes.
func (p *Pager) PageSize() int {
	return p.pageSize
}

// PageCount returns the total number of pages in the database.
func (p *Pager) PageCount() uint32 {
	return p.header.PageCount
}

// Header returns the in-memory file header.
func (p *Pager) Header() *dbfile.Header {
	return p.header
}

// HeaderMut returns the header for mutation and marks it dirty; the next
// flush stages it into page 0.
func (p *Pager) HeaderMut() *dbfile.Header {
	p.headerDirty = true
	return p.header
}

// WALPath returns the path of the sibling WAL file.
func (p *Pager) WALPath() string {
	return p.wal.Path()
}

// ReadPage loads a page into the buffer pool and returns its data. The
// slice aliases the frame and is only valid until the next pager call that
// may evict.
func (p *Pager) ReadPage(pageNum uint32) ([]byte, error) {
	if pageNum == 0 && p.headerDirty {
		if err := p.stageHeaderPage(); err != nil {
			return nil, err
		}
	}
	if err := p.ensureLoaded(pageNum); err != nil {
		return nil, err
	}
	p.touch(pageNum)
	return p.pool[pageNum].data, nil
}

// WritePage is ReadPage plus marking the frame dirty.
func (p *Pager) WritePage(pageNum uint32) ([]byte, error) {
	if pageNum == 0 && p.headerDirty {
		if err := p.stageHeaderPage(); err != nil {
			return nil, err
		}
	}
	if err := p.ensureLoaded(pageNum); err != nil {
		return nil, err
	}
	p.touch(pageNum)
	f := p.pool[pageNum]
	f.dirty = true
	return f.data, nil
}

// Pin prevents a resident page from being evicted.
func (p *Pager) Pin(pageNum uint32) {
	if f, ok := p.pool[pageNum]; ok {
		f.pinCount++
	}
}

// Unpin releases one pin, saturating at zero.
func (p *Pager) Unpin(pageNum uint32) {
	if f, ok := p.pool[pageNum]; ok && f.pinCount > 0 {
		f.pinCount--
	}
}

// Commit makes every change since the last commit durable: dirty pages go
// through the WAL first, then into the data file.
func (p *Pager) Commit() error {
	return p.FlushAll()
}

// FlushAll writes all dirty state to disk as one WAL transaction.
func (p *Pager) FlushAll() error {
	if p.headerDirty {
		if err := p.stageHeaderPage(); err != nil {
			return err
		}
	}

	var dirtyPages []uint32
	for pageNum, f := range p.pool {
		if f.dirty {
			dirtyPages = append(dirtyPages, pageNum)
		}
	}
	// Sorted page order keeps the WAL layout deterministic.
	sort.Slice(dirtyPages, func(i, j int) bool { return dirtyPages[i] < dirtyPages[j] })

	if len(dirtyPages) == 0 {
		return p.file.Sync()
	}

	images := make([]wal.PageImage, 0, len(dirtyPages))
	for _, pageNum := range dirtyPages {
		data := make([]byte, p.pageSize)
		copy(data, p.pool[pageNum].data)
		images = append(images, wal.PageImage{PageNum: pageNum, Data: data})
	}

	txnID := p.nextTxnID
	p.nextTxnID++
	if err := p.wal.AppendTxn(txnID, images); err != nil {
		return err
	}

	for _, img := range images {
		offset := int64(img.PageNum) * int64(p.pageSize)
		if _, err := p.file.WriteAt(img.Data, offset); err != nil {
			return err
		}
		p.pool[img.PageNum].dirty = false
	}

	if err := p.file.Sync(); err != nil {
		return err
	}
	p.headerDirty = false

	p.metrics.CommitsTotal.Inc()
	p.metrics.CommitPages.Add(float64(len(images)))
	p.log.Debug().
		Uint64("txn_id", txnID).
		Int("pages", len(images)).
		Msg("transaction committed")

	return nil
}

// Checkpoint flushes anything dirty and then applies residual committed
// WAL frames to the data file, truncating the log. Returns the number of
// frames applied.
func (p *Pager) Checkpoint() (int, error) {
	if p.headerDirty || p.anyDirty() {
		if err := p.FlushAll(); err != nil {
			return 0, err
		}
	}
	applied, err := p.wal.Checkpoint(p.file, uint32(p.pageSize))
	if err != nil {
		return applied, err
	}
	p.metrics.Checkpoints.Inc()
	p.metrics.WalFrames.Add(float64(applied))
	return applied, nil
}

// Close releases the WAL, the file and the file lock. Uncommitted changes
// in the pool are discarded; durability is Commit's job.
func (p *Pager) Close() error {
	var firstErr error
	if err := p.wal.Close(); err != nil {
		firstErr = err
	}
	if err := unlockFile(p.file); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := p.file.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (p *Pager) anyDirty() bool {
	for _, f := range p.pool {
		if f.dirty {
			return true
		}
	}
	return false
}

// stageHeaderPage serializes the in-memory header into page 0's frame.
func (p *Pager) stageHeaderPage() error {
	if err := p.ensureLoaded(0); err != nil {
		return err
	}
	f := p.pool[0]
	p.header.EncodeInto(f.data)
	f.dirty = true
	f.lastAccess = p.nextAccess()
	return nil
}

// ensureLoaded makes pageNum resident, evicting if the pool is full.
func (p *Pager) ensureLoaded(pageNum uint32) error {
	if _, ok := p.pool[pageNum]; ok {
		p.metrics.CacheHits.Inc()
		return nil
	}

	if pageNum >= p.header.PageCount {
		return fmt.Errorf("%w: page %d (page_count=%d)",
			ErrPageOutOfRange, pageNum, p.header.PageCount)
	}

	if err := p.maybeEvict(); err != nil {
		return err
	}

	data := make([]byte, p.pageSize)
	offset := int64(pageNum) * int64(p.pageSize)
	n, err := p.file.ReadAt(data, offset)
	if err != nil && !(err == io.EOF && n == p.pageSize) {
		return fmt.Errorf("read page %d: %w", pageNum, err)
	}

	p.metrics.CacheMisses.Inc()
	p.pool[pageNum] = &frame{
		data:       data,
		lastAccess: p.nextAccess(),
	}
	return nil
}

// maybeEvict frees a frame slot when the pool is at capacity. The victim
// is the unpinned frame with the oldest access stamp. Dirty victims are
// written straight to the file; the fsync is deferred to commit, which
// re-issues every dirty page through the WAL anyway.
func (p *Pager) maybeEvict() error {
	for len(p.pool) >= p.maxFrames {
		var victim uint32
		var victimFrame *frame
		for pageNum, f := range p.pool {
			if f.pinCount > 0 {
				continue
			}
			if victimFrame == nil || f.lastAccess < victimFrame.lastAccess {
				victim = pageNum
				victimFrame = f
			}
		}
		if victimFrame == nil {
			return ErrPoolFull
		}

		if victimFrame.dirty {
			offset := int64(victim) * int64(p.pageSize)
			if _, err := p.file.WriteAt(victimFrame.data, offset); err != nil {
				return fmt.Errorf("evict page %d: %w", victim, err)
			}
			p.log.Debug().Uint32("page", victim).Msg("dirty page evicted")
		}
		delete(p.pool, victim)
		p.metrics.Evictions.Inc()
	}
	return nil
}

func (p *Pager) nextAccess() uint64 {
	p.accessCounter++
	return p.accessCounter
}

func (p *Pager) touch(pageNum uint32) {
	if f, ok := p.pool[pageNum]; ok {
		f.lastAccess = p.nextAccess()
	}
}

// poolLen is used by tests to observe pool occupancy.
func (p *Pager) poolLen() int {
	return len(p.pool)
}
