// pkg/wal/wal.go
// Package wal implements the write-ahead log that makes multi-page commits
// crash-atomic.
//
// # WAL FILE FORMAT
//
// The log lives in a sibling file named "<db>-wal". It starts with a
// 16-byte header followed by a sequence of frames. All integers are
// big-endian.
//
// Header:
//
//	0-7:   Magic ("KEELWAL1")
//	8-11:  Format version (1)
//	12-15: Database page size
//
// Page frame (type byte 1):
//
//	0:     Frame type
//	1-8:   Transaction id
//	9-12:  Page number
//	13-16: Payload length
//	17-20: Checksum (FNV-1a 32 over bytes 0..17 and the payload)
//	21-:   Payload
//
// Commit frame (type byte 2):
//
//	0:     Frame type
//	1-8:   Transaction id
//	9-12:  Page frame count for this transaction
//	13-16: Checksum (FNV-1a 32 over bytes 0..13)
//
// A transaction is committed iff a checksum-valid commit frame is present
// whose frame count matches the page frames recorded for its transaction
// id. Recovery applies committed transactions in log order and truncates
// the file back to the header, so startup is idempotent.
package wal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"

	"keel/internal/encoding"
)

const (
	// HeaderSize is the size of the WAL header in bytes.
	HeaderSize = 16

	// Magic identifies a keel WAL file.
	Magic = "KEELWAL1"

	// Version is the WAL format version.
	Version = 1

	frameTypePage   byte = 1
	frameTypeCommit byte = 2

	pageFrameHeaderSize   = 1 + 8 + 4 + 4 // type + txn_id + page_num + payload_len
	commitFrameHeaderSize = 1 + 8 + 4     // type + txn_id + frame_count

	// maxRecoverPayload bounds the payload length recovery will buffer.
	// Payloads are page images, far below this; a larger length can only
	// come from a corrupt tail.
	maxRecoverPayload = 16 << 20
)

var (
	ErrInvalidMagic     = errors.New("invalid WAL header (bad magic)")
	ErrInvalidVersion   = errors.New("unsupported WAL version")
	ErrPageSizeMismatch = errors.New("WAL page size does not match database page size")
	ErrFrameTooLarge    = errors.New("page payload too large for WAL")
)

// PageImage is a full page snapshot queued for a transaction.
type PageImage struct {
	PageNum uint32
	Data    []byte
}

// Options configures the WAL.
type Options struct {
	PageSize uint32         // Database page size
	Logger   zerolog.Logger // Defaults to a no-op logger
}

// WAL is an append-only transaction log.
type WAL struct {
	file     *os.File
	path     string
	pageSize uint32
	log      zerolog.Logger
}

// WALPath returns the log file path for a database path.
func WALPath(dbPath string) string {
	return dbPath + "-wal"
}

// Open opens or creates the WAL for the database at dbPath. A fresh file
// gets a header and an fsync; an existing file has its header verified
// against the database page size.
func Open(dbPath string, opts Options) (*WAL, error) {
	path := WALPath(dbPath)
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("open wal: %w", err)
	}

	w := &WAL{
		file:     file,
		path:     path,
		pageSize: opts.PageSize,
		log:      opts.Logger,
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}

	if info.Size() == 0 {
		if err := w.writeHeader(); err != nil {
			file.Close()
			return nil, err
		}
		if err := file.Sync(); err != nil {
			file.Close()
			return nil, err
		}
	} else if err := w.verifyHeader(); err != nil {
		file.Close()
		return nil, err
	}

	return w, nil
}

// Path returns the WAL file path.
func (w *WAL) Path() string {
	return w.path
}

// Close closes the log file.
func (w *WAL) Close() error {
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

// AppendTxn appends one transaction: every page frame followed by a commit
// frame, then a single fsync. The transaction is durable when AppendTxn
// returns nil.
func (w *WAL) AppendTxn(txnID uint64, pages []PageImage) error {
	if _, err := w.file.Seek(0, io.SeekEnd); err != nil {
		return err
	}

	buf := bufio.NewWriter(w.file)
	for _, page := range pages {
		if int64(len(page.Data)) > int64(^uint32(0)) {
			return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(page.Data))
		}

		header := make([]byte, pageFrameHeaderSize)
		header[0] = frameTypePage
		binary.BigEndian.PutUint64(header[1:9], txnID)
		binary.BigEndian.PutUint32(header[9:13], page.PageNum)
		binary.BigEndian.PutUint32(header[13:17], uint32(len(page.Data)))
		checksum := encoding.Fnv32(header, page.Data)

		if _, err := buf.Write(header); err != nil {
			return err
		}
		if err := writeU32(buf, checksum); err != nil {
			return err
		}
		if _, err := buf.Write(page.Data); err != nil {
			return err
		}
	}

	if int64(len(pages)) > int64(^uint32(0)) {
		return fmt.Errorf("%w: %d page frames in one transaction", ErrFrameTooLarge, len(pages))
	}
	commit := make([]byte, commitFrameHeaderSize)
	commit[0] = frameTypeCommit
	binary.BigEndian.PutUint64(commit[1:9], txnID)
	binary.BigEndian.PutUint32(commit[9:13], uint32(len(pages)))
	checksum := encoding.Fnv32(commit)

	if _, err := buf.Write(commit); err != nil {
		return err
	}
	if err := writeU32(buf, checksum); err != nil {
		return err
	}
	if err := buf.Flush(); err != nil {
		return err
	}

	return w.file.Sync()
}

// Recover replays every committed transaction into the database file and
// truncates the log back to its header. Called once during pager open; an
// empty log is a no-op.
func (w *WAL) Recover(db *os.File, pageSize uint32) (int, error) {
	return w.applyAndTruncate(db, pageSize, "recover")
}

// Checkpoint applies any residual committed frames to the database file and
// truncates the log. Every committed frame still in the log is written again,
// including pages that normal commits already wrote to the data file; the
// return value counts all of them.
func (w *WAL) Checkpoint(db *os.File, pageSize uint32) (int, error) {
	return w.applyAndTruncate(db, pageSize, "checkpoint")
}

func (w *WAL) applyAndTruncate(db *os.File, pageSize uint32, op string) (int, error) {
	if _, err := w.file.Seek(HeaderSize, io.SeekStart); err != nil {
		return 0, err
	}

	reader := bufio.NewReader(w.file)
	pending := make(map[uint64][]PageImage)
	applied := 0

	// Scan frames until the log ends or the tail stops validating. A frame
	// that fails its checksum poisons the framing, so scanning stops there
	// and everything after it is discarded by the truncate below.
scan:
	for {
		frameType, err := reader.ReadByte()
		if err == io.EOF {
			break
		}
		if err != nil {
			return applied, err
		}

		switch frameType {
		case frameTypePage:
			header := make([]byte, pageFrameHeaderSize)
			header[0] = frameType
			if _, err := io.ReadFull(reader, header[1:]); err != nil {
				break scan
			}
			txnID := binary.BigEndian.Uint64(header[1:9])
			pageNum := binary.BigEndian.Uint32(header[9:13])
			payloadLen := binary.BigEndian.Uint32(header[13:17])

			if payloadLen > maxRecoverPayload {
				break scan
			}

			var storedChecksum [4]byte
			if _, err := io.ReadFull(reader, storedChecksum[:]); err != nil {
				break scan
			}
			payload := make([]byte, payloadLen)
			if _, err := io.ReadFull(reader, payload); err != nil {
				break scan
			}
			if encoding.Fnv32(header, payload) != binary.BigEndian.Uint32(storedChecksum[:]) {
				break scan
			}
			pending[txnID] = append(pending[txnID], PageImage{PageNum: pageNum, Data: payload})

		case frameTypeCommit:
			header := make([]byte, commitFrameHeaderSize)
			header[0] = frameType
			if _, err := io.ReadFull(reader, header[1:]); err != nil {
				break scan
			}
			var storedChecksum [4]byte
			if _, err := io.ReadFull(reader, storedChecksum[:]); err != nil {
				break scan
			}
			if encoding.Fnv32(header) != binary.BigEndian.Uint32(storedChecksum[:]) {
				break scan
			}

			txnID := binary.BigEndian.Uint64(header[1:9])
			frameCount := binary.BigEndian.Uint32(header[9:13])
			pages := pending[txnID]
			if uint32(len(pages)) != frameCount {
				// Commit record does not match the buffered frames; the
				// whole transaction is invalid.
				delete(pending, txnID)
				break scan
			}

			for _, page := range pages {
				offset := int64(page.PageNum) * int64(pageSize)
				if _, err := db.WriteAt(page.Data, offset); err != nil {
					return applied, err
				}
				applied++
			}
			delete(pending, txnID)

		default:
			break scan
		}
	}

	if applied > 0 {
		if err := db.Sync(); err != nil {
			return applied, err
		}
	}

	if err := w.file.Truncate(HeaderSize); err != nil {
		return applied, err
	}
	if err := w.file.Sync(); err != nil {
		return applied, err
	}

	w.log.Debug().
		Str("op", op).
		Int("frames_applied", applied).
		Msg("wal truncated to header")

	return applied, nil
}

func (w *WAL) writeHeader() error {
	header := make([]byte, HeaderSize)
	copy(header[0:8], Magic)
	binary.BigEndian.PutUint32(header[8:12], Version)
	binary.BigEndian.PutUint32(header[12:16], w.pageSize)

	_, err := w.file.WriteAt(header, 0)
	return err
}

func (w *WAL) verifyHeader() error {
	header := make([]byte, HeaderSize)
	if _, err := w.file.ReadAt(header, 0); err != nil {
		return fmt.Errorf("read wal header: %w", err)
	}

	if string(header[0:8]) != Magic {
		return ErrInvalidMagic
	}
	version := binary.BigEndian.Uint32(header[8:12])
	if version != Version {
		return fmt.Errorf("%w: %d", ErrInvalidVersion, version)
	}
	pageSize := binary.BigEndian.Uint32(header[12:16])
	if pageSize != w.pageSize {
		return fmt.Errorf("%w: wal has %d, database has %d",
			ErrPageSizeMismatch, pageSize, w.pageSize)
	}
	return nil
}

func writeU32(buf *bufio.Writer, v uint32) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	_, err := buf.Write(b[:])
	return err
}
