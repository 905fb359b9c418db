// Package persistence implements the optional topic database (spec.md
// §6 "Persisted state"): a flat file of length-prefixed frames, one per
// owned Record, each holding the topic address, its last-touched
// timestamp, and its subscriber addresses. The core runs with no
// persistence by default; the overlaynode command wires this package in
// only when its config.Config sets a PersistencePath.
package persistence

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/dhtpubsub/address"
	"github.com/opd-ai/dhtpubsub/limits"
	"github.com/opd-ai/dhtpubsub/wire"
)

// ErrCorrupt indicates a frame's declared length does not match the
// data that follows, or a frame is smaller than the fixed fields
// require.
var ErrCorrupt = errors.New("persistence: corrupt frame")

const fixedFrameFields = address.Size + 8 // topic address + timestamp

// Snapshot is one owned Record as read from or written to the topic
// database (spec.md §6).
type Snapshot struct {
	Topic       address.Address
	Touched     time.Time
	Subscribers []address.Address
}

// encodeFrame lays out a Snapshot using the frame format of spec.md §6:
// 2-byte base-255 length, 32-byte topic address, 8-byte big-endian
// Unix-seconds timestamp, then 32-byte subscriber addresses.
func encodeFrame(s Snapshot) ([]byte, error) {
	body := make([]byte, 0, fixedFrameFields+len(s.Subscribers)*address.Size)
	body = append(body, s.Topic[:]...)

	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(s.Touched.Unix()))
	body = append(body, ts[:]...)

	for _, sub := range s.Subscribers {
		body = append(body, sub[:]...)
	}

	if len(body) > limits.MaxPersistedRecord {
		return nil, limits.ErrMessageTooLarge
	}

	high, low := wire.EncodeLen(len(body))
	frame := make([]byte, 0, 2+len(body))
	frame = append(frame, high, low)
	frame = append(frame, body...)
	return frame, nil
}

// decodeFrame is the reciprocal of encodeFrame, reading the length
// prefix and exactly that many following bytes from r.
func decodeFrame(r io.Reader) (Snapshot, error) {
	var lenPrefix [2]byte
	if _, err := io.ReadFull(r, lenPrefix[:]); err != nil {
		return Snapshot{}, err
	}
	bodyLen := wire.DecodeLen(lenPrefix[0], lenPrefix[1])
	if bodyLen < fixedFrameFields {
		return Snapshot{}, ErrCorrupt
	}
	if err := limits.ValidatePersistedRecord(make([]byte, bodyLen)); err != nil {
		return Snapshot{}, err
	}

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return Snapshot{}, err
	}

	remainder := body[address.Size+8:]
	if len(remainder)%address.Size != 0 {
		return Snapshot{}, ErrCorrupt
	}

	var s Snapshot
	copy(s.Topic[:], body[:address.Size])
	s.Touched = time.Unix(int64(binary.BigEndian.Uint64(body[address.Size:address.Size+8])), 0)

	for off := 0; off < len(remainder); off += address.Size {
		var sub address.Address
		copy(sub[:], remainder[off:off+address.Size])
		s.Subscribers = append(s.Subscribers, sub)
	}

	return s, nil
}

// Save writes snapshots to path, truncating any existing file.
func Save(path string, snapshots []Snapshot) error {
	logger := logrus.WithFields(logrus.Fields{"function": "Save", "package": "persistence", "path": path})

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		logger.WithFields(logrus.Fields{"error": err.Error()}).Error("failed to open topic database for writing")
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, s := range snapshots {
		frame, err := encodeFrame(s)
		if err != nil {
			return err
		}
		if _, err := w.Write(frame); err != nil {
			return err
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{"records": len(snapshots)}).Info("wrote topic database")
	return nil
}

// Load reads every frame from path. A missing file is treated as an
// empty database, not an error, since persistence is optional and the
// file may not yet exist on first run.
func Load(path string) ([]Snapshot, error) {
	logger := logrus.WithFields(logrus.Fields{"function": "Load", "package": "persistence", "path": path})

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var snapshots []Snapshot
	for {
		s, err := decodeFrame(r)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			logger.WithFields(logrus.Fields{"error": err.Error()}).Error("failed to decode topic database frame")
			return snapshots, err
		}
		snapshots = append(snapshots, s)
	}

	logger.WithFields(logrus.Fields{"records": len(snapshots)}).Info("loaded topic database")
	return snapshots, nil
}
