package objectstore

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Archive format for bulk transfer between nodes. A stream is a 4-byte
// magic followed by zero or more records:
//
//	[20 bytes] raw object id
//	[4 bytes]  big-endian payload length
//	[n bytes]  zlib-compressed payload, stored verbatim
//
// Payloads stay compressed end to end, so exporting and importing never
// touches the codec.
var archiveMagic = []byte("GMX1")

const rawObjectIDLen = 20

// ExportArchive serializes every stored object of a repository into a
// single self-describing buffer for bulk transfer.
func (s *Store) ExportArchive(repoHash string) ([]byte, error) {
	ids, err := s.ListObjects(repoHash)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Write(archiveMagic)

	for _, id := range ids {
		rawID, err := hex.DecodeString(id)
		if err != nil || len(rawID) != rawObjectIDLen {
			return nil, fmt.Errorf("export %s: invalid object id %q", repoHash, id)
		}
		compressed, err := os.ReadFile(s.objectPath(repoHash, id))
		if err != nil {
			return nil, fmt.Errorf("export %s: read object %s: %w", repoHash, id, err)
		}

		buf.Write(rawID)
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(compressed)))
		buf.Write(lenBuf[:])
		buf.Write(compressed)
	}
	return buf.Bytes(), nil
}

// ImportArchive unpacks an exported archive into a repository's store,
// overwriting any objects that already exist. The repository's storage
// tree must already be initialized.
func (s *Store) ImportArchive(repoHash string, archive []byte) (int, error) {
	r := bytes.NewReader(archive)

	magic := make([]byte, len(archiveMagic))
	if _, err := io.ReadFull(r, magic); err != nil || !bytes.Equal(magic, archiveMagic) {
		return 0, fmt.Errorf("%w: missing magic", ErrBadArchive)
	}

	imported := 0
	for {
		rawID := make([]byte, rawObjectIDLen)
		if _, err := io.ReadFull(r, rawID); err != nil {
			if errors.Is(err, io.EOF) {
				return imported, nil
			}
			return imported, fmt.Errorf("%w: truncated object id", ErrBadArchive)
		}

		var lenBuf [4]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			return imported, fmt.Errorf("%w: truncated record header", ErrBadArchive)
		}
		payload := make([]byte, binary.BigEndian.Uint32(lenBuf[:]))
		if _, err := io.ReadFull(r, payload); err != nil {
			return imported, fmt.Errorf("%w: truncated payload", ErrBadArchive)
		}

		id := hex.EncodeToString(rawID)
		if err := s.writeCompressed(repoHash, id, payload); err != nil {
			return imported, err
		}
		imported++
	}
}

// writeCompressed stores an already-compressed payload verbatim.
func (s *Store) writeCompressed(repoHash, objectID string, compressed []byte) error {
	objPath := s.objectPath(repoHash, objectID)
	if err := os.MkdirAll(filepath.Dir(objPath), 0o755); err != nil {
		return fmt.Errorf("create object dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(objPath), ".obj-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(compressed); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write object %s: %w", objectID, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, objPath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("store object %s: %w", objectID, err)
	}
	return nil
}
