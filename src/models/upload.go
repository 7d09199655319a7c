package models

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/google/uuid"
)

// NonceSize mirrors the AES-GCM nonce size; upload codecs store nonces as
// fixed 12-byte slots.
const NonceSize = 12

const uploadCodecVersion = 1

// UploadSession is the ephemeral record of an in-progress chunked upload,
// stored binary-encoded in Redis under upload:{user_id}:{upload_id} with a
// 24-hour TTL.
//
// ChunkNonces has one 12-byte slot per chunk; a slot is all zeroes until
// its chunk has been accepted. ChunksReceived only counts first arrivals,
// so a re-sent chunk overwrites its staged file without double counting.
type UploadSession struct {
	UploadID       string
	UserID         uuid.UUID
	Filename       string
	TotalSize      int64
	TotalChunks    int
	ChunksReceived int
	ExpectedHash   string
	CreatedAt      int64
	BytesWritten   int64
	ChunkNonces    [][]byte
}

// NewUploadSession initializes a session with zeroed nonce slots.
func NewUploadSession(uploadID string, userID uuid.UUID, filename string, totalSize int64, totalChunks int, expectedHash string, createdAt int64) *UploadSession {
	nonces := make([][]byte, totalChunks)
	for i := range nonces {
		nonces[i] = make([]byte, NonceSize)
	}
	return &UploadSession{
		UploadID:     uploadID,
		UserID:       userID,
		Filename:     filename,
		TotalSize:    totalSize,
		TotalChunks:  totalChunks,
		ExpectedHash: expectedHash,
		CreatedAt:    createdAt,
		ChunkNonces:  nonces,
	}
}

// ChunkSeen reports whether chunk i has already been accepted (its nonce
// slot is non-zero).
func (u *UploadSession) ChunkSeen(i int) bool {
	for _, b := range u.ChunkNonces[i] {
		if b != 0 {
			return true
		}
	}
	return false
}

// StagedChunkName returns the deterministic staging filename for chunk i.
func StagedChunkName(uploadID string, i int) string {
	return fmt.Sprintf("%s_%d.enc", uploadID, i)
}

// Encode serializes the session with a stable little-endian length-prefixed
// layout. The format is versioned so stale Redis entries can be rejected
// after an upgrade.
func (u *UploadSession) Encode() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(uploadCodecVersion)

	if err := writeString(&buf, u.UploadID); err != nil {
		return nil, err
	}
	buf.Write(u.UserID[:])
	if err := writeString(&buf, u.Filename); err != nil {
		return nil, err
	}
	writeInt64(&buf, u.TotalSize)
	writeUint32(&buf, uint32(u.TotalChunks))
	writeUint32(&buf, uint32(u.ChunksReceived))
	if err := writeString(&buf, u.ExpectedHash); err != nil {
		return nil, err
	}
	writeInt64(&buf, u.CreatedAt)
	writeInt64(&buf, u.BytesWritten)

	if len(u.ChunkNonces) != u.TotalChunks {
		return nil, fmt.Errorf("nonce slots (%d) do not match total chunks (%d)", len(u.ChunkNonces), u.TotalChunks)
	}
	for i, nonce := range u.ChunkNonces {
		if len(nonce) != NonceSize {
			return nil, fmt.Errorf("chunk %d: nonce size %d", i, len(nonce))
		}
		buf.Write(nonce)
	}

	return buf.Bytes(), nil
}

// DecodeUploadSession parses a session previously produced by Encode.
func DecodeUploadSession(data []byte) (*UploadSession, error) {
	r := bytes.NewReader(data)

	version, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("upload session: %w", err)
	}
	if version != uploadCodecVersion {
		return nil, fmt.Errorf("upload session: unsupported codec version %d", version)
	}

	u := &UploadSession{}
	if u.UploadID, err = readString(r); err != nil {
		return nil, fmt.Errorf("upload session id: %w", err)
	}
	if _, err = io.ReadFull(r, u.UserID[:]); err != nil {
		return nil, fmt.Errorf("upload session user: %w", err)
	}
	if u.Filename, err = readString(r); err != nil {
		return nil, fmt.Errorf("upload session filename: %w", err)
	}
	if u.TotalSize, err = readInt64(r); err != nil {
		return nil, err
	}
	totalChunks, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	received, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	u.TotalChunks = int(totalChunks)
	u.ChunksReceived = int(received)
	if u.ExpectedHash, err = readString(r); err != nil {
		return nil, fmt.Errorf("upload session hash: %w", err)
	}
	if u.CreatedAt, err = readInt64(r); err != nil {
		return nil, err
	}
	if u.BytesWritten, err = readInt64(r); err != nil {
		return nil, err
	}

	if u.TotalChunks < 0 || int64(u.TotalChunks)*NonceSize > int64(r.Len()) {
		return nil, fmt.Errorf("upload session: truncated nonce table")
	}
	u.ChunkNonces = make([][]byte, u.TotalChunks)
	for i := range u.ChunkNonces {
		nonce := make([]byte, NonceSize)
		if _, err := io.ReadFull(r, nonce); err != nil {
			return nil, fmt.Errorf("upload session nonce %d: %w", i, err)
		}
		u.ChunkNonces[i] = nonce
	}

	return u, nil
}

// ChunkInfo is one chunk table entry of a committed file: where the staged
// ciphertext lives and the nonce that opens it.
type ChunkInfo struct {
	Index         int
	Nonce         []byte
	Filename      string
	SizeEncrypted int64
}

// EncodeChunkTable serializes chunk entries in ascending index order with
// the same length-prefixed layout used for upload sessions. The result is
// persisted on the file row.
func EncodeChunkTable(chunks []ChunkInfo) ([]byte, error) {
	var buf bytes.Buffer
	writeUint32(&buf, uint32(len(chunks)))

	for _, c := range chunks {
		if len(c.Nonce) != NonceSize {
			return nil, fmt.Errorf("chunk %d: nonce size %d", c.Index, len(c.Nonce))
		}
		writeUint32(&buf, uint32(c.Index))
		buf.Write(c.Nonce)
		if err := writeString(&buf, c.Filename); err != nil {
			return nil, err
		}
		writeInt64(&buf, c.SizeEncrypted)
	}

	return buf.Bytes(), nil
}

// DecodeChunkTable parses a chunk table from a file row.
func DecodeChunkTable(data []byte) ([]ChunkInfo, error) {
	r := bytes.NewReader(data)

	count, err := readUint32(r)
	if err != nil {
		return nil, fmt.Errorf("chunk table: %w", err)
	}
	if int64(count)*uint32Size > int64(len(data)) {
		return nil, fmt.Errorf("chunk table: truncated (%d entries)", count)
	}

	chunks := make([]ChunkInfo, 0, count)
	for i := uint32(0); i < count; i++ {
		index, err := readUint32(r)
		if err != nil {
			return nil, fmt.Errorf("chunk %d index: %w", i, err)
		}
		nonce := make([]byte, NonceSize)
		if _, err := io.ReadFull(r, nonce); err != nil {
			return nil, fmt.Errorf("chunk %d nonce: %w", i, err)
		}
		filename, err := readString(r)
		if err != nil {
			return nil, fmt.Errorf("chunk %d filename: %w", i, err)
		}
		size, err := readInt64(r)
		if err != nil {
			return nil, fmt.Errorf("chunk %d size: %w", i, err)
		}
		chunks = append(chunks, ChunkInfo{
			Index:         int(index),
			Nonce:         nonce,
			Filename:      filename,
			SizeEncrypted: size,
		})
	}

	return chunks, nil
}

const uint32Size = 4

const maxEncodedString = 1 << 16

func writeString(buf *bytes.Buffer, s string) error {
	if len(s) >= maxEncodedString {
		return fmt.Errorf("string too long to encode: %d bytes", len(s))
	}
	var lenBuf [2]byte
	binary.LittleEndian.PutUint16(lenBuf[:], uint16(len(s)))
	buf.Write(lenBuf[:])
	buf.WriteString(s)
	return nil
}

func readString(r *bytes.Reader) (string, error) {
	var lenBuf [2]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return "", err
	}
	n := binary.LittleEndian.Uint16(lenBuf[:])
	if int(n) > r.Len() {
		return "", fmt.Errorf("truncated string of length %d", n)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func readUint32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func writeInt64(buf *bytes.Buffer, v int64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	buf.Write(b[:])
}

func readInt64(r *bytes.Reader) (int64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(b[:])), nil
}
