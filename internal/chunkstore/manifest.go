package chunkstore

import (
	"fmt"
	"time"
)

// ChunkRef points at one stored chunk of an upload.
type ChunkRef struct {
	ID   string `json:"id"`
	Size uint32 `json:"size"`
}

// Manifest describes an upload. Uploads are never split, so Chunks always
// holds exactly one entry and the manifest id is that chunk's id.
type Manifest struct {
	TotalSize uint64     `json:"total_size"`
	Chunks    []ChunkRef `json:"chunks"`
	Mime      *string    `json:"mime"`
	CreatedTS time.Time  `json:"created_ts"`
}

// ID returns the manifest's primary identifier.
func (m *Manifest) ID() string {
	if len(m.Chunks) == 0 {
		return ""
	}
	return m.Chunks[0].ID
}

// Validate checks that the chunk sizes add up to TotalSize.
func (m *Manifest) Validate() error {
	var sum uint64
	for _, c := range m.Chunks {
		sum += uint64(c.Size)
	}
	if sum != m.TotalSize {
		return fmt.Errorf("manifest chunk sizes sum to %d, total_size is %d", sum, m.TotalSize)
	}
	return nil
}

// PutFile stores data as a single chunk and returns the manifest for it.
// A nil mime is recorded as null.
func (s *Store) PutFile(data []byte, mime *string, now time.Time) (*Manifest, error) {
	if uint64(len(data)) > uint64(^uint32(0)) {
		return nil, fmt.Errorf("file of %d bytes exceeds single-chunk limit", len(data))
	}
	id, err := s.Put(data)
	if err != nil {
		return nil, err
	}
	m := &Manifest{
		TotalSize: uint64(len(data)),
		Chunks:    []ChunkRef{{ID: id, Size: uint32(len(data))}},
		CreatedTS: now.UTC(),
		Mime:      mime,
	}
	return m, nil
}
