package manifest

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestOffsets_PrefixSum(t *testing.T) {
	m := Manifest{
		FileSize: 3000,
		Chunks: []ChunkDescriptor{
			{Index: 0, EncryptedSize: 1000},
			{Index: 1, EncryptedSize: 1000},
			{Index: 2, EncryptedSize: 1000},
		},
	}

	offsets := m.Offsets()
	want := []int64{0, 1000, 2000}
	if len(offsets) != len(want) {
		t.Fatalf("Offsets length = %d, want %d", len(offsets), len(want))
	}
	for i := range want {
		if offsets[i] != want[i] {
			t.Errorf("offsets[%d] = %d, want %d", i, offsets[i], want[i])
		}
	}
}

func TestOffsets_UnevenSizes(t *testing.T) {
	m := Manifest{
		Chunks: []ChunkDescriptor{
			{Index: 0, EncryptedSize: 7},
			{Index: 1, EncryptedSize: 512},
			{Index: 2, EncryptedSize: 1},
			{Index: 3, EncryptedSize: 4096},
		},
	}

	offsets := m.Offsets()
	// Each offset must equal the sum of all preceding sizes.
	var sum int64
	for i, c := range m.Chunks {
		if offsets[i] != sum {
			t.Errorf("offsets[%d] = %d, want %d", i, offsets[i], sum)
		}
		sum += c.EncryptedSize
	}
	if got := m.PayloadBytes(); got != sum {
		t.Errorf("PayloadBytes = %d, want %d", got, sum)
	}
}

func TestOffsets_Empty(t *testing.T) {
	var m Manifest
	if offsets := m.Offsets(); len(offsets) != 0 {
		t.Errorf("empty manifest offsets = %v, want empty", offsets)
	}
}

func TestOffsets_SingleChunk(t *testing.T) {
	m := Manifest{Chunks: []ChunkDescriptor{{Index: 0, EncryptedSize: 42}}}
	offsets := m.Offsets()
	if len(offsets) != 1 || offsets[0] != 0 {
		t.Errorf("single chunk offsets = %v, want [0]", offsets)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		m       Manifest
		wantErr error
	}{
		{
			name: "valid",
			m: Manifest{FileSize: 10, Chunks: []ChunkDescriptor{
				{Index: 0, EncryptedSize: 5},
				{Index: 1, EncryptedSize: 5},
			}},
		},
		{
			name: "empty is valid",
			m:    Manifest{},
		},
		{
			name: "gap in indices",
			m: Manifest{Chunks: []ChunkDescriptor{
				{Index: 0, EncryptedSize: 5},
				{Index: 2, EncryptedSize: 5},
			}},
			wantErr: ErrNonContiguous,
		},
		{
			name:    "non-zero first index",
			m:       Manifest{Chunks: []ChunkDescriptor{{Index: 1, EncryptedSize: 5}}},
			wantErr: ErrNonContiguous,
		},
		{
			name:    "zero size chunk",
			m:       Manifest{Chunks: []ChunkDescriptor{{Index: 0, EncryptedSize: 0}}},
			wantErr: ErrInvalidChunkSize,
		},
		{
			name:    "negative file size",
			m:       Manifest{FileSize: -1},
			wantErr: ErrNegativeFileSize,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.m.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadSave_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.json")

	m := Manifest{
		FileSize: 2048,
		Checksum: "cafe0123",
		Chunks: []ChunkDescriptor{
			{Index: 0, EncryptedSize: 1024, Checksum: "deadbeef"},
			{Index: 1, EncryptedSize: 1024},
		},
	}

	if err := m.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if got.FileSize != m.FileSize || got.Checksum != m.Checksum {
		t.Errorf("Load = %+v, want %+v", got, m)
	}
	if len(got.Chunks) != len(m.Chunks) {
		t.Fatalf("Load chunks = %d, want %d", len(got.Chunks), len(m.Chunks))
	}
	for i := range m.Chunks {
		if got.Chunks[i] != m.Chunks[i] {
			t.Errorf("chunk %d = %+v, want %+v", i, got.Chunks[i], m.Chunks[i])
		}
	}
}

func TestLoad_RejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")

	bad := Manifest{Chunks: []ChunkDescriptor{{Index: 3, EncryptedSize: 1}}}
	if err := bad.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if _, err := Load(path); !errors.Is(err, ErrNonContiguous) {
		t.Fatalf("Load = %v, want %v", err, ErrNonContiguous)
	}
}
