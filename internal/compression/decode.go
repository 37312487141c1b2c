package compression

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/earthring/server/internal/procedural"
)

// DecompressChunkGeometry is the exact inverse of CompressChunkGeometry: it
// gunzips the payload, validates the header, and reconstructs absolute
// vertex positions from the stored base arc length plus each vertex's
// relative offset. x_absolute = (x_rel_quant * Q_X) + (base_x_quant * Q_X).
func DecompressChunkGeometry(compressed []byte) (*procedural.ChunkGeometry, error) {
	binaryData, err := gunzipDecompress(compressed)
	if err != nil {
		return nil, err
	}
	return decodeFromBinary(binaryData)
}

func gunzipDecompress(data []byte) ([]byte, error) {
	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptedStream, err)
	}
	defer reader.Close()

	out, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptedStream, err)
	}
	return out, nil
}

func decodeFromBinary(data []byte) (*procedural.ChunkGeometry, error) {
	buf := bytes.NewReader(data)

	var header GeometryHeader
	if err := binary.Read(buf, binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("%w: failed to read header: %v", ErrCorruptedStream, err)
	}

	if string(header.Magic[:]) != GeometryMagic {
		return nil, fmt.Errorf("%w: got %q, want %q", ErrBadMagic, header.Magic, GeometryMagic)
	}
	if header.Version != GeometryVersion {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrUnsupportedVersion, header.Version, GeometryVersion)
	}

	use32BitIndices := header.FormatFlags&0x01 != 0
	vertexCount := int(header.VertexCount)
	indexCount := int(header.IndexCount)

	baseX := float64(header.BaseX) * QuantizationX

	vertices := make([][]float64, vertexCount)
	for i := 0; i < vertexCount; i++ {
		var qv QuantizedVertex
		if err := binary.Read(buf, binary.LittleEndian, &qv.X); err != nil {
			return nil, fmt.Errorf("%w: failed to read vertex %d X: %v", ErrCorruptedStream, i, err)
		}
		if err := binary.Read(buf, binary.LittleEndian, &qv.Y); err != nil {
			return nil, fmt.Errorf("%w: failed to read vertex %d Y: %v", ErrCorruptedStream, i, err)
		}
		if err := binary.Read(buf, binary.LittleEndian, &qv.Z); err != nil {
			return nil, fmt.Errorf("%w: failed to read vertex %d Z: %v", ErrCorruptedStream, i, err)
		}

		xAbsolute := float64(qv.X)*QuantizationX + baseX
		vertices[i] = []float64{
			xAbsolute,
			float64(qv.Y) * QuantizationY,
			float64(qv.Z) * QuantizationZ,
		}
	}

	if indexCount%3 != 0 {
		return nil, fmt.Errorf("%w: index_count %d is not a multiple of 3", ErrCorruptedStream, indexCount)
	}
	faceCount := indexCount / 3
	faces := make([][]int, faceCount)
	for i := 0; i < faceCount; i++ {
		face := make([]int, 3)
		for j := 0; j < 3; j++ {
			if use32BitIndices {
				var idx uint32
				if err := binary.Read(buf, binary.LittleEndian, &idx); err != nil {
					return nil, fmt.Errorf("%w: failed to read 32-bit index: %v", ErrCorruptedStream, err)
				}
				face[j] = int(idx)
			} else {
				var idx uint16
				if err := binary.Read(buf, binary.LittleEndian, &idx); err != nil {
					return nil, fmt.Errorf("%w: failed to read 16-bit index: %v", ErrCorruptedStream, err)
				}
				face[j] = int(idx)
			}
		}
		faces[i] = face
	}

	return &procedural.ChunkGeometry{
		Type:     "ring_floor",
		Vertices: vertices,
		Faces:    faces,
	}, nil
}
