package persistence

import (
	"bytes"
	"fmt"
	"io"

	"github.com/hupe1980/mailclass/linear"
	"github.com/hupe1980/mailclass/taxonomy"
	"github.com/hupe1980/mailclass/vectorize"
)

// maxBodyLen bounds the stored body size a reader will allocate.
const maxBodyLen = 1 << 33

// maxLabelCount and maxLabelBytes bound a single label space. Real
// taxonomies have a handful of labels; anything near these limits is a
// corrupt file that slipped past the checksum.
const (
	maxLabelCount = 1 << 20
	maxLabelBytes = 1 << 16
)

// Artifact is everything a trained classifier needs to be rebuilt:
// the fitted vectorizer, the four label vocabularies in dimension
// order, and the model parameters. The label spaces stored here are
// authoritative at load time; head shapes must agree with them.
type Artifact struct {
	Vectorizer  vectorize.State
	LabelSpaces [taxonomy.NumDimensions][]string
	Model       linear.State
}

// WriteArtifact encodes the artifact to w: fixed header, then the
// checksummed (and optionally block-compressed) body.
func WriteArtifact(w io.Writer, a *Artifact, compression CompressionType) error {
	if !compression.Valid() {
		return fmt.Errorf("%w: %d", ErrUnknownCompression, compression)
	}

	if err := validateArtifact(a); err != nil {
		return err
	}

	logical, err := encodeBody(a)
	if err != nil {
		return err
	}

	body := logical

	if compression != CompressionNone {
		var buf bytes.Buffer

		cw := NewCompressedBlockWriter(&buf, compression, 0)
		if _, err := cw.Write(logical); err != nil {
			return err
		}

		if err := cw.Flush(); err != nil {
			return err
		}

		body = buf.Bytes()
	}

	bw := NewBinaryWriter(w)

	header := Header{
		Compression: uint8(compression),
		BodyLen:     uint64(len(body)),
		Checksum:    CalculateChecksum(body),
	}
	if err := bw.WriteHeader(&header); err != nil {
		return err
	}

	_, err = w.Write(body)

	return err
}

// ReadArtifact decodes an artifact from r, verifying the body checksum
// before any section is parsed.
func ReadArtifact(r io.Reader) (*Artifact, error) {
	br := NewBinaryReader(r)

	header, err := br.ReadHeader()
	if err != nil {
		return nil, err
	}

	compression := CompressionType(header.Compression)
	if !compression.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownCompression, header.Compression)
	}

	if header.BodyLen > maxBodyLen {
		return nil, fmt.Errorf("%w: body length %d", ErrCorruptBody, header.BodyLen)
	}

	body := make([]byte, header.BodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}

	if actual := CalculateChecksum(body); actual != header.Checksum {
		return nil, &ChecksumMismatchError{Expected: header.Checksum, Actual: actual}
	}

	if compression != CompressionNone {
		body, err = DecompressAll(body, 0, compression)
		if err != nil {
			return nil, err
		}
	}

	a, err := decodeBody(body)
	if err != nil {
		return nil, err
	}

	if err := validateArtifact(a); err != nil {
		return nil, err
	}

	return a, nil
}

// validateArtifact cross-checks the three sections. Head shapes derive
// from the label spaces, so an artifact whose weights disagree with its
// own vocabularies is rejected instead of silently mispredicting.
func validateArtifact(a *Artifact) error {
	nFeatures := a.Vectorizer.NFeatures
	if nFeatures < 1 {
		return fmt.Errorf("%w: vectorizer feature count %d", ErrCorruptBody, nFeatures)
	}

	if len(a.Vectorizer.DocFreq) != nFeatures {
		return &ShapeMismatchError{Section: "vectorizer document frequencies", Expected: nFeatures, Actual: len(a.Vectorizer.DocFreq)}
	}

	if a.Vectorizer.DocCount < 0 {
		return fmt.Errorf("%w: vectorizer document count %d", ErrCorruptBody, a.Vectorizer.DocCount)
	}

	if a.Model.NFeatures != nFeatures {
		return &ShapeMismatchError{Section: "model feature width", Expected: nFeatures, Actual: a.Model.NFeatures}
	}

	for i, hs := range a.Model.Heads {
		wantRows := max(1, len(a.LabelSpaces[i]))

		if hs.Rows != wantRows {
			return &ShapeMismatchError{Section: fmt.Sprintf("head %d classes", i), Expected: wantRows, Actual: hs.Rows}
		}

		if len(hs.Weights) != hs.Rows*nFeatures {
			return &ShapeMismatchError{Section: fmt.Sprintf("head %d weights", i), Expected: hs.Rows * nFeatures, Actual: len(hs.Weights)}
		}

		if len(hs.Bias) != hs.Rows {
			return &ShapeMismatchError{Section: fmt.Sprintf("head %d bias", i), Expected: hs.Rows, Actual: len(hs.Bias)}
		}
	}

	return nil
}

func encodeBody(a *Artifact) ([]byte, error) {
	var buf bytes.Buffer
	bw := NewBinaryWriter(&buf)

	// Vectorizer section.
	if err := bw.WriteUint64(uint64(a.Vectorizer.NFeatures)); err != nil {
		return nil, err
	}

	if err := bw.WriteBool(a.Vectorizer.UseIDF); err != nil {
		return nil, err
	}

	if err := bw.WriteUint64(uint64(a.Vectorizer.DocCount)); err != nil {
		return nil, err
	}

	if err := bw.WriteInt64Slice(a.Vectorizer.DocFreq); err != nil {
		return nil, err
	}

	// Label space section, in dimension order.
	for _, space := range a.LabelSpaces {
		if err := bw.WriteUint32(uint32(len(space))); err != nil {
			return nil, err
		}

		for _, label := range space {
			if err := bw.WriteString(label); err != nil {
				return nil, err
			}
		}
	}

	// Model section.
	for _, hs := range a.Model.Heads {
		if err := bw.WriteUint32(uint32(hs.Rows)); err != nil {
			return nil, err
		}

		if err := bw.WriteUint32(uint32(a.Model.NFeatures)); err != nil {
			return nil, err
		}

		if err := bw.WriteFloat32Slice(hs.Weights); err != nil {
			return nil, err
		}

		if err := bw.WriteFloat32Slice(hs.Bias); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

func decodeBody(body []byte) (*Artifact, error) {
	br := NewBinaryReader(bytes.NewReader(body))

	a := &Artifact{}

	// Vectorizer section.
	nFeatures, err := br.ReadUint64()
	if err != nil {
		return nil, err
	}

	// Guard allocations against lengths the body cannot actually hold.
	if nFeatures == 0 || nFeatures > uint64(len(body)/8) {
		return nil, fmt.Errorf("%w: feature count %d", ErrCorruptBody, nFeatures)
	}

	a.Vectorizer.NFeatures = int(nFeatures)

	if a.Vectorizer.UseIDF, err = br.ReadBool(); err != nil {
		return nil, err
	}

	docCount, err := br.ReadUint64()
	if err != nil {
		return nil, err
	}

	a.Vectorizer.DocCount = int64(docCount)

	if a.Vectorizer.DocFreq, err = br.ReadInt64Slice(int(nFeatures)); err != nil {
		return nil, err
	}

	// Label space section.
	for d := range a.LabelSpaces {
		count, err := br.ReadUint32()
		if err != nil {
			return nil, err
		}

		if count > maxLabelCount {
			return nil, fmt.Errorf("%w: label count %d", ErrCorruptBody, count)
		}

		space := make([]string, count)
		for i := range space {
			if space[i], err = br.ReadString(maxLabelBytes); err != nil {
				return nil, err
			}
		}

		a.LabelSpaces[d] = space
	}

	// Model section.
	a.Model.NFeatures = int(nFeatures)

	for i := range a.Model.Heads {
		rows, err := br.ReadUint32()
		if err != nil {
			return nil, err
		}

		cols, err := br.ReadUint32()
		if err != nil {
			return nil, err
		}

		if uint64(cols) != nFeatures {
			return nil, &ShapeMismatchError{Section: fmt.Sprintf("head %d feature width", i), Expected: int(nFeatures), Actual: int(cols)}
		}

		weightLen := uint64(rows) * uint64(cols)
		if weightLen > uint64(len(body)/4) {
			return nil, fmt.Errorf("%w: head %d weight count %d", ErrCorruptBody, i, weightLen)
		}

		a.Model.Heads[i].Rows = int(rows)

		if a.Model.Heads[i].Weights, err = br.ReadFloat32Slice(int(weightLen)); err != nil {
			return nil, err
		}

		if a.Model.Heads[i].Bias, err = br.ReadFloat32Slice(int(rows)); err != nil {
			return nil, err
		}
	}

	return a, nil
}
