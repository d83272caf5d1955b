package file

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/norasector/turbine-common/types"
)

type Format string

const (
	// FormatCF32 is interleaved little-endian float32 I/Q, one complex64 per sample.
	FormatCF32 Format = "cf32"
	// FormatCS8 is signed 8-bit pairs, decoded the same way as live hackrf
	// segments.
	FormatCS8 Format = "cs8"
)

func (f Format) sampleSize() int {
	if f == FormatCS8 {
		return 2
	}
	return 8
}

// FileSource streams a recorded capture. It returns io.EOF once the file is
// exhausted and can be started again, in which case it reads from the top.
type FileSource struct {
	path       string
	format     Format
	readSize   int
	sampleRate int
	centerFreq int
}

func NewFileSource(path string, format Format, readSize, sampleRate, centerFreq int) (*FileSource, error) {
	if format == "" {
		format = FormatCF32
	}
	if format != FormatCF32 && format != FormatCS8 {
		return nil, fmt.Errorf("unknown sample format %q", format)
	}
	if readSize <= 0 {
		return nil, fmt.Errorf("read size must be positive, got %d", readSize)
	}
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}

	return &FileSource{
		path:       path,
		format:     format,
		readSize:   readSize,
		sampleRate: sampleRate,
		centerFreq: centerFreq,
	}, nil
}

func (f *FileSource) SampleRate() float64 {
	return float64(f.sampleRate)
}

func (f *FileSource) Start(ctx context.Context, complexSamples chan<- *types.SegmentComplex64) error {
	fh, err := os.Open(f.path)
	if err != nil {
		return err
	}
	defer fh.Close()

	r := bufio.NewReaderSize(fh, f.readSize*f.format.sampleSize())
	buf := make([]byte, f.readSize*f.format.sampleSize())
	segNum := 0

	for {
		n, err := io.ReadFull(r, buf)
		if errors.Is(err, io.EOF) {
			return io.EOF
		}
		if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
			return err
		}

		seg := f.decode(buf[:n])
		if len(seg.Data) == 0 {
			return io.EOF
		}
		segNum++
		seg.SegmentNumber = segNum

		select {
		case <-ctx.Done():
			return ctx.Err()
		case complexSamples <- seg:
		}

		if n < len(buf) {
			return io.EOF
		}
	}
}

func (f *FileSource) decode(buf []byte) *types.SegmentComplex64 {
	switch f.format {
	case FormatCS8:
		raw := types.SegmentCS8Raw{
			SampleRate: f.sampleRate,
			Data:       make([]byte, len(buf)&^1),
			Frequency:  f.centerFreq,
		}
		copy(raw.Data, buf)
		return raw.ToComplex64()
	default:
		return &types.SegmentComplex64{
			SampleRate: f.sampleRate,
			Data:       DecodeCF32(buf),
			Frequency:  f.centerFreq,
		}
	}
}

// DecodeCF32 converts little-endian float32 I/Q pairs to samples. Trailing
// bytes that do not form a whole sample are ignored.
func DecodeCF32(buf []byte) []complex64 {
	out := make([]complex64, len(buf)/8)
	for i := range out {
		re := math.Float32frombits(binary.LittleEndian.Uint32(buf[i*8:]))
		im := math.Float32frombits(binary.LittleEndian.Uint32(buf[i*8+4:]))
		out[i] = complex(re, im)
	}
	return out
}

// FileSink records transmitted samples as cf32.
type FileSink struct {
	path string
}

// NewFileSink truncates path; later starts append to it.
func NewFileSink(path string) (*FileSink, error) {
	fh, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	if err := fh.Close(); err != nil {
		return nil, err
	}
	return &FileSink{path: path}, nil
}

func (f *FileSink) Start(ctx context.Context, complexSamples <-chan *types.SegmentComplex64) error {
	fh, err := os.OpenFile(f.path, os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(fh)

	err = func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case seg, ok := <-complexSamples:
				if !ok {
					return nil
				}
				if err := binary.Write(w, binary.LittleEndian, seg.Data); err != nil {
					return err
				}
			}
		}
	}()

	if flushErr := w.Flush(); flushErr != nil && err == nil {
		err = flushErr
	}
	if closeErr := fh.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}
