package output

import (
	"bufio"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	gojson "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/ajitpratap0/dynboard/pkg/errors"
	"github.com/ajitpratap0/dynboard/pkg/models"
)

// fileStreamer writes samples as CSV rows (channel values then timestamp) or,
// for *.jsonl files, as JSON lines. A .gz or .zst suffix compresses the
// stream.
type fileStreamer struct {
	path  string
	file  *os.File
	comp  io.WriteCloser // nil when uncompressed
	buf   *bufio.Writer
	csv   *csv.Writer
	json  *gojson.Encoder
	row   []string
	width int
}

func newFileStreamer(path string, appendMode bool, channels int) (*fileStreamer, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeIO, "failed to create output directory").
				WithDetail("path", path)
		}
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if appendMode {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	f, err := os.OpenFile(path, flags, 0o644) // #nosec G304 - path is operator supplied
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeIO, "failed to open output file").
			WithDetail("path", path)
	}

	s := &fileStreamer{path: path, file: f, width: channels}
	var w io.Writer = f
	name := strings.ToLower(path)
	switch {
	case strings.HasSuffix(name, ".gz"):
		s.comp = gzip.NewWriter(f)
		name = strings.TrimSuffix(name, ".gz")
	case strings.HasSuffix(name, ".zst"):
		enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
		if err != nil {
			_ = f.Close()
			return nil, errors.Wrap(err, errors.ErrorTypeIO, "failed to create zstd writer")
		}
		s.comp = enc
		name = strings.TrimSuffix(name, ".zst")
	}
	if s.comp != nil {
		w = s.comp
	}
	s.buf = bufio.NewWriterSize(w, 64*1024)

	if strings.HasSuffix(name, ".jsonl") {
		s.json = gojson.NewEncoder(s.buf)
		s.json.SetEscapeHTML(false)
	} else {
		s.csv = csv.NewWriter(s.buf)
		s.row = make([]string, channels+1)
	}
	return s, nil
}

func (s *fileStreamer) Name() string {
	return "file"
}

func (s *fileStreamer) Write(sample models.Sample) error {
	if s.json != nil {
		return s.json.Encode(sample)
	}
	for i, v := range sample.Values {
		if i >= s.width {
			break
		}
		s.row[i] = strconv.FormatFloat(v, 'f', -1, 64)
	}
	s.row[s.width] = strconv.FormatFloat(sample.Timestamp, 'f', 6, 64)
	return s.csv.Write(s.row)
}

func (s *fileStreamer) Flush() error {
	if s.csv != nil {
		s.csv.Flush()
		if err := s.csv.Error(); err != nil {
			return err
		}
	}
	if err := s.buf.Flush(); err != nil {
		return err
	}
	if f, ok := s.comp.(interface{ Flush() error }); ok {
		return f.Flush()
	}
	return nil
}

func (s *fileStreamer) Close() error {
	err := s.Flush()
	if s.comp != nil {
		if cerr := s.comp.Close(); err == nil {
			err = cerr
		}
	}
	if cerr := s.file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeIO, "failed to close output file").WithDetail("path", s.path)
	}
	return nil
}
