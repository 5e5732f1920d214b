package output

import (
	"net"
	"strconv"
	"strings"

	"github.com/ajitpratap0/dynboard/pkg/errors"
	"github.com/ajitpratap0/dynboard/pkg/models"
)

const (
	fileScheme      = "file://"
	multicastScheme = "streaming_board://"
)

// Streamer forwards samples outside the process. Streamers are driven from a
// single writer goroutine and need not be safe for concurrent use.
type Streamer interface {
	Name() string
	Write(sample models.Sample) error
	Flush() error
	Close() error
}

// StreamerParams is the parsed form of a streamer_params string
type StreamerParams struct {
	Scheme string // "file" or "streaming_board"
	Path   string // file path
	Append bool   // file mode "a"
	Host   string
	Port   int
}

// ParseStreamerParams parses a streamer_params string. The empty string
// means no streamer and yields nil. Accepted forms:
//
//	file://<path>:w
//	file://<path>:a
//	streaming_board://<ip>:<port>
func ParseStreamerParams(params string) (*StreamerParams, error) {
	params = strings.TrimSpace(params)
	switch {
	case params == "":
		return nil, nil

	case strings.HasPrefix(params, fileScheme):
		rest := strings.TrimPrefix(params, fileScheme)
		idx := strings.LastIndex(rest, ":")
		if idx <= 0 {
			return nil, invalidParams(params, "expected file://<path>:<w|a>")
		}
		path, mode := rest[:idx], rest[idx+1:]
		if mode != "w" && mode != "a" {
			return nil, invalidParams(params, "file mode must be w or a")
		}
		return &StreamerParams{Scheme: "file", Path: path, Append: mode == "a"}, nil

	case strings.HasPrefix(params, multicastScheme):
		host, portStr, err := net.SplitHostPort(strings.TrimPrefix(params, multicastScheme))
		if err != nil {
			return nil, invalidParams(params, err.Error())
		}
		if net.ParseIP(host) == nil {
			return nil, invalidParams(params, "host must be an IP address")
		}
		port, err := strconv.Atoi(portStr)
		if err != nil || port <= 0 || port > 65535 {
			return nil, invalidParams(params, "invalid port")
		}
		return &StreamerParams{Scheme: "streaming_board", Host: host, Port: port}, nil
	}
	return nil, invalidParams(params, "unknown streamer scheme")
}

// NewStreamer opens the streamer described by p
func NewStreamer(p *StreamerParams, channels int) (Streamer, error) {
	switch p.Scheme {
	case "file":
		return newFileStreamer(p.Path, p.Append, channels)
	case "streaming_board":
		return newMulticastStreamer(p.Host, p.Port, channels)
	}
	return nil, errors.Newf(errors.ErrorTypeConfig, "unsupported streamer %q", p.Scheme).
		WithCode(errors.StatusInvalidArguments)
}

func invalidParams(params, reason string) error {
	return errors.New(errors.ErrorTypeConfig, "invalid streamer params: "+reason).
		WithCode(errors.StatusInvalidArguments).
		WithDetail("streamer_params", params)
}
