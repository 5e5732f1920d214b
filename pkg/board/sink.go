package board

import (
	"go.uber.org/zap"

	"github.com/ajitpratap0/dynboard/pkg/models"
	"github.com/ajitpratap0/dynboard/pkg/output"
)

// Sink is the output collaborator fed by the acquisition goroutine. Push is
// only called from that goroutine; Flush and Close from the control path.
type Sink interface {
	Push(sample models.Sample)
	Flush() error
	Close() error
}

// SinkFactory creates the sink for one streaming session from the
// start_stream arguments.
type SinkFactory func(bufferSize int, streamerParams string, channels int) (Sink, error)

var _ Sink = (*output.Output)(nil)

// defaultSinkFactory builds an output.Output, the ring buffer plus the
// streamer named by streamerParams, logging through l.
func defaultSinkFactory(l *zap.Logger) SinkFactory {
	build := output.NewSinkFactory(output.WithLogger(l))
	return func(bufferSize int, streamerParams string, channels int) (Sink, error) {
		out, err := build(bufferSize, streamerParams, channels)
		if err != nil {
			return nil, err
		}
		return out, nil
	}
}
