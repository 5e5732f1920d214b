package output

import (
	"encoding/binary"
	"math"
	"net"

	"golang.org/x/net/ipv4"

	"github.com/ajitpratap0/dynboard/pkg/errors"
	"github.com/ajitpratap0/dynboard/pkg/models"
)

// multicastStreamer sends every sample as one UDP datagram of channels+1
// little-endian float64 values, the timestamp last. Multicast destinations
// are sent with TTL 1 and loopback enabled so a streaming board on the same
// host receives them.
type multicastStreamer struct {
	conn    net.PacketConn
	pc      *ipv4.PacketConn
	dst     *net.UDPAddr
	payload []byte
	width   int
}

func newMulticastStreamer(host string, port, channels int) (*multicastStreamer, error) {
	ip := net.ParseIP(host)
	if ip == nil || ip.To4() == nil {
		return nil, errors.Newf(errors.ErrorTypeConfig, "streamer address %s is not IPv4", host).
			WithCode(errors.StatusInvalidArguments)
	}

	conn, err := net.ListenPacket("udp4", "0.0.0.0:0")
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeIO, "failed to open UDP socket")
	}

	s := &multicastStreamer{
		conn:    conn,
		pc:      ipv4.NewPacketConn(conn),
		dst:     &net.UDPAddr{IP: ip, Port: port},
		payload: make([]byte, 8*(channels+1)),
		width:   channels,
	}
	if ip.IsMulticast() {
		if err := s.pc.SetMulticastTTL(1); err != nil {
			_ = conn.Close()
			return nil, errors.Wrap(err, errors.ErrorTypeIO, "failed to set multicast TTL")
		}
		if err := s.pc.SetMulticastLoopback(true); err != nil {
			_ = conn.Close()
			return nil, errors.Wrap(err, errors.ErrorTypeIO, "failed to enable multicast loopback")
		}
	}
	return s, nil
}

func (s *multicastStreamer) Name() string {
	return "streaming_board"
}

func (s *multicastStreamer) Write(sample models.Sample) error {
	for i := 0; i < s.width; i++ {
		var v float64
		if i < len(sample.Values) {
			v = sample.Values[i]
		}
		binary.LittleEndian.PutUint64(s.payload[8*i:], math.Float64bits(v))
	}
	binary.LittleEndian.PutUint64(s.payload[8*s.width:], math.Float64bits(sample.Timestamp))
	_, err := s.pc.WriteTo(s.payload, nil, s.dst)
	return err
}

func (s *multicastStreamer) Flush() error {
	return nil
}

func (s *multicastStreamer) Close() error {
	return s.conn.Close()
}

// DecodePacket parses a datagram produced by the streaming_board streamer
func DecodePacket(payload []byte) (models.Sample, error) {
	if len(payload) < 16 || len(payload)%8 != 0 {
		return models.Sample{}, errors.Newf(errors.ErrorTypeIO, "invalid packet length %d", len(payload))
	}
	n := len(payload)/8 - 1
	s := models.Sample{Values: make([]float64, n)}
	for i := 0; i < n; i++ {
		s.Values[i] = math.Float64frombits(binary.LittleEndian.Uint64(payload[8*i:]))
	}
	s.Timestamp = math.Float64frombits(binary.LittleEndian.Uint64(payload[8*n:]))
	return s, nil
}
