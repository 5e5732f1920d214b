// Package models provides the data structures exchanged between the host,
// the adapter and the output collaborator.
package models

import (
	"fmt"
	"time"

	gojson "github.com/goccy/go-json"
)

// InputParameters is the connection configuration handed to a vendor's
// initialize entry point. The adapter never interprets these fields; it
// serializes them verbatim.
type InputParameters struct {
	SerialPort   string `json:"serial_port" mapstructure:"serial_port"`
	MACAddress   string `json:"mac_address" mapstructure:"mac_address"`
	IPAddress    string `json:"ip_address" mapstructure:"ip_address"`
	IPPort       int    `json:"ip_port" mapstructure:"ip_port"`
	IPProtocol   int    `json:"ip_protocol" mapstructure:"ip_protocol"`
	OtherInfo    string `json:"other_info" mapstructure:"other_info"`
	Timeout      int    `json:"timeout" mapstructure:"timeout"`
	SerialNumber string `json:"serial_number" mapstructure:"serial_number"`
	File         string `json:"file" mapstructure:"file"`
	MasterBoard  int    `json:"master_board" mapstructure:"master_board"`
}

// JSON returns the wire form passed to the vendor library.
func (p InputParameters) JSON() (string, error) {
	data, err := gojson.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to marshal input parameters: %w", err)
	}
	return string(data), nil
}

// ParseInputParameters decodes the wire form produced by JSON.
func ParseInputParameters(data string) (InputParameters, error) {
	var p InputParameters
	if err := gojson.Unmarshal([]byte(data), &p); err != nil {
		return InputParameters{}, fmt.Errorf("failed to parse input parameters: %w", err)
	}
	return p, nil
}

// Sample is one acquisition frame: exactly ChannelCount values plus the host
// timestamp taken when the vendor read returned.
type Sample struct {
	Values    []float64 `json:"values"`
	Timestamp float64   `json:"timestamp"`
}

// Width returns the number of channel values in the sample.
func (s Sample) Width() int {
	return len(s.Values)
}

// Time converts the sample timestamp back into a time.Time.
func (s Sample) Time() time.Time {
	sec := int64(s.Timestamp)
	nsec := int64((s.Timestamp - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}

// Timestamp returns t as fractional unix seconds, the sample clock format.
func Timestamp(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
