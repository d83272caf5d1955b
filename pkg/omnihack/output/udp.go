// Package output forwards transceiver events to places outside the process.
package output

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go"
	"github.com/influxdata/influxdb-client-go/api"
	"github.com/norasector/omnihack/pkg/omnihack/config"
	"github.com/norasector/omnihack/pkg/omnihack/event"
	"github.com/rs/zerolog/log"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

const queueDepth = 64

// UDPEventOutput is an event.Observer that sends every event it sees to a
// set of UDP destinations. Each datagram is a little-endian uint16 length
// followed by a protobuf Struct with kind, payload and time fields.
type UDPEventOutput struct {
	dests   []config.OutputDestination
	queue   chan event.Event
	metrics api.WriteAPI

	sent    uint64
	skipped uint64
}

func NewUDPEventOutput(dests []config.OutputDestination, metrics api.WriteAPI) *UDPEventOutput {
	return &UDPEventOutput{
		dests:   dests,
		queue:   make(chan event.Event, queueDepth),
		metrics: metrics,
	}
}

// OnEvent sends ev stamped with the time it was posted. The per-kind
// methods stamp the event when they are called.
func (u *UDPEventOutput) OnEvent(ev event.Event) { u.enqueue(ev) }

func (u *UDPEventOutput) OnData(payload string)   { u.enqueue(event.Data(payload)) }
func (u *UDPEventOutput) OnStatus(payload string) { u.enqueue(event.Status(payload)) }
func (u *UDPEventOutput) OnFault(payload string)  { u.enqueue(event.Fault(payload)) }

// enqueue runs on the bridge's consumer goroutine and must not block it.
func (u *UDPEventOutput) enqueue(ev event.Event) {
	select {
	case u.queue <- ev:
	default:
		atomic.AddUint64(&u.skipped, 1)
	}
}

// Stats returns the number of datagrams sent and events skipped because the
// queue was full.
func (u *UDPEventOutput) Stats() (sent, skipped uint64) {
	return atomic.LoadUint64(&u.sent), atomic.LoadUint64(&u.skipped)
}

// Encode frames ev the way it goes on the wire.
func Encode(ev event.Event) ([]byte, error) {
	msg, err := structpb.NewStruct(map[string]interface{}{
		"kind":    ev.Kind.String(),
		"payload": ev.Payload,
		"time":    ev.Time.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, err
	}
	encoded, err := proto.Marshal(msg)
	if err != nil {
		return nil, err
	}
	if len(encoded) > 0xffff {
		return nil, fmt.Errorf("encoded event too large: %d bytes", len(encoded))
	}

	var msgBuf bytes.Buffer
	if err := binary.Write(&msgBuf, binary.LittleEndian, uint16(len(encoded))); err != nil {
		return nil, err
	}
	msgBuf.Write(encoded)
	return msgBuf.Bytes(), nil
}

// Decode is the inverse of Encode.
func Decode(buf []byte) (*structpb.Struct, error) {
	if len(buf) < 2 {
		return nil, fmt.Errorf("short datagram: %d bytes", len(buf))
	}
	size := int(binary.LittleEndian.Uint16(buf))
	if len(buf)-2 < size {
		return nil, fmt.Errorf("datagram truncated: want %d bytes, have %d", size, len(buf)-2)
	}
	var msg structpb.Struct
	if err := proto.Unmarshal(buf[2:2+size], &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (u *UDPEventOutput) Start(ctx context.Context) error {
	destAddrs := make([]*net.UDPAddr, 0, len(u.dests))
	for _, dest := range u.dests {
		ips, err := net.LookupIP(dest.Host)
		if err != nil {
			return err
		}
		if len(ips) == 0 {
			return fmt.Errorf("no IPs returned for %s", dest.Host)
		}

		destAddr := &net.UDPAddr{IP: ips[0], Port: dest.Port}
		destAddrs = append(destAddrs, destAddr)
		log.Info().IPAddr("dest_ip", destAddr.IP).Int("port", dest.Port).Msg("event output starting")
	}

	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-u.queue:
			msg, err := Encode(ev)
			if err != nil {
				log.Warn().Err(err).Msg("error encoding event")
				continue
			}

			success := true
			for _, destAddr := range destAddrs {
				if _, err := conn.WriteToUDP(msg, destAddr); err != nil {
					log.Error().Err(err).Msg("error writing")
					success = false
				}
			}
			if success {
				atomic.AddUint64(&u.sent, 1)
			}

			u.metrics.WritePoint(influxdb2.NewPoint("events.sent",
				map[string]string{"kind": ev.Kind.String()},
				map[string]interface{}{
					"encoded_length": len(msg),
					"sent":           boolToInt(success),
					"dropped":        boolToInt(!success),
				}, time.Now()))
		}
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
