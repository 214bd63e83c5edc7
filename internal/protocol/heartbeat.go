package protocol

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"edgefleet.c2/internal/core/domain"
)

// Version0 is the only defined payload layout.
const Version0 uint16 = 0

// HeartbeatPayload is a received heartbeat datagram. The header is checked
// when the payload is created; the body is parsed on the first call to
// Heartbeat and at most once, however many goroutines ask.
type HeartbeatPayload struct {
	version uint16
	body    []byte

	once sync.Once
	hb   *domain.Heartbeat
	err  error
}

// NewHeartbeatPayload validates the version and operation-type header.
func NewHeartbeatPayload(b []byte) (*HeartbeatPayload, error) {
	r := NewReader(b)
	version, err := readHeader(r, domain.OperationHeartbeat)
	if err != nil {
		return nil, err
	}
	return &HeartbeatPayload{version: version, body: b[len(b)-r.Remaining():]}, nil
}

// DecodeHeartbeat parses a full heartbeat datagram.
func DecodeHeartbeat(b []byte) (*domain.Heartbeat, error) {
	p, err := NewHeartbeatPayload(b)
	if err != nil {
		return nil, err
	}
	return p.Heartbeat()
}

func (p *HeartbeatPayload) Version() uint16 {
	return p.version
}

// Heartbeat returns the decoded record.
func (p *HeartbeatPayload) Heartbeat() (*domain.Heartbeat, error) {
	p.once.Do(func() {
		p.hb, p.err = decodeHeartbeatBody(NewReader(p.body))
	})
	return p.hb, p.err
}

func readHeader(r *Reader, want domain.OperationType) (uint16, error) {
	version, err := r.ReadUint16()
	if err != nil {
		return 0, decodeErr("version", err)
	}
	b, err := r.ReadUint8()
	if err != nil {
		return 0, decodeErr("operation type", err)
	}
	if version != Version0 {
		return 0, decodeErr("version", fmt.Errorf("%w: %d", ErrUnsupportedVersion, version))
	}
	opType, err := DecodeOperationType(b)
	if err != nil {
		return 0, decodeErr("operation type", err)
	}
	if opType != want {
		return 0, decodeErr("operation type", fmt.Errorf("%w: got %s, want %s", ErrUnexpectedOperationType, opType, want))
	}
	return version, nil
}

func decodeHeartbeatBody(r *Reader) (*domain.Heartbeat, error) {
	hb := &domain.Heartbeat{Identifier: uuid.NewString()}

	deviceID, err := r.ReadString()
	if err != nil {
		return nil, decodeErr("device identifier", err)
	}
	hb.DeviceInfo.Identifier = deviceID

	agentID, err := r.ReadString()
	if err != nil {
		return nil, decodeErr("agent identifier", err)
	}
	hb.AgentInfo.Identifier = agentID

	hasFlow, err := r.ReadBool()
	if err != nil {
		return nil, decodeErr("flow info flag", err)
	}
	if hasFlow {
		if hb.FlowInfo, err = decodeFlowInfo(r); err != nil {
			return nil, err
		}
	}
	return hb, nil
}

func decodeFlowInfo(r *Reader) (*domain.FlowInfo, error) {
	fi := &domain.FlowInfo{}

	n, err := r.ReadUint16()
	if err != nil {
		return nil, decodeErr("component status count", err)
	}
	if n > 0 {
		fi.Components = make(map[string]domain.ComponentStatus, n)
	}
	for i := 0; i < int(n); i++ {
		label, err := r.ReadString()
		if err != nil {
			return nil, decodeErr("component label", err)
		}
		running, err := r.ReadBool()
		if err != nil {
			return nil, decodeErr("component running", err)
		}
		fi.Components[label] = domain.ComponentStatus{Running: running}
	}

	m, err := r.ReadUint16()
	if err != nil {
		return nil, decodeErr("queue status count", err)
	}
	if m > 0 {
		fi.Queues = make(map[string]domain.QueueStatus, m)
	}
	for i := 0; i < int(m); i++ {
		label, err := r.ReadString()
		if err != nil {
			return nil, decodeErr("queue label", err)
		}
		var vals [4]int64
		for j := range vals {
			if vals[j], err = r.ReadInt64(); err != nil {
				return nil, decodeErr("queue status", err)
			}
		}
		fi.Queues[label] = domain.QueueStatus{
			DataSize:    vals[0],
			DataSizeMax: vals[1],
			Size:        vals[2],
			SizeMax:     vals[3],
		}
	}

	if fi.BucketID, err = r.ReadString(); err != nil {
		return nil, decodeErr("bucket id", err)
	}
	if fi.FlowID, err = r.ReadString(); err != nil {
		return nil, decodeErr("flow id", err)
	}
	return fi, nil
}

// EncodeHeartbeat builds the datagram an agent sends. Only the fields the
// binary layout carries are written.
func EncodeHeartbeat(version uint16, hb *domain.Heartbeat) ([]byte, error) {
	w := NewWriter()
	w.WriteUint16(version)
	w.WriteUint8(OpHeartbeat)
	w.WriteString(hb.DeviceInfo.Identifier)
	w.WriteString(hb.AgentInfo.Identifier)
	w.WriteBool(hb.FlowInfo != nil)

	if fi := hb.FlowInfo; fi != nil {
		w.WriteCount(len(fi.Components))
		for _, label := range sortedKeys(fi.Components) {
			w.WriteString(label)
			w.WriteBool(fi.Components[label].Running)
		}
		w.WriteCount(len(fi.Queues))
		for _, label := range sortedKeys(fi.Queues) {
			q := fi.Queues[label]
			w.WriteString(label)
			w.WriteInt64(q.DataSize)
			w.WriteInt64(q.DataSizeMax)
			w.WriteInt64(q.Size)
			w.WriteInt64(q.SizeMax)
		}
		w.WriteString(fi.BucketID)
		w.WriteString(fi.FlowID)
	}

	if err := w.Err(); err != nil {
		return nil, fmt.Errorf("encode heartbeat: %w", err)
	}
	return w.Bytes(), nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
