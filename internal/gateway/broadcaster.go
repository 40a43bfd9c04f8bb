package gateway

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Broadcaster constructs envelope JSON and sends filtered messages to clients.
type Broadcaster struct {
	hub *Hub
}

// NewBroadcaster creates a Broadcaster backed by the given Hub.
func NewBroadcaster(hub *Hub) *Broadcaster {
	return &Broadcaster{hub: hub}
}

// Broadcast sends data on a channel to all clients watching its instrument.
// Alert envelopes are kept in the replay buffer; for every other channel
// only the latest payload is kept.
func (b *Broadcaster) Broadcast(channel string, data []byte) {
	now := time.Now().UTC()
	code := channelCode(channel, data)

	b.hub.mu.Lock()
	b.hub.channelSeqs[channel]++
	channelSeq := b.hub.channelSeqs[channel]
	b.hub.seq++
	seq := b.hub.seq
	if channel != b.hub.alertChannel {
		b.hub.latest[channel] = latestEntry{Code: code, Data: data, TS: now, Seq: channelSeq}
	}
	b.hub.mu.Unlock()

	buf := buildEnvelope(channel, code, data, now, seq, channelSeq)

	if channel == b.hub.alertChannel {
		b.hub.replay.Push(seq, code, buf)
	}

	// Fan out to subscribed clients
	b.hub.mu.RLock()
	defer b.hub.mu.RUnlock()
	for client := range b.hub.clients {
		if !client.watches(code) {
			continue
		}
		select {
		case client.send <- buf:
		default:
		}
	}
}

// buildEnvelope hand-crafts the envelope JSON:
// {"channel":..,"code":..,"data":..,"ts":..,"seq":N,"channel_seq":M}.
func buildEnvelope(channel, code string, data []byte, now time.Time, seq, channelSeq int64) []byte {
	buf := make([]byte, 0, len(channel)+len(code)+len(data)+160)
	buf = append(buf, `{"channel":"`...)
	buf = append(buf, channel...)
	buf = append(buf, `","code":"`...)
	buf = append(buf, code...)
	buf = append(buf, `","data":`...)
	buf = append(buf, data...)
	buf = append(buf, `,"ts":"`...)
	buf = now.AppendFormat(buf, time.RFC3339Nano)
	buf = append(buf, `","seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	buf = append(buf, `,"channel_seq":`...)
	buf = strconv.AppendInt(buf, channelSeq, 10)
	buf = append(buf, '}')
	return buf
}

// channelCode finds the instrument a message belongs to: the suffix of a
// per-instrument channel, else the alert payload's instrument code.
func channelCode(channel string, data []byte) string {
	if i := strings.LastIndexByte(channel, ':'); i >= 0 && strings.HasPrefix(channel, indicatorChannelPrefix) {
		return channel[i+1:]
	}
	var partial struct {
		Instrument struct {
			Code string `json:"code"`
		} `json:"instrument"`
	}
	if json.Unmarshal(data, &partial) == nil {
		return partial.Instrument.Code
	}
	return ""
}
