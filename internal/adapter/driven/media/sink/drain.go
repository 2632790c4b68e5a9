package sink

import (
	"errors"
	"io"
	"sync"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
	"github.com/pion/rtp"
	"github.com/rs/zerolog/log"
)

const maxPacketSize = 1500

// Stats describes what a sink has received from its current source.
type Stats struct {
	TrackID   string
	SSRC      uint32
	Packets   uint64
	Bytes     uint64
	Malformed uint64
	LastSeq   uint16
}

type source struct {
	gen   uint64
	track port.RemoteTrack
	stats Stats
}

// Drain is a headless sink: it reads every incoming track to completion and
// keeps per-kind counters. Playing a track of a kind that already plays
// swaps the source; the old reader exits on its next packet.
type Drain struct {
	mu      sync.Mutex
	gen     uint64
	sources map[domain.TrackKind]*source
}

var _ port.MediaSink = (*Drain)(nil)

func NewDrain() *Drain {
	return &Drain{sources: make(map[domain.TrackKind]*source)}
}

func (d *Drain) Play(track port.RemoteTrack) {
	d.mu.Lock()
	d.gen++
	src := &source{gen: d.gen, track: track, stats: Stats{TrackID: track.ID()}}
	_, replaced := d.sources[track.Kind()]
	d.sources[track.Kind()] = src
	d.mu.Unlock()

	log.Debug().Str("kind", string(track.Kind())).Str("track_id", track.ID()).Bool("replaced", replaced).Msg("Sink playing track")
	go d.drain(track.Kind(), src)
}

func (d *Drain) Stop(kind domain.TrackKind) {
	d.mu.Lock()
	delete(d.sources, kind)
	d.mu.Unlock()
}

// Stats returns the counters of the source currently playing kind.
func (d *Drain) Stats(kind domain.TrackKind) (Stats, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	src, ok := d.sources[kind]
	if !ok {
		return Stats{}, false
	}
	return src.stats, true
}

func (d *Drain) drain(kind domain.TrackKind, src *source) {
	buf := make([]byte, maxPacketSize)
	var pkt rtp.Packet
	for {
		n, err := src.track.Read(buf)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Debug().Err(err).Str("kind", string(kind)).Msg("Sink source ended")
			}
			d.release(kind, src)
			return
		}
		perr := pkt.Unmarshal(buf[:n])
		if !d.record(kind, src, &pkt, n, perr) {
			return
		}
	}
}

// record reports false once src is no longer the current source of kind.
func (d *Drain) record(kind domain.TrackKind, src *source, pkt *rtp.Packet, n int, perr error) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.sources[kind]; !ok || cur.gen != src.gen {
		return false
	}
	if perr != nil {
		src.stats.Malformed++
		return true
	}
	src.stats.SSRC = pkt.SSRC
	src.stats.LastSeq = pkt.SequenceNumber
	src.stats.Packets++
	src.stats.Bytes += uint64(n)
	return true
}

func (d *Drain) release(kind domain.TrackKind, src *source) {
	d.mu.Lock()
	if cur, ok := d.sources[kind]; ok && cur.gen == src.gen {
		delete(d.sources, kind)
	}
	d.mu.Unlock()
}
