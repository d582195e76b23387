package synth

import (
	"fmt"
	"strings"
	"sync/atomic"

	"gitlab.com/gomidi/midi/v2"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv" // registers the port driver
	"go.uber.org/zap"
)

// Passthrough forwards raw messages to an external MIDI output port and
// does no synthesis of its own. It exposes no polyphony telemetry and
// ignores runtime reconfiguration; per the dispatch contract those are
// no-ops, not errors.
type Passthrough struct {
	send    func(midi.Message) error
	close   func() error
	dropped atomic.Uint64
	log     *zap.Logger
}

// NewPassthrough opens the named output port, or the first available port
// when name is empty.
func NewPassthrough(name string, log *zap.Logger) (*Passthrough, error) {
	if log == nil {
		log = zap.NewNop()
	}
	outs := midi.GetOutPorts()
	if len(outs) == 0 {
		return nil, fmt.Errorf("no midi output ports available")
	}
	port := outs[0]
	if name != "" {
		found := false
		for _, o := range outs {
			if strings.Contains(o.String(), name) {
				port = o
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("midi output port %q not found", name)
		}
	}
	send, err := midi.SendTo(port)
	if err != nil {
		return nil, fmt.Errorf("open midi output %s: %w", port.String(), err)
	}
	log.Info("passthrough backend started", zap.String("port", port.String()))
	return &Passthrough{send: send, close: port.Close, log: log}, nil
}

// PushEvent forwards one message. A refused send counts as a drop; the
// caller is never blocked or surfaced an error.
func (p *Passthrough) PushEvent(msg midi.Message) {
	if err := p.send(msg); err != nil {
		p.dropped.Add(1)
	}
}

// Reset sends All Sound Off and All Notes Off on every channel.
func (p *Passthrough) Reset() {
	for ch := uint8(0); ch < 16; ch++ {
		p.PushEvent(midi.ControlChange(ch, 120, 0))
		p.PushEvent(midi.ControlChange(ch, 123, 0))
	}
}

// VoiceCount always reports 0: the port has no polyphony telemetry.
func (p *Passthrough) VoiceCount() uint64 { return 0 }

func (p *Passthrough) Dropped() uint64 { return p.dropped.Load() }

// SetLayerCount is a no-op: layering is the receiver's business.
func (p *Passthrough) SetLayerCount(layers int) {}

// SetSoundfont is a no-op: the receiver chooses its own sounds.
func (p *Passthrough) SetSoundfont(path string) error { return nil }

func (p *Passthrough) Close() error {
	if p.close != nil {
		return p.close()
	}
	return nil
}
