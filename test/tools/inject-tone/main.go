// Command inject-tone streams a sine tone into a sonar server as an injected
// audio stream and prints the stream stats the server reports back.
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/quic-go/quic-go"
	srt "github.com/zsiec/srtgo"

	"github.com/zsiec/sonar/internal/jitter"
	"github.com/zsiec/sonar/internal/protocol"
	"github.com/zsiec/sonar/internal/spatial"
	"github.com/zsiec/sonar/internal/transport"
)

// packetConn is one connection to the server, whichever transport carries it.
type packetConn interface {
	Send([]byte) error
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

func main() {
	transportFlag := flag.String("transport", "quic", "Transport: quic or srt")
	addrFlag := flag.String("addr", "", "Server address (default 127.0.0.1:4443 for quic, 127.0.0.1:6000 for srt)")
	nameFlag := flag.String("name", "tone", "SRT stream id for the session")
	freqFlag := flag.Float64("freq", 440, "Tone frequency in Hz")
	gainFlag := flag.Float64("gain", 0.25, "Tone amplitude, 0..1")
	durationFlag := flag.Duration("duration", 0, "Stop after this long (0 runs until interrupted)")
	xFlag := flag.Float64("x", 0, "Source position x")
	yFlag := flag.Float64("y", 0, "Source position y")
	zFlag := flag.Float64("z", 0, "Source position z")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if *durationFlag > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *durationFlag)
		defer cancel()
	}

	addr := *addrFlag
	var conn packetConn
	var err error
	switch *transportFlag {
	case "quic":
		if addr == "" {
			addr = "127.0.0.1:4443"
		}
		conn, err = dialQUIC(ctx, addr)
	case "srt":
		if addr == "" {
			addr = "127.0.0.1:6000"
		}
		conn, err = dialSRT(addr, "live/"+*nameFlag)
	default:
		err = fmt.Errorf("unknown transport %q", *transportFlag)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	go printStats(ctx, conn)

	pos := spatial.Vec3{X: float32(*xFlag), Y: float32(*yFlag), Z: float32(*zFlag)}
	fmt.Printf("Injecting %.0f Hz tone over %s to %s\n", *freqFlag, *transportFlag, addr)
	if err := streamTone(ctx, conn, jitter.DefaultFormat, *freqFlag, *gainFlag, pos); err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "stream: %v\n", err)
		os.Exit(1)
	}
}

// streamTone sends one injected frame per frame duration, paced against a
// global clock so send timing does not drift.
func streamTone(ctx context.Context, conn packetConn, f jitter.Format, freq, gain float64, pos spatial.Vec3) error {
	sender := uuid.New()
	streamID := uuid.New()
	tone := newTone(f.SampleRate, freq, gain)
	frame := f.FrameDuration()
	start := time.Now()

	for seq := uint16(0); ; seq++ {
		pkt := protocol.AppendInjectedAudio(nil, sender, protocol.InjectedFrame{
			Sequence:         seq,
			StreamID:         streamID,
			Positional:       protocol.Positional{Position: pos, Orientation: spatial.IdentityQuat},
			Radius:           1,
			AttenuationRatio: 1,
			Samples:          tone.next(f.SamplesPerChannel),
		})
		if err := conn.Send(pkt); err != nil {
			return err
		}

		sent := time.Duration(tone.frames) * frame
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Until(start.Add(sent))):
		}
	}
}

// tone is a phase-continuous sine generator.
type tone struct {
	step   float64
	phase  float64
	amp    float64
	frames int
}

func newTone(sampleRate int, freq, gain float64) *tone {
	return &tone{
		step: 2 * math.Pi * freq / float64(sampleRate),
		amp:  math.Max(0, math.Min(gain, 1)) * math.MaxInt16,
	}
}

func (t *tone) next(n int) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(t.amp * math.Sin(t.phase))
		t.phase = math.Mod(t.phase+t.step, 2*math.Pi)
	}
	t.frames++
	return out
}

func printStats(ctx context.Context, conn packetConn) {
	for {
		b, err := conn.Receive(ctx)
		if err != nil {
			return
		}
		p, err := protocol.ParseStatsPacket(b)
		if err != nil {
			continue
		}
		for _, rec := range p.Records {
			fmt.Printf("stream %s: available=%d desired=%d current=%d starves=%d overflows=%d lost=%d window max gap=%dus\n",
				rec.StreamID, rec.FramesAvailable, rec.DesiredJitterFrames, rec.CurrentJitterFrames,
				rec.Starves, rec.Overflows, rec.Lost, rec.WindowGapMax)
		}
	}
}

type quicConn struct{ conn quic.Connection }

func dialQUIC(ctx context.Context, addr string) (*quicConn, error) {
	conn, err := quic.DialAddr(ctx, addr, &tls.Config{
		// The server presents a self-signed certificate.
		InsecureSkipVerify: true,
		NextProtos:         []string{transport.ALPN},
	}, &quic.Config{EnableDatagrams: true, KeepAlivePeriod: 10 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("QUIC dial %s: %w", addr, err)
	}
	return &quicConn{conn: conn}, nil
}

func (c *quicConn) Send(b []byte) error {
	return c.conn.SendDatagram(b)
}

func (c *quicConn) Receive(ctx context.Context) ([]byte, error) {
	return c.conn.ReceiveDatagram(ctx)
}

func (c *quicConn) Close() error {
	return c.conn.CloseWithError(0, "")
}

type srtConn struct{ conn *srt.Conn }

func dialSRT(addr, streamID string) (*srtConn, error) {
	cfg := srt.DefaultConfig()
	cfg.StreamID = streamID
	conn, err := srt.Dial(addr, cfg)
	if err != nil {
		return nil, fmt.Errorf("SRT dial %s: %w", addr, err)
	}
	return &srtConn{conn: conn}, nil
}

func (c *srtConn) Send(b []byte) error {
	_, err := c.conn.Write(b)
	return err
}

func (c *srtConn) Receive(_ context.Context) ([]byte, error) {
	buf := make([]byte, 1500)
	n, err := c.conn.Read(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

func (c *srtConn) Close() error { return c.conn.Close() }
