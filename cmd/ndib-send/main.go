// Command ndib-send streams an Annex-B H.264 file, and a test tone, to a bridge.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bluenviron/mediacommon/pkg/codecs/h264"
	"github.com/deepch/vdk/codec/h264parser"
	"github.com/greendrake/ndibridge/packet"
	"github.com/greendrake/ndibridge/util"
	"github.com/sirupsen/logrus"
)

type sender struct {
	conn       net.Conn
	fragmenter *packet.Fragmenter
	fps        float64
	tone       *tone
	start      time.Time
	sent       int
}

// splitAccessUnits groups the NAL units of an Annex-B stream into access units. A new one starts
// at a delimiter, parameter set or SEI following a picture, or at a slice whose first_mb_in_slice
// is 0.
func splitAccessUnits(stream []byte) ([][][]byte, error) {
	nalus, typ := h264parser.SplitNALUs(stream)
	if typ != h264parser.NALU_ANNEXB {
		return nil, errors.New("not an Annex-B stream")
	}
	var aus [][][]byte
	var au [][]byte
	hasPicture := false
	for _, n := range nalus {
		if len(n) == 0 {
			continue
		}
		switch h264.NALUType(n[0] & 0x1F) {
		case h264.NALUTypeAccessUnitDelimiter, h264.NALUTypeSPS, h264.NALUTypePPS, h264.NALUTypeSEI:
			if hasPicture {
				aus = append(aus, au)
				au, hasPicture = nil, false
			}
		case h264.NALUTypeNonIDR, h264.NALUTypeIDR:
			// first_mb_in_slice is ue(v); 0 encodes as a single 1 bit
			if hasPicture && len(n) > 1 && n[1]&0x80 != 0 {
				aus = append(aus, au)
				au, hasPicture = nil, false
			}
			hasPicture = true
		}
		au = append(au, n)
	}
	if hasPicture {
		aus = append(aus, au)
	}
	return aus, nil
}

func (s *sender) send(media packet.MediaType, data []byte, meta packet.Meta) error {
	datagrams, err := s.fragmenter.Fragment(media, data, meta)
	if err != nil {
		return err
	}
	for _, d := range datagrams {
		if _, err := s.conn.Write(d); err != nil {
			return err
		}
	}
	return nil
}

// timestamp is in 100 ns units
func (s *sender) timestamp() uint64 {
	return uint64(time.Since(s.start) / 100)
}

func (s *sender) stream(ctx context.Context, aus [][][]byte) error {
	interval := time.Duration(float64(time.Second) / s.fps)
	next := time.Now()
	for _, au := range aus {
		data, err := h264.AnnexBMarshal(au)
		if err != nil {
			return err
		}
		ts := s.timestamp()
		if err := s.send(packet.Video, data, packet.Meta{KeyFrame: h264.IDRPresent(au), Timestamp: ts}); err != nil {
			return fmt.Errorf("sending video: %w", err)
		}
		if s.tone != nil {
			samples := s.tone.next(int(float64(s.tone.sampleRate) / s.fps))
			meta := packet.Meta{Timestamp: ts, SampleRate: uint32(s.tone.sampleRate), Channels: uint8(s.tone.channels)}
			if err := s.send(packet.Audio, samples, meta); err != nil {
				return fmt.Errorf("sending audio: %w", err)
			}
		}
		s.sent++
		next = next.Add(interval)
		if !util.SleepCtx(ctx, time.Until(next)) {
			return ctx.Err()
		}
	}
	return nil
}

// tone generates a sine wave as interleaved float32 little-endian samples.
type tone struct {
	frequency  float64
	sampleRate int
	channels   int
	phase      float64
}

func (t *tone) next(n int) []byte {
	b := make([]byte, 0, n*t.channels*4)
	step := 2 * math.Pi * t.frequency / float64(t.sampleRate)
	for i := 0; i < n; i++ {
		bits := math.Float32bits(float32(0.25 * math.Sin(t.phase)))
		for c := 0; c < t.channels; c++ {
			b = append(b, byte(bits), byte(bits>>8), byte(bits>>16), byte(bits>>24))
		}
		t.phase = math.Mod(t.phase+step, 2*math.Pi)
	}
	return b
}

func main() {
	addr := flag.String("addr", "127.0.0.1:5990", "Bridge address")
	file := flag.String("file", "", "Annex-B H.264 file")
	fps := flag.Float64("fps", 30, "Frames per second")
	loop := flag.Bool("loop", false, "Start over at the end of the file")
	mtu := flag.Int("payload", packet.DefaultMaxPayload, "Max payload per datagram")
	toneFreq := flag.Float64("tone", 440, "Test tone frequency in Hz, 0 for no audio")
	sampleRate := flag.Int("sample-rate", 48000, "Test tone sample rate")
	channels := flag.Int("channels", 2, "Test tone channels")
	flag.Parse()

	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if *file == "" || *fps <= 0 {
		flag.Usage()
		os.Exit(2)
	}

	stream, err := os.ReadFile(*file)
	if err != nil {
		logrus.Fatal(err)
	}
	aus, err := splitAccessUnits(stream)
	if err != nil {
		logrus.WithField("file", *file).Fatal(err)
	}
	if len(aus) == 0 {
		logrus.WithField("file", *file).Fatal("No pictures found")
	}

	conn, err := net.Dial("udp", *addr)
	if err != nil {
		logrus.Fatal(err)
	}
	defer conn.Close()

	s := &sender{
		conn:       conn,
		fragmenter: packet.NewFragmenter(1, *mtu),
		fps:        *fps,
		start:      time.Now(),
	}
	if *toneFreq > 0 {
		s.tone = &tone{frequency: *toneFreq, sampleRate: *sampleRate, channels: *channels}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	logrus.WithFields(logrus.Fields{
		"addr":         *addr,
		"access_units": len(aus),
		"fps":          *fps,
	}).Info("Sending")
	for {
		err = s.stream(ctx, aus)
		if err != nil || !*loop {
			break
		}
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logrus.Error(err)
	}
	logrus.WithField("frames", s.sent).Info("Done")
}
