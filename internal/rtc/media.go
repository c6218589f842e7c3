package rtc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
	"github.com/pion/webrtc/v3/pkg/media/oggreader"
	"go.uber.org/zap"
)

// oggPageDuration is the pacing of Opus pages written to the track.
const oggPageDuration = 20 * time.Millisecond

// AudioConstraints mirror the capture constraints requested from the device.
type AudioConstraints struct {
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
	ChannelCount     int
	SampleRate       uint32
}

// DefaultAudioConstraints is voice capture: processing on, mono, 48 kHz.
func DefaultAudioConstraints() AudioConstraints {
	return AudioConstraints{
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  true,
		ChannelCount:     1,
		SampleRate:       48000,
	}
}

// OpusCapability is the codec capability for the constraints. Opus is always
// signalled with 2 channels; mono is requested through fmtp.
func OpusCapability(a AudioConstraints) webrtc.RTPCodecCapability {
	rate := a.SampleRate
	if rate == 0 {
		rate = 48000
	}
	fmtp := "minptime=10;useinbandfec=1"
	if a.ChannelCount <= 1 {
		fmtp += ";stereo=0;sprop-stereo=0"
	}
	return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: rate, Channels: 2, SDPFmtpLine: fmtp}
}

// LocalStream is an acquired capture stream owned by one controller.
type LocalStream interface {
	Track() webrtc.TrackLocal
	// SetEnabled mutes or unmutes in place; a disabled track sends nothing.
	SetEnabled(enabled bool)
	Enabled() bool
	// Stop releases the device. Safe to call more than once.
	Stop()
}

// Microphone acquires capture streams.
type Microphone interface {
	Acquire(ctx context.Context, constraints AudioConstraints) (LocalStream, error)
}

// FileMicrophone plays an Ogg/Opus file as the capture device. It stands in for a
// sound card on headless hosts (volunteer agents, smoke tests).
type FileMicrophone struct {
	Path   string
	Loop   bool
	Logger *zap.Logger
}

// Acquire opens the file and starts pacing its pages onto a new track.
func (m *FileMicrophone) Acquire(ctx context.Context, constraints AudioConstraints) (LocalStream, error) {
	logger := m.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	f, err := os.Open(m.Path)
	if err != nil {
		return nil, classifyDeviceError(err)
	}
	reader, _, err := oggreader.NewWith(f)
	if err != nil {
		_ = f.Close()
		return nil, &MediaError{Kind: MediaDeviceError, Err: fmt.Errorf("read ogg header: %w", err)}
	}
	track, err := webrtc.NewTrackLocalStaticSample(OpusCapability(constraints), "audio", "microphone")
	if err != nil {
		_ = f.Close()
		return nil, &MediaError{Kind: MediaDeviceError, Err: err}
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	s := &fileStream{track: track, file: f, reader: reader, loop: m.Loop, cancel: cancel, logger: logger}
	s.enabled.Store(true)
	s.wg.Add(1)
	go s.pump(pumpCtx)
	return s, nil
}

func classifyDeviceError(err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return &MediaError{Kind: MediaNoDevice, Err: err}
	case errors.Is(err, fs.ErrPermission):
		return &MediaError{Kind: MediaPermissionDenied, Err: err}
	default:
		return &MediaError{Kind: MediaDeviceError, Err: err}
	}
}

type fileStream struct {
	track   *webrtc.TrackLocalStaticSample
	file    *os.File
	reader  *oggreader.OggReader
	loop    bool
	enabled atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	once    sync.Once
	logger  *zap.Logger
}

func (s *fileStream) Track() webrtc.TrackLocal { return s.track }
func (s *fileStream) SetEnabled(enabled bool)  { s.enabled.Store(enabled) }
func (s *fileStream) Enabled() bool            { return s.enabled.Load() }

func (s *fileStream) Stop() {
	s.once.Do(func() {
		s.cancel()
		s.wg.Wait()
		_ = s.file.Close()
	})
}

func (s *fileStream) pump(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(oggPageDuration)
	defer ticker.Stop()

	var lastGranule uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		page, header, err := s.reader.ParseNextPage()
		if errors.Is(err, io.EOF) {
			if !s.loop || s.rewind() != nil {
				return
			}
			lastGranule = 0
			continue
		}
		if err != nil {
			s.logger.Warn("microphone read failed", zap.Error(err))
			return
		}
		samples := header.GranulePosition - lastGranule
		lastGranule = header.GranulePosition
		if !s.enabled.Load() {
			continue
		}
		d := time.Duration(float64(samples)/48000*1000) * time.Millisecond
		if err := s.track.WriteSample(media.Sample{Data: page, Duration: d}); err != nil {
			s.logger.Debug("microphone write failed", zap.Error(err))
		}
	}
}

func (s *fileStream) rewind() error {
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	reader, _, err := oggreader.NewWith(s.file)
	if err != nil {
		return err
	}
	s.reader = reader
	return nil
}
