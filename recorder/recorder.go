package recorder

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/greendrake/ndibridge/frame"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
)

const DefaultSegment = 10 * time.Minute

// Recorder saves the received media as it is, video to MP4 and audio to WAV, in segments of
// about Segment each. Files go to Dir/2006/01/02/15-04-05.{mp4,wav}, with a numeric suffix when
// that name is taken.
//
// A video segment always starts at a key frame and is only ever cut at one, so it can be played
// on its own. Errors are logged and the failing segment is given up on; recording resumes with
// the next segment.
type Recorder struct {
	Dir     string
	Segment time.Duration

	video   *mp4File
	audio   *wavFile
	closeMu sync.Mutex
	closed  bool
	now     func() time.Time
}

func New(dir string, segment time.Duration) *Recorder {
	if segment <= 0 {
		segment = DefaultSegment
	}
	return &Recorder{
		Dir:     dir,
		Segment: segment,
		now:     time.Now,
	}
}

// WriteFrame records one complete frame. It is meant to be called from the receive loop only.
func (r *Recorder) WriteFrame(f *frame.Frame) {
	r.closeMu.Lock()
	defer r.closeMu.Unlock()
	if r.closed {
		return
	}
	now := r.now()
	var err error
	if f.IsVideo() {
		err = r.writeVideo(f, now)
	} else if f.IsAudio() {
		err = r.writeAudio(f, now)
	}
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"media":    f.Media,
			"sequence": f.Sequence,
			"error":    err,
		}).Error("Recording failed, dropping segment")
	}
}

func (r *Recorder) writeVideo(f *frame.Frame, now time.Time) error {
	key := f.IsKeyFrame || frame.IsIDR(f.Data)
	if r.video != nil && key && now.Sub(r.video.start) >= r.Segment {
		r.closeVideo()
	}
	if r.video == nil {
		if !key {
			return nil
		}
		m, err := createMP4(r.path(now, "mp4"), now)
		if err != nil {
			return err
		}
		r.video = m
		logrus.WithField("path", m.path).Info("Recording video")
	}
	if err := r.video.write(f.Data, now); err != nil {
		r.video.file.Close()
		r.video = nil
		return err
	}
	return nil
}

func (r *Recorder) writeAudio(f *frame.Frame, now time.Time) error {
	channels := f.ChannelCount()
	if r.audio != nil && (now.Sub(r.audio.start) >= r.Segment || r.audio.sampleRate != int(f.SampleRate) || r.audio.channels != channels) {
		r.closeAudio()
	}
	if r.audio == nil {
		w, err := createWAV(r.path(now, "wav"), int(f.SampleRate), channels)
		if err != nil {
			return err
		}
		w.start = now
		r.audio = w
		logrus.WithField("path", w.path).Info("Recording audio")
	}
	if err := r.audio.write(f.Samples()); err != nil {
		r.audio.file.Close()
		r.audio = nil
		return err
	}
	return nil
}

func (r *Recorder) closeVideo() error {
	if r.video == nil {
		return nil
	}
	err := r.video.close()
	if err != nil {
		logrus.WithFields(logrus.Fields{"path": r.video.path, "error": err}).Error("Cannot finish video segment")
	}
	r.video = nil
	return err
}

func (r *Recorder) closeAudio() error {
	if r.audio == nil {
		return nil
	}
	err := r.audio.close()
	if err != nil {
		logrus.WithFields(logrus.Fields{"path": r.audio.path, "error": err}).Error("Cannot finish audio segment")
	}
	r.audio = nil
	return err
}

// Close finishes the open segments. Frames written afterwards are ignored.
func (r *Recorder) Close() error {
	r.closeMu.Lock()
	defer r.closeMu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	var result *multierror.Error
	if err := r.closeVideo(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := r.closeAudio(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// path names a segment starting at t. A segment starting within the same second as an earlier
// one gets a -1, -2... suffix instead of replacing it.
func (r *Recorder) path(t time.Time, ext string) string {
	base := filepath.Join(r.Dir, t.Format("2006/01/02/15-04-05"))
	path := base + "." + ext
	for i := 1; ; i++ {
		if _, err := os.Stat(path); err != nil {
			return path
		}
		path = fmt.Sprintf("%s-%d.%s", base, i, ext)
	}
}

func createFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return nil, fmt.Errorf("error creating directory: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("cannot create file %v: %w", path, err)
	}
	return file, nil
}
