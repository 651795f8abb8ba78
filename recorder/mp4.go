package recorder

import (
	"os"
	"time"

	mp4 "gitee.com/general252/gomedia/go-mp4"
)

// mp4File holds one H.264 track. Timestamps are milliseconds since the segment started.
type mp4File struct {
	file    *os.File
	muxer   *mp4.Movmuxer
	track   uint32
	path    string
	start   time.Time
	lastPTS uint64
	written bool
}

func createMP4(path string, start time.Time) (*mp4File, error) {
	file, err := createFile(path)
	if err != nil {
		return nil, err
	}
	muxer, err := mp4.CreateMp4Muxer(file)
	if err != nil {
		file.Close()
		return nil, err
	}
	return &mp4File{
		file:  file,
		muxer: muxer,
		track: muxer.AddVideoTrack(mp4.MP4_CODEC_H264),
		path:  path,
		start: start,
	}, nil
}

// write takes one Annex-B access unit.
func (m *mp4File) write(au []byte, at time.Time) error {
	pts := uint64(max(at.Sub(m.start).Milliseconds(), 0))
	if m.written && pts <= m.lastPTS {
		pts = m.lastPTS + 1
	}
	if err := m.muxer.Write(m.track, au, pts, pts); err != nil {
		return err
	}
	m.lastPTS = pts
	m.written = true
	return nil
}

func (m *mp4File) close() error {
	defer m.file.Close()
	if err := m.muxer.WriteTrailer(); err != nil {
		return err
	}
	return m.file.Close()
}
