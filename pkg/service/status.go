package service

import (
	"time"

	"github.com/teslashibe/go-camhost/pkg/api"
)

// Status returns a snapshot of the service state.
func (s *Service) Status() api.Status {
	settings := s.camera.Settings()
	_, hasFrame := s.cache.Get()

	return api.Status{
		Camera:           s.name,
		CameraOpen:       s.camera.IsOpen(),
		Settings:         settings,
		Resolution:       settings.Resolution(),
		Header:           s.cache.Header(),
		HasFrame:         hasFrame,
		FrameSeq:         s.cache.Seq(),
		IntrinsicsSource: s.intr.Source(),
		MarkerSize:       s.size.Get(),
		Stream:           s.registry.Stats(),
		Detector:         s.detector.GetStats(),
		Uptime:           time.Since(s.started).Round(time.Second).String(),
	}
}
