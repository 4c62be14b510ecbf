package server

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
)

func boolGauge(v bool) int {
	if v {
		return 1
	}
	return 0
}

// handleMetrics writes Prometheus text format.
func (s *Server) handleMetrics(c *fiber.Ctx) error {
	st := s.svc.Status()

	var b strings.Builder
	metric := func(name, kind, help string, v interface{}) {
		fmt.Fprintf(&b, "# HELP camhost_%s %s\n# TYPE camhost_%s %s\ncamhost_%s %v\n\n", name, help, name, kind, name, v)
	}

	metric("camera_open", "gauge", "Whether the camera is open", boolGauge(st.CameraOpen))
	metric("frames_published", "counter", "Frames published to the cache", st.FrameSeq)
	metric("stream_subscribers", "gauge", "Connected stream endpoints", st.Stream.Subscribers)
	metric("stream_broadcasts", "counter", "Frames broadcast to subscribers", st.Stream.Broadcasts)
	metric("stream_delivered", "counter", "Frames delivered to endpoints", st.Stream.Delivered)
	metric("stream_failed", "counter", "Failed deliveries", st.Stream.Failed)
	metric("stream_dropped", "counter", "Frames overwritten before delivery", st.Stream.Dropped)
	metric("detections", "counter", "Detection calls", st.Detector.Runs)
	metric("detection_errors", "counter", "Failed detection calls", st.Detector.Errors)
	metric("markers_detected", "counter", "Markers found", st.Detector.Markers)
	metric("marker_size_meters", "gauge", "Marker edge length", st.MarkerSize)

	if s.remote != nil {
		rs := s.remote.GetStats()
		metric("sources", "gauge", "Connected camera sources", rs.Sources)
		metric("source_frames_received", "counter", "Frames received from sources", rs.FramesReceived)
		metric("source_frames_rejected", "counter", "Malformed or inactive-source frames", rs.FramesRejected)
		metric("source_messages_ignored", "counter", "Messages from inactive sources", rs.Ignored)
	}
	if s.capture != nil {
		metric("frames_captured", "counter", "Frames read from the local device", s.capture.FramesCaptured())
	}

	c.Set(fiber.HeaderContentType, "text/plain; version=0.0.4")
	return c.SendString(b.String())
}
