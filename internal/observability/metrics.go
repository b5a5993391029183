package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FramesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "faceid",
		Name:      "frames_processed_total",
		Help:      "Total number of frames processed",
	}, []string{"stream_id"})

	FacesDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "faceid",
		Name:      "faces_detected_total",
		Help:      "Total number of faces localized by the detector",
	}, []string{"stream_id"})

	FacesIdentified = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "faceid",
		Name:      "faces_identified_total",
		Help:      "Total number of faces matched to a gallery identity",
	}, []string{"stream_id"})

	FacesUnknown = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "faceid",
		Name:      "faces_unknown_total",
		Help:      "Total number of faces with no candidate within the distance threshold",
	}, []string{"stream_id"})

	InferenceDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "faceid",
		Name:      "inference_duration_seconds",
		Help:      "Duration of detection and identification stages",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"stage"})

	GallerySize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "faceid",
		Name:      "gallery_entries",
		Help:      "Number of enrolled embeddings in the loaded gallery",
	}, []string{"provider"})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "faceid",
		Name:      "queue_depth",
		Help:      "Number of pending frame tasks in queue",
	})

	ActiveStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "faceid",
		Name:      "active_streams",
		Help:      "Number of currently active video streams",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "faceid",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "faceid",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})
)
