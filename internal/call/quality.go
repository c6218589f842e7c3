package call

import (
	"time"

	"github.com/pion/webrtc/v3"

	"github.com/peerline/backend/internal/models"
)

// QualityThresholds map packets lost per sampling interval to a quality level.
type QualityThresholds struct {
	FairPacketLoss int64
	PoorPacketLoss int64
}

// DefaultQualityThresholds are 10 lost packets for Fair and 50 for Poor.
func DefaultQualityThresholds() QualityThresholds {
	return QualityThresholds{FairPacketLoss: 10, PoorPacketLoss: 50}
}

// Classify maps a loss count to a quality level.
func (t QualityThresholds) Classify(lost int64) models.ConnectionQuality {
	switch {
	case t.PoorPacketLoss > 0 && lost >= t.PoorPacketLoss:
		return models.QualityPoor
	case t.FairPacketLoss > 0 && lost >= t.FairPacketLoss:
		return models.QualityFair
	default:
		return models.QualityGood
	}
}

// qualitySampler turns cumulative inbound RTP counters into per-interval samples.
type qualitySampler struct {
	thresholds   QualityThresholds
	lastLost     int64
	lastReceived int64
}

func (q *qualitySampler) sample(report webrtc.StatsReport, at time.Time) models.QualitySample {
	var lost, received int64
	for _, s := range report {
		if in, ok := s.(webrtc.InboundRTPStreamStats); ok {
			lost += int64(in.PacketsLost)
			received += int64(in.PacketsReceived)
		}
	}
	dLost := lost - q.lastLost
	if dLost < 0 {
		dLost = 0
	}
	dReceived := received - q.lastReceived
	if dReceived < 0 {
		dReceived = 0
	}
	q.lastLost, q.lastReceived = lost, received
	return models.QualitySample{
		At:              at.UTC(),
		PacketsLost:     dLost,
		PacketsReceived: dReceived,
		Quality:         q.thresholds.Classify(dLost),
	}
}
