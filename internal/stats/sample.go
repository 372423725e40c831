package stats

import "time"

// StreamStatus classifies a publishing stream by signal quality.
type StreamStatus string

const (
	// StatusActive is a healthy stream with frames and usable bitrate.
	StatusActive StreamStatus = "active"
	// StatusDropped means frames stopped or the bitrate fell below the floor.
	StatusDropped StreamStatus = "dropped"
	// StatusBlack means bytes or codec metadata are missing entirely.
	StatusBlack StreamStatus = "black"
)

// droppedBitrateFloorKbps is the threshold below which a stream with frames is
// still considered dropped.
const droppedBitrateFloorKbps = 100

// bucketMillis is the sample bucket width. One sample per stream per bucket.
const bucketMillis = 60_000

// Sample is one minute-bucket observation of a publishing stream.
type Sample struct {
	StreamKey string `json:"streamKey"`
	// Timestamp is the bucket start in unix milliseconds.
	Timestamp   int64        `json:"timestamp"`
	BitrateKbps float64      `json:"bitrateKbps"`
	FrameRate   float64      `json:"frameRate"`
	Profile     string       `json:"profile"`
	BytesIn     int64        `json:"bytesIn"`
	BytesOut    int64        `json:"bytesOut"`
	Viewers     int          `json:"viewers"`
	Status      StreamStatus `json:"status"`
}

// BucketTimestamp floors now to the start of its minute bucket.
func BucketTimestamp(now time.Time) int64 {
	return now.UnixMilli() / bucketMillis * bucketMillis
}

// BuildSample derives a sample from one stream's stat entry. Bitrate is the
// average over the stream's whole uptime, in kbps.
func BuildSample(stream RTMPStream, viewers int, now time.Time) Sample {
	bitrate := 0.0
	if stream.Time > 0 {
		bitrate = float64(stream.BytesIn) * 8 / float64(stream.Time)
	}
	if bitrate <= 0 {
		bitrate = 0
	}
	status := classify(stream, bitrate)
	return Sample{
		StreamKey:   stream.Name,
		Timestamp:   BucketTimestamp(now),
		BitrateKbps: bitrate,
		FrameRate:   stream.Meta.Video.FrameRate,
		Profile:     stream.Meta.Video.Profile,
		BytesIn:     stream.BytesIn,
		BytesOut:    stream.BytesOut,
		Viewers:     viewers,
		Status:      status,
	}
}

// classify checks dropped before black: a stream with no frames or a starved
// bitrate is dropped even when codec metadata is also missing.
func classify(stream RTMPStream, bitrateKbps float64) StreamStatus {
	if stream.Meta.Video.FrameRate == 0 || bitrateKbps < droppedBitrateFloorKbps {
		return StatusDropped
	}
	if stream.Meta.Video.Profile == "" || stream.BytesIn == 0 {
		return StatusBlack
	}
	return StatusActive
}
