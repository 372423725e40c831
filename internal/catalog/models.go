package catalog

import "time"

// User is a streaming account: the owner of a stream key and the identity an
// ingest connection resolves to.
type User struct {
	ID              string    `json:"id"`
	DisplayName     string    `json:"displayName"`
	Email           string    `json:"email"`
	StreamKey       string    `json:"streamKey"`
	IngestTokenHash string    `json:"ingestTokenHash,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}

// Video is a processed recording: the rendition ladder, master manifest, and
// thumbnails produced by the transcode pipeline.
type Video struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	OwnerID           string    `json:"ownerId,omitempty"`
	DurationSeconds   float64   `json:"durationSeconds"`
	SizeBytes         int64     `json:"sizeBytes"`
	Width             int       `json:"width"`
	Height            int       `json:"height"`
	VideoCodec        string    `json:"videoCodec"`
	MasterPlaylistURL string    `json:"masterPlaylistUrl"`
	RenditionURLs     []string  `json:"renditionUrls"`
	Thumbnails        []string  `json:"thumbnails"`
	CreatedAt         time.Time `json:"createdAt"`
}
