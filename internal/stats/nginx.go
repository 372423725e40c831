package stats

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"time"
)

// RTMPStats mirrors the nginx-rtmp /stat XML document, decoded into a typed
// tree so callers never walk raw nodes.
type RTMPStats struct {
	XMLName xml.Name     `xml:"rtmp"`
	Servers []RTMPServer `xml:"server"`
}

type RTMPServer struct {
	Applications []RTMPApplication `xml:"application"`
}

type RTMPApplication struct {
	Name string   `xml:"name"`
	Live RTMPLive `xml:"live"`
}

type RTMPLive struct {
	Streams []RTMPStream `xml:"stream"`
}

type RTMPStream struct {
	Name       string       `xml:"name"`
	Time       int64        `xml:"time"`
	BytesIn    int64        `xml:"bytes_in"`
	BytesOut   int64        `xml:"bytes_out"`
	BWIn       int64        `xml:"bw_in"`
	BWOut      int64        `xml:"bw_out"`
	NumClients int          `xml:"nclients"`
	Publishing *struct{}    `xml:"publishing"`
	Active     *struct{}    `xml:"active"`
	Clients    []RTMPClient `xml:"client"`
	Meta       RTMPMeta     `xml:"meta"`
}

type RTMPClient struct {
	ID         string    `xml:"id"`
	Address    string    `xml:"address"`
	Time       int64     `xml:"time"`
	FlashVer   string    `xml:"flashver"`
	Publishing *struct{} `xml:"publishing"`
}

type RTMPMeta struct {
	Video RTMPVideoMeta `xml:"video"`
	Audio RTMPAudioMeta `xml:"audio"`
}

type RTMPVideoMeta struct {
	Width     int     `xml:"width"`
	Height    int     `xml:"height"`
	FrameRate float64 `xml:"frame_rate"`
	Codec     string  `xml:"codec"`
	Profile   string  `xml:"profile"`
	Level     string  `xml:"level"`
}

type RTMPAudioMeta struct {
	Codec      string `xml:"codec"`
	Profile    string `xml:"profile"`
	Channels   int    `xml:"channels"`
	SampleRate int    `xml:"sample_rate"`
}

// IsPublishing reports whether the stream has an active publisher.
func (s RTMPStream) IsPublishing() bool {
	return s.Publishing != nil
}

// ParseStats decodes an nginx-rtmp stat document.
func ParseStats(r io.Reader) (RTMPStats, error) {
	var stats RTMPStats
	if err := xml.NewDecoder(r).Decode(&stats); err != nil {
		return RTMPStats{}, fmt.Errorf("decode rtmp stats: %w", err)
	}
	return stats, nil
}

// Application returns the named application from the first server block.
func (s RTMPStats) Application(name string) (RTMPApplication, bool) {
	for _, server := range s.Servers {
		for _, app := range server.Applications {
			if app.Name == name {
				return app, true
			}
		}
	}
	return RTMPApplication{}, false
}

// FetchFunc retrieves the current stat document.
type FetchFunc func(ctx context.Context) (RTMPStats, error)

// HTTPFetcher polls a stat URL over HTTP.
func HTTPFetcher(url string, client *http.Client) FetchFunc {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return func(ctx context.Context) (RTMPStats, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return RTMPStats{}, fmt.Errorf("build stat request: %w", err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return RTMPStats{}, fmt.Errorf("fetch rtmp stats: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return RTMPStats{}, fmt.Errorf("fetch rtmp stats: unexpected status %d", resp.StatusCode)
		}
		return ParseStats(resp.Body)
	}
}
