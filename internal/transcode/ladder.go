package transcode

import "fmt"

// Rendition is one rung of the adaptive bitrate ladder.
type Rendition struct {
	Label       string
	Width       int
	Height      int
	BitrateKbps int
}

var ladderRows = []Rendition{
	{Label: "720p", Width: 1280, Height: 720, BitrateKbps: 2500},
	{Label: "480p", Width: 854, Height: 480, BitrateKbps: 1000},
	{Label: "360p", Width: 640, Height: 360, BitrateKbps: 750},
	{Label: "240p", Width: 426, Height: 240, BitrateKbps: 400},
}

// Ladder maps a source height to the renditions to produce. Sources at or
// above 720 lines get the full ladder; unknown or sub-360 sources fall back
// to the smallest ladder rather than being rejected.
func Ladder(sourceHeight int) []Rendition {
	var rows []Rendition
	switch {
	case sourceHeight >= 720:
		rows = ladderRows
	case sourceHeight >= 480:
		rows = ladderRows[1:]
	default:
		rows = ladderRows[2:]
	}
	out := make([]Rendition, len(rows))
	copy(out, rows)
	return out
}

// Resolution renders the WxH string used for scaling and manifest attributes.
func (r Rendition) Resolution() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// Bandwidth is the manifest BANDWIDTH attribute in bits per second.
func (r Rendition) Bandwidth() int {
	return r.BitrateKbps * 1000
}
