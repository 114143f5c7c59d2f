package catalog

import (
	"fmt"
	"strings"
)

// DefaultResourcesBaseURL hosts album cover images.
const DefaultResourcesBaseURL = "https://resources.tidal.com"

// Image is one rendition of a cover.
type Image struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// CoverSet is the cover of an album at three resolutions.
type CoverSet struct {
	High   *Image `json:"high,omitempty"`
	Medium *Image `json:"medium,omitempty"`
	Low    *Image `json:"low,omitempty"`
}

// Covers returns the cover set for a cover id (a dashed uuid).
// An empty id yields an empty set.
func Covers(coverID string) CoverSet {
	if coverID == "" {
		return CoverSet{}
	}
	base := fmt.Sprintf("%s/images/%s", DefaultResourcesBaseURL, strings.ReplaceAll(coverID, "-", "/"))
	image := func(size int) *Image {
		return &Image{
			URL:    fmt.Sprintf("%s/%dx%d.jpg", base, size, size),
			Width:  size,
			Height: size,
		}
	}
	return CoverSet{
		High:   image(1280),
		Medium: image(640),
		Low:    image(320),
	}
}
