package extractor

import (
	"bytes"
	"strings"

	"github.com/rwcarlsen/goexif/exif"
)

// cameraFromExif returns "<make> <model>" from the snapshot's EXIF data, or
// an empty string if there is none.
func cameraFromExif(data []byte) string {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return ""
	}

	var parts []string
	for _, name := range []exif.FieldName{exif.Make, exif.Model} {
		tag, err := x.Get(name)
		if err != nil {
			continue
		}
		s, err := tag.StringVal()
		if err != nil {
			continue
		}
		if s = strings.TrimSpace(strings.Trim(s, "\x00")); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}
