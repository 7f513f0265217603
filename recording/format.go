package recording

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrNoCodec = errors.New("no supported recording codec")

// Format is a container plus the fourcc used to encode into it.
type Format struct {
	Name     string
	MimeType string
	Ext      string
	FourCC   string
}

var (
	MP4  = Format{Name: "mp4", MimeType: "video/mp4", Ext: ".mp4", FourCC: "avc1"}
	WebM = Format{Name: "webm", MimeType: "video/webm", Ext: ".webm", FourCC: "VP80"}
)

func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "mp4":
		return MP4, nil
	case "webm":
		return WebM, nil
	}
	return Format{}, fmt.Errorf("unknown recording format %q", s)
}

// Negotiate returns preferred when supported accepts it and falls back to WebM.
func Negotiate(preferred Format, supported func(Format) bool) (Format, error) {
	if supported(preferred) {
		return preferred, nil
	}
	if preferred != WebM && supported(WebM) {
		return WebM, nil
	}
	return Format{}, fmt.Errorf("%w: tried %s and %s", ErrNoCodec, preferred.Name, WebM.Name)
}

// Filename is "<prefix>_<unix millis><ext>".
func Filename(prefix string, at time.Time, f Format) string {
	return fmt.Sprintf("%s_%d%s", prefix, at.UnixMilli(), f.Ext)
}
