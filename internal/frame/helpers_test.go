package frame

import (
	"time"

	"github.com/roadsentry/roadsentry-go/internal/conf"
)

func testStreamSettings(source string) conf.StreamSettings {
	return conf.StreamSettings{
		Source:         source,
		Transport:      "tcp",
		FfmpegPath:     "ffmpeg",
		SampleInterval: 500 * time.Millisecond,
		Width:          250,
		Height:         250,
		Reconnect: conf.ReconnectSettings{
			MaxRetries:   2,
			InitialDelay: 10 * time.Millisecond,
			MaxDelay:     50 * time.Millisecond,
		},
	}
}
