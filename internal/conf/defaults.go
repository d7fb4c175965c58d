// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("main.name", "RoadSentry")
	viper.SetDefault("main.location", "")
	viper.SetDefault("main.cameraid", "cam-01")
	viper.SetDefault("main.log.enabled", true)
	viper.SetDefault("main.log.path", "logs/roadsentry.log")

	viper.SetDefault("stream.source", "")
	viper.SetDefault("stream.transport", "tcp")
	viper.SetDefault("stream.ffmpegpath", "ffmpeg")
	viper.SetDefault("stream.sampleinterval", 500*time.Millisecond)
	viper.SetDefault("stream.width", 250)
	viper.SetDefault("stream.height", 250)
	viper.SetDefault("stream.reconnect.maxretries", 5)
	viper.SetDefault("stream.reconnect.initialdelay", 1*time.Second)
	viper.SetDefault("stream.reconnect.maxdelay", 30*time.Second)

	viper.SetDefault("detection.lowthreshold", 0.5)
	viper.SetDefault("detection.highthreshold", 0.95)
	viper.SetDefault("detection.windowsize", 10)
	viper.SetDefault("detection.minconfirmfraction", 0.3)
	viper.SetDefault("detection.windowtimeout", 30*time.Second)
	viper.SetDefault("detection.cooldown", 2*time.Minute)

	viper.SetDefault("classifier.type", "onnx")
	viper.SetDefault("classifier.modelpath", "model/accident.onnx")
	viper.SetDefault("classifier.runtimelib", "model/libonnxruntime.so")
	viper.SetDefault("classifier.threads", 0)

	viper.SetDefault("enrichment.enabled", true)
	viper.SetDefault("enrichment.provider", "gemini")
	viper.SetDefault("enrichment.timeout", 120*time.Second)
	viper.SetDefault("enrichment.eventtimeout", 10*time.Minute)
	viper.SetDefault("enrichment.maxretries", 2)
	viper.SetDefault("enrichment.concurrency", 2)
	viper.SetDefault("enrichment.temperature", 0.2)
	viper.SetDefault("enrichment.notifyprogress", true)
	viper.SetDefault("enrichment.products.scenedescription", true)
	viper.SetDefault("enrichment.products.structuredfindings", true)
	viper.SetDefault("enrichment.products.recommendations", true)
	viper.SetDefault("enrichment.products.report", true)
	viper.SetDefault("enrichment.gemini.model", "gemini-2.5-flash")
	viper.SetDefault("enrichment.ollama.host", "http://localhost:11434")
	viper.SetDefault("enrichment.ollama.model", "llava:7b-v1.5-q4_0")

	viper.SetDefault("notify.telegram.enabled", true)
	viper.SetDefault("notify.telegram.alertchat", "")
	viper.SetDefault("notify.telegram.reportchat", "")
	viper.SetDefault("notify.telegram.timeout", 15*time.Second)
	viper.SetDefault("notify.shoutrrr.enabled", false)
	viper.SetDefault("notify.shoutrrr.urls", []string{})
	viper.SetDefault("notify.shoutrrr.timeout", 10*time.Second)
	viper.SetDefault("notify.retry.maxretries", 3)
	viper.SetDefault("notify.retry.initialdelay", 2*time.Second)
	viper.SetDefault("notify.retry.maxdelay", 30*time.Second)
	viper.SetDefault("notify.retry.multiplier", 2.0)

	viper.SetDefault("mqtt.enabled", false)
	viper.SetDefault("mqtt.broker", "tcp://localhost:1883")
	viper.SetDefault("mqtt.topic", "roadsentry/events")
	viper.SetDefault("mqtt.username", "roadsentry")
	viper.SetDefault("mqtt.retain", false)

	viper.SetDefault("metrics.enabled", false)
	viper.SetDefault("metrics.listen", "0.0.0.0:8090")
}
