package config

import "testing"

func TestParseLevel(t *testing.T) {
	cases := map[string]string{
		"debug":   "debug",
		"DEBUG":   "debug",
		"warn":    "warn",
		"warning": "warn",
		"error":   "error",
		"":        "info",
		"bogus":   "info",
	}

	for input, want := range cases {
		got := parseLevel(input).String()
		if got != want {
			t.Errorf("parseLevel(%q).String() = %q, want %q", input, got, want)
		}
	}
}

func TestApplyDefaultsParsesEveryField(t *testing.T) {
	cfg := &Config{}
	port, exporterPort := "9400", "9401"
	logDir, logLevel := "logs", "debug"
	heartbeat, nackTimeout := "5", "3"
	producerBuf, consumerBuf := "2048", "1024"
	exporter := "true"

	applyDefaults(cfg, &port, &exporterPort, &logDir, &logLevel, &heartbeat,
		&nackTimeout, &producerBuf, &consumerBuf, &exporter)

	if cfg.BrokerPort != 9400 {
		t.Errorf("BrokerPort = %d, want 9400", cfg.BrokerPort)
	}
	if cfg.ExporterPort != 9401 {
		t.Errorf("ExporterPort = %d, want 9401", cfg.ExporterPort)
	}
	if cfg.LogDir != "logs" {
		t.Errorf("LogDir = %q, want %q", cfg.LogDir, "logs")
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}
	if cfg.HeartbeatInterval != 5 {
		t.Errorf("HeartbeatInterval = %d, want 5", cfg.HeartbeatInterval)
	}
	if cfg.NackTimeout != 3 {
		t.Errorf("NackTimeout = %d, want 3", cfg.NackTimeout)
	}
	if cfg.ProducerBufferCap != 2048 {
		t.Errorf("ProducerBufferCap = %d, want 2048", cfg.ProducerBufferCap)
	}
	if cfg.ConsumerBufferCap != 1024 {
		t.Errorf("ConsumerBufferCap = %d, want 1024", cfg.ConsumerBufferCap)
	}
	if !cfg.EnableExporter {
		t.Error("EnableExporter = false, want true")
	}
}

func TestApplyDefaultsIgnoresUnparsableValues(t *testing.T) {
	cfg := &Config{BrokerPort: 1234}
	bogus := "not-a-number"
	logDir, logLevel := "logs", "info"
	exporter := "true"

	applyDefaults(cfg, &bogus, &bogus, &logDir, &logLevel, &bogus, &bogus, &bogus, &bogus, &exporter)

	if cfg.BrokerPort != 1234 {
		t.Errorf("BrokerPort should be left untouched on parse failure, got %d", cfg.BrokerPort)
	}
}
