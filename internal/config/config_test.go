package config

import "testing"

func validConfig() *Config {
	return &Config{
		LogLevel:             "info",
		LogFormat:            "json",
		PrimaryAddr:          ":4001",
		SecondaryAddr:        ":4002",
		PrimaryTransport:     "tcp",
		SecondaryTransport:   "rdma",
		MetricsAddr:          ":9400",
		ConnectRetries:       30,
		ConnectRetryInterval: 0,
	}
}

func TestValidateAcceptsWellFormedConfig(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestValidateRejectsMissingPrimaryAddr(t *testing.T) {
	c := validConfig()
	c.PrimaryAddr = ""
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for missing NFR_PRIMARY_ADDR")
	}
}

func TestValidateRejectsMissingSecondaryAddr(t *testing.T) {
	c := validConfig()
	c.SecondaryAddr = ""
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for missing NFR_SECONDARY_ADDR")
	}
}

func TestValidateRejectsUnknownTransport(t *testing.T) {
	c := validConfig()
	c.PrimaryTransport = "udp"
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for an unknown transport tag")
	}
}

func TestValidateRejectsUnknownLogLevel(t *testing.T) {
	c := validConfig()
	c.LogLevel = "verbose"
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for an unknown log level")
	}
}

func TestValidateRejectsUnknownLogFormat(t *testing.T) {
	c := validConfig()
	c.LogFormat = "xml"
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for an unknown log format")
	}
}

func TestValidateRejectsZeroConnectRetries(t *testing.T) {
	c := validConfig()
	c.ConnectRetries = 0
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for non-positive NFR_CONNECT_RETRIES")
	}
}
