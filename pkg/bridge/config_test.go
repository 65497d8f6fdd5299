package bridge

import (
	"testing"
	"time"
)

func TestConfigSanitizeFillsZeroValues(t *testing.T) {
	c := &Config{}
	c.sanitize()
	d := DefaultConfig()
	if len(c.ChannelNames) != 1 || c.ChannelNames[0] != d.ChannelNames[0] {
		t.Errorf("ChannelNames = %v, want %v", c.ChannelNames, d.ChannelNames)
	}
	if c.PipePrefix != d.PipePrefix {
		t.Errorf("PipePrefix = %q, want %q", c.PipePrefix, d.PipePrefix)
	}
	if c.InboundBufferBytes != d.InboundBufferBytes {
		t.Errorf("InboundBufferBytes = %d, want %d", c.InboundBufferBytes, d.InboundBufferBytes)
	}
	if c.ReadChunkBytes != d.ReadChunkBytes {
		t.Errorf("ReadChunkBytes = %d, want %d", c.ReadChunkBytes, d.ReadChunkBytes)
	}
	if c.RearmMinDelay != d.RearmMinDelay || c.RearmMaxDelay != d.RearmMaxDelay {
		t.Errorf("re-arm delays = %v/%v, want %v/%v",
			c.RearmMinDelay, c.RearmMaxDelay, d.RearmMinDelay, d.RearmMaxDelay)
	}
}

func TestConfigSanitizeKeepsExplicitValues(t *testing.T) {
	c := &Config{
		ChannelNames:       []string{"custom"},
		PipePrefix:         "MyPipe",
		InboundBufferBytes: 128,
		ReadChunkBytes:     32,
		RearmMinDelay:      time.Millisecond,
		RearmMaxDelay:      time.Second,
	}
	c.sanitize()
	if c.ChannelNames[0] != "custom" || c.PipePrefix != "MyPipe" ||
		c.InboundBufferBytes != 128 || c.ReadChunkBytes != 32 ||
		c.RearmMinDelay != time.Millisecond || c.RearmMaxDelay != time.Second {
		t.Errorf("sanitize rewrote explicit values: %+v", c)
	}
}

func TestConfigApplyEnvIgnoresEmpty(t *testing.T) {
	t.Setenv(EnvChannelNames, " ; ; ")
	c := DefaultConfig()
	c.ApplyEnv()
	if len(c.ChannelNames) != 1 || c.ChannelNames[0] != "RDPipe" {
		t.Errorf("ChannelNames = %v after blank env, want default", c.ChannelNames)
	}
}
