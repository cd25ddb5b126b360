package relay

import (
	"time"

	kit "callrelay/internal/transport"
)

type Config struct {
	// Default destination for records without one.
	Target kit.ChatTarget

	PollInterval       time.Duration
	SweepInterval      time.Duration
	TrackTTL           time.Duration
	TerminalEvictDelay time.Duration
	ItemDelay          time.Duration
	BatchSize          int

	SendTimeout  time.Duration
	ProbeTimeout time.Duration

	// MaskDTMF hides all but the last two captured digits.
	MaskDTMF bool
	// Location sets the zone for clock times in details; nil means local time.
	Location *time.Location
}

const (
	DefaultPollInterval       = 3 * time.Second
	DefaultSweepInterval      = 30 * time.Minute
	DefaultTrackTTL           = time.Hour
	DefaultTerminalEvictDelay = 5 * time.Minute
	DefaultItemDelay          = 150 * time.Millisecond
	DefaultBatchSize          = 50
	DefaultSendTimeout        = 15 * time.Second
	DefaultProbeTimeout       = 8 * time.Second
)

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	if c.TrackTTL <= 0 {
		c.TrackTTL = DefaultTrackTTL
	}
	if c.TerminalEvictDelay <= 0 {
		c.TerminalEvictDelay = DefaultTerminalEvictDelay
	}
	if c.ItemDelay <= 0 {
		c.ItemDelay = DefaultItemDelay
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = DefaultSendTimeout
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = DefaultProbeTimeout
	}
	return c
}

func (c Config) formatter() Formatter {
	return Formatter{MaskDTMF: c.MaskDTMF, Location: c.Location}
}
