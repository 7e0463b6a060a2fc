package main

import (
	"errors"
	"strings"
	"time"

	"github.com/nsqio/go-nsq"

	"github.com/austindbirch/hookrelay/internal/config"
	"github.com/austindbirch/hookrelay/internal/delivery"
	"github.com/austindbirch/hookrelay/internal/logging"
)

var errNotConnected = errors.New("no nsqd connection")

// consumerConfig keeps go-nsq's own attempt cap in line with the retry
// budget; messages over it reach Consumer.LogFailedMessage.
func consumerConfig(cfg config.Config) *nsq.Config {
	conf := nsq.NewConfig()
	conf.MaxInFlight = cfg.NSQ.MaxInFlight
	conf.MaxAttempts = uint16(cfg.Worker.MaxAttempts)
	if last := cfg.Worker.BackoffSchedule[len(cfg.Worker.BackoffSchedule)-1]; last > conf.MaxRequeueDelay {
		conf.MaxRequeueDelay = min(last+last/2, time.Hour)
	}
	return conf
}

func retryPolicy(cfg config.Config) delivery.RetryPolicy {
	return delivery.RetryPolicy{
		MaxAttempts: cfg.Worker.MaxAttempts,
		Backoff:     cfg.Worker.BackoffSchedule,
		JitterPct:   cfg.Worker.JitterPercent,
	}
}

// nsqLogger routes go-nsq's internal log lines through our logger
type nsqLogger struct {
	logger *logging.Logger
}

func (l nsqLogger) Output(_ int, s string) error {
	entry := l.logger.Plain().WithField("component", "go-nsq")
	switch {
	case strings.HasPrefix(s, "ERR"):
		entry.Error(strings.TrimSpace(s))
	case strings.HasPrefix(s, "WRN"):
		entry.Warn(strings.TrimSpace(s))
	default:
		entry.Debug(strings.TrimSpace(s))
	}
	return nil
}
