package main

import (
	"context"
	"fmt"
	"math"
	"slices"

	"lifeline/pkg/types"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"
)

var knownSinks = []string{"log", "store", "sqs", "kafka", "redis"}

// loadConfig reads the environment. requireDB is false for serve --memory.
func loadConfig(requireDB bool) (*types.Config, error) {
	c := new(types.Config)
	if err := envconfig.Process("", c); err != nil {
		return nil, fmt.Errorf("process environment config: %w", err)
	}

	if requireDB && c.DatabaseURL == "" {
		return nil, fmt.Errorf("set DATABASE_URL")
	}

	if c.ServerPort == 0 {
		c.ServerPort = 8080
	}

	if c.ReadTimeoutSec == 0 {
		c.ReadTimeoutSec = 10
	}

	if c.WriteTimeoutSec == 0 {
		c.WriteTimeoutSec = 15
	}

	if math.IsNaN(c.MatchRadiusKm) || c.MatchRadiusKm <= 0 {
		return nil, fmt.Errorf("MATCH_RADIUS_KM must be positive, got %v", c.MatchRadiusKm)
	}

	for _, sink := range c.NotifySinks {
		if !slices.Contains(knownSinks, sink) {
			return nil, fmt.Errorf("unknown notification sink %q in NOTIFY_SINKS", sink)
		}
	}

	if slices.Contains(c.NotifySinks, "sqs") && c.SQSQueueURL == "" {
		return nil, fmt.Errorf("set SQS_QUEUE_URL to use the sqs sink")
	}
	if slices.Contains(c.NotifySinks, "kafka") && len(c.KafkaBrokers) == 0 {
		return nil, fmt.Errorf("set KAFKA_BROKERS to use the kafka sink")
	}
	if slices.Contains(c.NotifySinks, "redis") && c.RedisURL == "" {
		return nil, fmt.Errorf("set REDIS_URL to use the redis sink")
	}

	return c, nil
}

func loadAWSConfig(ctx context.Context) (aws.Config, error) {
	config, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load aws config: %w", err)
	}

	return config, nil
}

func newLogger(c *types.Config, json bool) *logrus.Logger {
	logger := logrus.New()
	if json {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		logger.WithError(err).Warn("invalid LOG_LEVEL, using info")
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	return logger
}
