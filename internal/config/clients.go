package config

import (
	"time"

	"github.com/cuongbtq/campaign-crm/shared/logger"
	"github.com/cuongbtq/campaign-crm/shared/postgresql"
	"github.com/cuongbtq/campaign-crm/shared/rabbitmq"
	"github.com/cuongbtq/campaign-crm/shared/redis"
)

// LoggerConfig converts the logging section for shared/logger
func (c *LoggingConfig) LoggerConfig() *logger.Config {
	timeFormat := c.TimeFormat
	if timeFormat == "" {
		timeFormat = time.RFC3339
	}
	return &logger.Config{
		Level:        c.Level,
		Format:       c.Format,
		Output:       c.Output,
		EnableSource: c.EnableSource,
		TimeFormat:   timeFormat,
	}
}

// PostgreSQLConfig converts the database section for shared/postgresql
func (c *DatabaseConfig) PostgreSQLConfig() *postgresql.Config {
	return &postgresql.Config{
		Host:            c.Host,
		Port:            c.Port,
		User:            c.User,
		Password:        c.Password,
		Database:        c.Database,
		SSLMode:         c.SSLMode,
		MaxOpenConns:    c.MaxOpenConns,
		MaxIdleConns:    c.MaxIdleConns,
		ConnMaxLifetime: c.ConnMaxLifetime,
		ConnMaxIdleTime: c.ConnMaxIdleTime,
	}
}

// RabbitMQClientConfig converts the rabbitmq section for shared/rabbitmq
func (c *RabbitMQConfig) RabbitMQClientConfig() *rabbitmq.Config {
	return &rabbitmq.Config{
		Host:               c.Host,
		Port:               c.Port,
		User:               c.User,
		Password:           c.Password,
		VHost:              c.VHost,
		ExchangeName:       c.Exchange.Name,
		ExchangeType:       c.Exchange.Type,
		ExchangeDurable:    c.Exchange.Durable,
		ExchangeAutoDelete: c.Exchange.AutoDelete,
		QueueName:          c.Queue.Name,
		QueueDurable:       c.Queue.Durable,
		QueueAutoDelete:    c.Queue.AutoDelete,
		QueueExclusive:     c.Queue.Exclusive,
		DeadLetterExchange: c.Queue.DeadLetterExchange,
		RoutingKey:         c.RoutingKey,
		RetryAttempts:      c.Connection.RetryAttempts,
		RetryInterval:      c.Connection.RetryInterval,
		Heartbeat:          c.Connection.Heartbeat,
		ConnectionTimeout:  c.Connection.ConnectionTimeout,
		PublishRetries:     c.Publish.RetryAttempts,
		PublishRetryDelay:  c.Publish.RetryInterval,
		PublishBackoffMult: c.Publish.BackoffMultiplier,
	}
}

// RedisClientConfig converts the redis section for shared/redis
func (c *RedisConfig) RedisClientConfig() *redis.Config {
	return &redis.Config{
		Addr:     c.Addr,
		Password: c.Password,
		DB:       c.DB,
	}
}
