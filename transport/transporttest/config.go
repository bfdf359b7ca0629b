// Package transporttest provides a settable transport.Config for tests.
package transporttest

import "time"

// Config implements transport.Config with plain fields.
type Config struct {
	Transport string
	Topic     string
	Publish   bool
	Subscribe bool

	PubPort                  int
	SubHost                  string
	SubPort                  int
	ReconnectInitialInterval time.Duration
	ReconnectMaxInterval     time.Duration

	KafkaBrokers       []string
	KafkaConsumerGroup string
	RabbitMQURL        string
	NATSURL            string
	HTTPServerAddress  string
	HTTPPublisherURL   string
	IOFile             string
	SQLiteFile         string
	PostgresURL        string
	AWSRegion          string
	AWSAccountID       string
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	AWSEndpoint        string
}

// PubSub returns a config for name with both sides enabled.
func PubSub(name string) *Config {
	return &Config{Transport: name, Topic: "servoflow.bus", Publish: true, Subscribe: true}
}

func (c *Config) GetTransport() string                       { return c.Transport }
func (c *Config) GetTopic() string                           { return c.Topic }
func (c *Config) Publishes() bool                            { return c.Publish }
func (c *Config) Subscribes() bool                           { return c.Subscribe }
func (c *Config) GetPubPort() int                            { return c.PubPort }
func (c *Config) GetSubHost() string                         { return c.SubHost }
func (c *Config) GetSubPort() int                            { return c.SubPort }
func (c *Config) GetReconnectInitialInterval() time.Duration { return c.ReconnectInitialInterval }
func (c *Config) GetReconnectMaxInterval() time.Duration     { return c.ReconnectMaxInterval }
func (c *Config) GetKafkaBrokers() []string                  { return c.KafkaBrokers }
func (c *Config) GetKafkaConsumerGroup() string              { return c.KafkaConsumerGroup }
func (c *Config) GetRabbitMQURL() string                     { return c.RabbitMQURL }
func (c *Config) GetNATSURL() string                         { return c.NATSURL }
func (c *Config) GetHTTPServerAddress() string               { return c.HTTPServerAddress }
func (c *Config) GetHTTPPublisherURL() string                { return c.HTTPPublisherURL }
func (c *Config) GetIOFile() string                          { return c.IOFile }
func (c *Config) GetSQLiteFile() string                      { return c.SQLiteFile }
func (c *Config) GetPostgresURL() string                     { return c.PostgresURL }
func (c *Config) GetAWSRegion() string                       { return c.AWSRegion }
func (c *Config) GetAWSAccountID() string                    { return c.AWSAccountID }
func (c *Config) GetAWSAccessKeyID() string                  { return c.AWSAccessKeyID }
func (c *Config) GetAWSSecretAccessKey() string              { return c.AWSSecretAccessKey }
func (c *Config) GetAWSEndpoint() string                     { return c.AWSEndpoint }
