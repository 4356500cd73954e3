package pulsarutils

import (
	"strings"

	"github.com/apache/pulsar-client-go/pulsar"
	pulsarlog "github.com/apache/pulsar-client-go/pulsar/log"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/SDU-eScience/UCloud-sub021/internal/common/config"
	"github.com/SDU-eScience/UCloud-sub021/internal/common/uclouderrors"
)

func NewPulsarClient(config *config.PulsarConfig) (pulsar.Client, error) {
	var authentication pulsar.Authentication

	if config.AuthenticationEnabled {
		jwtPath, err := getTokenPath(config)
		if err != nil {
			return nil, err
		}
		authentication = pulsar.NewAuthenticationTokenFromFile(jwtPath)
	}

	client, err := pulsar.NewClient(pulsar.ClientOptions{
		URL:                     config.URL,
		MaxConnectionsPerBroker: config.MaxConnectionsPerBroker,
		Authentication:          authentication,
		Logger:                  pulsarlog.NewLoggerWithLogrus(logrus.StandardLogger()),
	})
	return client, errors.WithStack(err)
}

// NewProducer creates a producer for topic named after the producing service.
func NewProducer(client pulsar.Client, name string, topic string) (pulsar.Producer, error) {
	producer, err := client.CreateProducer(pulsar.ProducerOptions{
		Name:            name,
		Topic:           topic,
		CompressionType: pulsar.ZLib,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "error creating pulsar producer %s", name)
	}
	return producer, nil
}

func getTokenPath(config *config.PulsarConfig) (string, error) {
	if strings.ToLower(config.AuthenticationType) != "jwt" {
		return "", errors.WithStack(&uclouderrors.ErrInvalidArgument{
			Name:    "pulsar.AuthenticationType",
			Value:   config.AuthenticationType,
			Message: "Only JWT Authentication for Pulsar is supported right now.",
		})
	}
	if strings.TrimSpace(config.JwtTokenPath) == "" {
		return "", errors.WithStack(&uclouderrors.ErrInvalidArgument{
			Name:    "pulsar.JwtTokenPath",
			Value:   config.JwtTokenPath,
			Message: "JWT authentication was configured for Pulsar but no JwtTokenPath was supplied",
		})
	}
	return config.JwtTokenPath, nil
}
