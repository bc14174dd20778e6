// Package mqtt publishes retained GTFS-Realtime messages to an MQTT v5 broker.
package mqtt

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/dpup/prefab/logging"
	"github.com/eclipse/paho.golang/paho"
	"github.com/google/uuid"
)

const (
	DefaultPort       = "1883"
	DefaultTLSPort    = "8883"
	DefaultExpiration = 600 // seconds
	DefaultKeepAlive  = 30  // seconds
)

// BrokerURI is a parsed mqtt://[user:pass@]host[:port]/topic URI
type BrokerURI struct {
	Host     string
	Port     string
	Username string
	Password string
	Topic    string // may contain the alert id placeholder
	TLS      bool
}

// Address returns host:port
func (b BrokerURI) Address() string {
	return net.JoinHostPort(b.Host, b.Port)
}

// ParseURI parses a broker URI. The topic is the URI path without the leading slash.
func ParseURI(raw string) (BrokerURI, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return BrokerURI{}, fmt.Errorf("invalid MQTT URI: %w", err)
	}

	var b BrokerURI
	switch u.Scheme {
	case "mqtt", "tcp":
		b.Port = DefaultPort
	case "mqtts", "ssl", "tls":
		b.Port = DefaultTLSPort
		b.TLS = true
	default:
		return BrokerURI{}, fmt.Errorf("unsupported MQTT URI scheme %q", u.Scheme)
	}

	b.Host = u.Hostname()
	if b.Host == "" {
		return BrokerURI{}, fmt.Errorf("MQTT URI without host")
	}
	if port := u.Port(); port != "" {
		b.Port = port
	}

	if u.User != nil {
		b.Username = u.User.Username()
		b.Password, _ = u.User.Password()
	}

	b.Topic = strings.TrimPrefix(u.Path, "/")
	if b.Topic == "" {
		return BrokerURI{}, fmt.Errorf("MQTT URI without topic")
	}

	return b, nil
}

// Options configure a broker connection
type Options struct {
	ClientID   string
	KeepAlive  uint16 // seconds
	Expiration uint32 // message expiry in seconds, 0 disables expiry
}

// Client is a connected MQTT v5 session
type Client struct {
	paho       *paho.Client
	expiration uint32
	address    string
}

// Dial connects to the broker described by uri
func Dial(ctx context.Context, uri BrokerURI, opts Options) (*Client, error) {
	if opts.ClientID == "" {
		opts.ClientID = "gtfs-incident-alerts-" + uuid.NewString()[:8]
	}
	if opts.KeepAlive == 0 {
		opts.KeepAlive = DefaultKeepAlive
	}

	var conn net.Conn
	var err error
	dialer := &net.Dialer{Timeout: 10 * time.Second}
	if uri.TLS {
		tlsDialer := &tls.Dialer{NetDialer: dialer, Config: &tls.Config{ServerName: uri.Host}}
		conn, err = tlsDialer.DialContext(ctx, "tcp", uri.Address())
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", uri.Address())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to broker %s: %w", uri.Address(), err)
	}

	client := paho.NewClient(paho.ClientConfig{Conn: conn})

	connect := &paho.Connect{
		KeepAlive:  opts.KeepAlive,
		ClientID:   opts.ClientID,
		CleanStart: true,
	}
	if uri.Username != "" {
		connect.Username = uri.Username
		connect.UsernameFlag = true
	}
	if uri.Password != "" {
		connect.Password = []byte(uri.Password)
		connect.PasswordFlag = true
	}

	ack, err := client.Connect(ctx, connect)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to connect to broker %s: %w", uri.Address(), err)
	}
	if ack.ReasonCode != 0 {
		conn.Close()
		return nil, fmt.Errorf("broker %s refused connection: reason code %d", uri.Address(), ack.ReasonCode)
	}

	logging.Infow(ctx, "MQTT: connected", "broker", uri.Address(), "client_id", opts.ClientID)

	return &Client{paho: client, expiration: opts.Expiration, address: uri.Address()}, nil
}

// Publish sends a retained QoS 0 message with the configured expiry
func (c *Client) Publish(ctx context.Context, topic string, payload []byte) error {
	msg := &paho.Publish{
		Topic:   topic,
		QoS:     0,
		Retain:  true,
		Payload: payload,
	}
	if c.expiration > 0 {
		expiry := c.expiration
		msg.Properties = &paho.PublishProperties{MessageExpiry: &expiry}
	}

	if _, err := c.paho.Publish(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

// Close disconnects from the broker
func (c *Client) Close() error {
	return c.paho.Disconnect(&paho.Disconnect{ReasonCode: 0})
}
