// Package types holds the shared domain types of the data plane:
// configuration document shapes, connection targets, job parameters and
// the persisted key layout.
package types

import (
	"fmt"
	"strings"
	"time"
)

// DefaultManagementNodeID is the sentinel id used when no management node
// has been configured for a job or a configuration lookup.
const DefaultManagementNodeID = "default"

const (
	// DefaultServerPort is used when a producer descriptor omits the port.
	DefaultServerPort = 50051
	// DefaultTLS is used when a producer descriptor omits the tls flag.
	DefaultTLS = true
)

// ScheduleType selects how a schedule expression is interpreted
type ScheduleType string

const (
	ScheduleTypeInterval ScheduleType = "interval"
	ScheduleTypeCron     ScheduleType = "cron"
)

// DefaultScheduleInterval is the fallback applied when a schedule
// expression cannot be parsed.
const DefaultScheduleInterval = time.Hour

// ProductType distinguishes topic streams from file exchanges
type ProductType string

const (
	ProductTypeTopic ProductType = "topic"
	ProductTypeFile  ProductType = "file"
)

// ConnectionTarget identifies a remote producer server for one client.
// It is derived from a producer descriptor during a reconcile and lives
// only for the duration of that reconcile.
type ConnectionTarget struct {
	ClientName string
	ClientKey  string
	ServerName string
	ServerHost string
	ServerPort int
	TLS        bool
}

// NewConnectionTarget derives a normalised target from raw descriptor
// fields. The server name keeps alphanumerics only and the host is
// stripped of any http:// or https:// prefix. Missing port and tls take
// the package defaults.
func NewConnectionTarget(clientName, clientKey, serverName, serverHost string, port *int, tls *bool) ConnectionTarget {
	t := ConnectionTarget{
		ClientName: clientName,
		ClientKey:  clientKey,
		ServerName: CleanServerName(serverName),
		ServerHost: StripScheme(serverHost),
		ServerPort: DefaultServerPort,
		TLS:        DefaultTLS,
	}
	if port != nil {
		t.ServerPort = *port
	}
	if tls != nil {
		t.TLS = *tls
	}
	return t
}

// Prefix returns the client-side key prefix used for offsets, combining
// the client key and the normalised server name.
func (t ConnectionTarget) Prefix() string {
	return t.ClientKey + "-" + t.ServerName
}

// Address returns the host:port dial address
func (t ConnectionTarget) Address() string {
	return fmt.Sprintf("%s:%d", t.ServerHost, t.ServerPort)
}

// CleanServerName strips every non-alphanumeric character from a producer
// name. Names reduced to nothing become the literal "Producer". Names that
// differ only in punctuation collide after cleaning; the scheduler logs
// such clashes when it sees them.
func CleanServerName(name string) string {
	var b strings.Builder
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "Producer"
	}
	return b.String()
}

// StripScheme removes a leading http:// or https:// from a host
func StripScheme(host string) string {
	host = strings.TrimPrefix(host, "https://")
	host = strings.TrimPrefix(host, "http://")
	return host
}

// FilterAttribute is a header predicate attached to a consumer: a record
// passes when a header with the attribute's name carries its value.
type FilterAttribute struct {
	Name  string `json:"name"`
	Value string `json:"value"`
	Type  string `json:"type,omitempty"`
}

// ConsumerDescriptor names a consumer entitled to a product, plus the
// attribute predicates applied to every record served to it.
type ConsumerDescriptor struct {
	IdpClientID string            `json:"idpClientId"`
	Attributes  []FilterAttribute `json:"attributes"`
}

// ProductConsumerDescriptor carries the per-consumer delivery settings of
// a product: where file payloads land and how often the job runs.
type ProductConsumerDescriptor struct {
	Destination        string       `json:"destination,omitempty"`
	ScheduleType       ScheduleType `json:"scheduleType"`
	ScheduleExpression string       `json:"scheduleExpression"`
}

// ProductDescriptor is one named unit of data exposed by a producer,
// either a topic stream or a file exchange.
type ProductDescriptor struct {
	Name           string                      `json:"name"`
	Topic          string                      `json:"topic"`
	Type           ProductType                 `json:"type"`
	Source         string                      `json:"source,omitempty"`
	Configurations []ProductConsumerDescriptor `json:"configurations"`
	Consumers      []ConsumerDescriptor        `json:"consumers"`
}

// FirstConfiguration returns the product's first consumer configuration.
// Any further configurations are ignored; callers log a warning when more
// than one is present.
func (p *ProductDescriptor) FirstConfiguration() (ProductConsumerDescriptor, bool) {
	if len(p.Configurations) == 0 {
		return ProductConsumerDescriptor{}, false
	}
	return p.Configurations[0], true
}

// ProducerDescriptor describes one remote producer node and its products
type ProducerDescriptor struct {
	Name        string              `json:"name"`
	Host        string              `json:"host"`
	Port        *int                `json:"port,omitempty"`
	TLS         *bool               `json:"tls,omitempty"`
	IdpClientID string              `json:"idpClientId"`
	Products    []ProductDescriptor `json:"products"`
}

// Valid reports whether the descriptor carries enough to derive jobs from
func (p *ProducerDescriptor) Valid() bool {
	return p.Name != "" && p.Host != "" && len(p.Products) > 0
}

// ProducerConfig is the management plane's answer to "what may this
// process serve".
type ProducerConfig struct {
	ClientID  string               `json:"clientId"`
	Producers []ProducerDescriptor `json:"producers"`
}

// ConsumerConfig is the management plane's answer to "what should this
// process consume". Same shape as ProducerConfig, viewed from the
// consumer role.
type ConsumerConfig struct {
	ClientID  string               `json:"clientId"`
	Producers []ProducerDescriptor `json:"producers"`
}

// JobParams carries everything a recurring job needs for one tick. The
// struct is flat and comparable; the scheduler reconciles on structural
// equality.
type JobParams struct {
	JobID                   string
	JobName                 string
	ScheduleType            ScheduleType
	ScheduleExpression      string
	Retries                 int
	ManagementNodeID        string
	RequireImmediateTrigger bool

	// Topic-stream and file-exchange jobs
	Topic  string
	Target ConnectionTarget

	// File-exchange jobs only
	SourcePath      string
	DestinationPath string
}

// NodeID returns the management node id, falling back to the sentinel
func (p JobParams) NodeID() string {
	if p.ManagementNodeID == "" {
		return DefaultManagementNodeID
	}
	return p.ManagementNodeID
}

// APIKeyDetails holds the hashed API key material of an access-map entry
type APIKeyDetails struct {
	HashedKey string    `json:"hashedKey"`
	Salt      string    `json:"salt"`
	Issued    time.Time `json:"issued"`
	Revoked   bool      `json:"revoked"`
}

// AccessDetails is the stored record for the access-map authentication
// variant: a registered client, the topics it may read, and its key.
type AccessDetails struct {
	RegisteredClient string        `json:"registeredClient"`
	Topics           []string      `json:"topics"`
	API              APIKeyDetails `json:"api"`
}
