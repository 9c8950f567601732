// Package client dials federation servers on behalf of consumer jobs.
package client

import (
	"crypto/tls"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	pb "github.com/dataferry/ferry/api/proto"
	"github.com/dataferry/ferry/pkg/log"
	"github.com/dataferry/ferry/pkg/types"
)

// Conn is the dialled federation client together with its transport,
// which the caller closes when the exchange finishes.
type Conn struct {
	Federation pb.FederationClient
	conn       *grpc.ClientConn
}

// Close releases the underlying transport
func (c *Conn) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// Factory creates connections to federation servers
type Factory interface {
	Dial(target types.ConnectionTarget) (*Conn, error)
}

// GRPCFactory dials federation servers over gRPC, with TLS unless the
// target opts out.
type GRPCFactory struct{}

func NewGRPCFactory() *GRPCFactory {
	return &GRPCFactory{}
}

func (f *GRPCFactory) Dial(target types.ConnectionTarget) (*Conn, error) {
	var creds credentials.TransportCredentials
	if target.TLS {
		creds = credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	} else {
		logger := log.WithComponent("client")
		logger.Warn().
			Str("server", target.ServerName).
			Msg("dialling without transport security")
		creds = insecure.NewCredentials()
	}

	conn, err := grpc.NewClient(target.Address(), grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", target.Address(), err)
	}

	return &Conn{Federation: pb.NewFederationClient(conn), conn: conn}, nil
}
