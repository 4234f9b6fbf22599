// Package client talks to a remote chatgate admission server.
package client

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	admissionv1 "github.com/ppiankov/chatgate/api/admission/v1"
)

// ReasonUnreachable is the denial reason reported when the server cannot
// be reached.
const ReasonUnreachable = "unreachable"

// DefaultTimeout bounds each RPC.
const DefaultTimeout = 5 * time.Second

// Client connects to a chatgate gRPC admission server.
type Client struct {
	conn    *grpc.ClientConn
	client  admissionv1.AdmissionClient
	timeout time.Duration
}

// New creates a gRPC client connected to the given address.
// Fail-closed: if the server cannot be reached, Decide denies.
func New(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to admission server: %w", err)
	}
	return &Client{
		conn:    conn,
		client:  admissionv1.NewAdmissionClient(conn),
		timeout: DefaultTimeout,
	}, nil
}

// Decide asks the remote server whether a request from address carrying
// sessionID is admitted. Fail-closed: any RPC error yields a denial.
func (c *Client) Decide(ctx context.Context, address, sessionID string) (admissionv1.DecideResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	in, err := admissionv1.DecideRequest{Address: address, SessionID: sessionID}.Struct()
	if err != nil {
		return admissionv1.DecideResponse{}, err
	}

	out, err := c.client.Decide(ctx, in)
	if err != nil {
		// Fail-closed: unreachable server → deny
		return admissionv1.DecideResponse{
			Allowed: false,
			Reason:  ReasonUnreachable,
			Message: fmt.Sprintf("admission server unreachable: %v", err),
		}, nil
	}
	return admissionv1.DecideResponseFrom(out), nil
}

// Lookup returns the stored state of a client by address or fingerprint.
func (c *Client) Lookup(ctx context.Context, req admissionv1.LookupRequest) (admissionv1.LookupResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	in, err := req.Struct()
	if err != nil {
		return admissionv1.LookupResponse{}, err
	}
	out, err := c.client.Lookup(ctx, in)
	if err != nil {
		return admissionv1.LookupResponse{}, err
	}
	return admissionv1.LookupResponseFrom(out), nil
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
