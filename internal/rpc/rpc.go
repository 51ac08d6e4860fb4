// Package rpc provides Unix socket IPC between the collector and the sessions CLI.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	netrpc "net/rpc"
	"os"

	"github.com/rs/zerolog"

	"eumbeacon/internal/beacon"
	"eumbeacon/internal/store"
)

// Service is the RPC service exposed by the collector.
type Service struct {
	store *store.Store
	log   zerolog.Logger
}

// ListSessionsArgs is the request for ListSessions.
type ListSessionsArgs struct {
	ActiveOnly bool
}

// ListSessionsReply is the response for ListSessions.
type ListSessionsReply struct {
	Sessions []store.SessionRecord
}

// SessionRecordsArgs is the request for SessionRecords.
type SessionRecordsArgs struct {
	SessionID string
}

// SessionRecordsReply carries the session's records as a JSON-encoded beacon,
// since gob cannot carry the Record interface values.
type SessionRecordsReply struct {
	Beacon []byte
}

// ListSessions returns stored sessions.
func (s *Service) ListSessions(args *ListSessionsArgs, reply *ListSessionsReply) error {
	var (
		sessions []store.SessionRecord
		err      error
	)
	if args.ActiveOnly {
		sessions, err = s.store.GetActive()
	} else {
		sessions, err = s.store.GetAll()
	}
	if err != nil {
		return fmt.Errorf("fetching sessions: %w", err)
	}
	reply.Sessions = sessions
	return nil
}

// SessionRecords returns every record stored for one session.
func (s *Service) SessionRecords(args *SessionRecordsArgs, reply *SessionRecordsReply) error {
	b, err := s.store.Records(args.SessionID)
	if err != nil {
		return fmt.Errorf("fetching records: %w", err)
	}
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("encoding records: %w", err)
	}
	reply.Beacon = data
	return nil
}

// StartServer starts the Unix socket RPC server. It stops accepting and
// removes the socket when ctx is done.
func StartServer(ctx context.Context, socketPath string, db *store.Store, log zerolog.Logger) error {
	service := &Service{store: db, log: log}

	server := netrpc.NewServer()
	if err := server.Register(service); err != nil {
		return fmt.Errorf("registering RPC service: %w", err)
	}

	// Remove stale socket file if present
	os.Remove(socketPath)

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", socketPath, err)
	}

	if err := os.Chmod(socketPath, 0660); err != nil {
		log.Warn().Err(err).Msg("Failed to set socket permissions")
	}

	log.Info().Str("socket", socketPath).Msg("RPC server started")

	go func() {
		<-ctx.Done()
		listener.Close()
		os.Remove(socketPath)
	}()

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				log.Error().Err(err).Msg("RPC accept error")
				continue
			}
			go server.ServeConn(conn)
		}
	}()

	return nil
}

// Client is a client for the eumbeacon RPC service.
type Client struct {
	client *netrpc.Client
}

// NewClient dials the Unix socket and returns an RPC client.
func NewClient(socketPath string) (*Client, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting to RPC socket %s: %w", socketPath, err)
	}
	return &Client{client: netrpc.NewClient(conn)}, nil
}

// Close closes the RPC client connection.
func (c *Client) Close() error {
	return c.client.Close()
}

// ListSessions fetches sessions from the collector.
func (c *Client) ListSessions(activeOnly bool) ([]store.SessionRecord, error) {
	args := &ListSessionsArgs{ActiveOnly: activeOnly}
	reply := &ListSessionsReply{}
	if err := c.client.Call("Service.ListSessions", args, reply); err != nil {
		return nil, err
	}
	return reply.Sessions, nil
}

// SessionRecords fetches and decodes one session's records.
func (c *Client) SessionRecords(sessionID string) (*beacon.Beacon, error) {
	args := &SessionRecordsArgs{SessionID: sessionID}
	reply := &SessionRecordsReply{}
	if err := c.client.Call("Service.SessionRecords", args, reply); err != nil {
		return nil, err
	}
	b := beacon.New()
	if err := json.Unmarshal(reply.Beacon, b); err != nil {
		return nil, fmt.Errorf("decoding records: %w", err)
	}
	return b, nil
}
