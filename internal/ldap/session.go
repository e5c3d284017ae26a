package ldap

import (
	"context"
	"errors"
	"sync"

	"github.com/go-ldap/ldap/v3"
)

// Session is a connected, bound directory session used by the paging strategies.
type Session interface {
	// Search issues one search request and returns whatever arrived, even on error.
	Search(ctx context.Context, req *ldap.SearchRequest) (*ldap.SearchResult, error)
	// SupportsControl reports whether the server advertises the control OID.
	SupportsControl(oid string) bool
	// Reconnect closes the underlying connection and opens a fresh one.
	Reconnect(ctx context.Context) error
	Close() error
}

// CapabilitiesOf returns the paging-related controls a session supports.
func CapabilitiesOf(session Session) Capabilities {
	return Capabilities{
		SimplePagedResults: session.SupportsControl(ControlTypePagedResults),
		VirtualListView:    session.SupportsControl(ControlTypeVLVRequest),
		ServerSideSort:     session.SupportsControl(ControlTypeSortRequest),
	}
}

var errSessionClosed = errors.New("directory session is closed")

// DirectorySession is a Session backed by a go-ldap connection.
type DirectorySession struct {
	dialer *Dialer

	mu      sync.Mutex
	conn    *ldap.Conn
	server  *ServerInfo
	rootDSE *RootDSE
}

// Search implements Session.
func (s *DirectorySession) Search(ctx context.Context, req *ldap.SearchRequest) (*ldap.SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return nil, errSessionClosed
	}

	return conn.Search(req)
}

// SupportsControl implements Session.
func (s *DirectorySession) SupportsControl(oid string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rootDSE.Supports(oid)
}

// RootDSE returns the root DSE read when the session was opened.
func (s *DirectorySession) RootDSE() *RootDSE {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rootDSE
}

// Server returns the endpoint the session is connected to.
func (s *DirectorySession) Server() *ServerInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.server
}

// Reconnect implements Session. Server-side VLV context is released with the old connection.
func (s *DirectorySession) Reconnect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}

	conn, server, rootDSE, err := s.dialer.connect(ctx)
	if err != nil {
		return err
	}

	s.conn, s.server, s.rootDSE = conn, server, rootDSE

	LogConnectionEvent(ctx, "session_reopened", map[string]any{
		"server": server.URL(),
	})

	return nil
}

// Close implements Session.
func (s *DirectorySession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil
	}

	err := s.conn.Close()
	s.conn = nil
	return err
}
